//go:build unix

package precondition

import "golang.org/x/sys/unix"

// availableBytes returns the free space (in bytes) on the filesystem
// containing path, as reported by the available-to-unprivileged-users
// counter rather than total free space.
func availableBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
