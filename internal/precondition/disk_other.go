//go:build !unix

package precondition

import "fmt"

// availableBytes has no portable implementation outside unix-like
// systems in this build; callers treat the error as "could not verify
// free space" rather than failing the precondition outright.
func availableBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("disk space check unsupported on this platform")
}
