// Package state persists and restores download session progress so an
// interrupted or restarted run can resume from the chunk level rather
// than starting over.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	stateFileName   = "download_state.json"
	chunksDirPrefix = "chunks-"
	partSuffix      = ".part"
	dirPerm         = 0755
	filePerm        = 0644

	// SchemaVersion is the current on-disk snapshot schema version. A
	// snapshot written by a newer, unrecognized schema version is treated
	// as "no prior state" rather than an error, so a downgraded binary
	// degrades to a fresh download instead of refusing to run.
	SchemaVersion = 1
)

// Layout resolves the on-disk paths for one download session. Under the
// root sit the tier's artifact directory, the session-scoped chunk
// scratch directory, and a single download_state.json; the snapshot and
// scratch directories are root-level siblings of the tier folder, and
// at most one session snapshot exists at a time.
type Layout struct {
	// RootDir is the user-chosen download root.
	RootDir string
	// TierFolderName is the stable folder name for the active tier
	// (e.g. "low", "medium", "high").
	TierFolderName string
	// SessionID scopes the chunk scratch directory to one session so
	// concurrent or stale sessions never collide.
	SessionID string
}

// TierDir returns <root>/<tierFolderName>, where completed artifacts land.
func (l Layout) TierDir() string {
	return filepath.Join(l.RootDir, l.TierFolderName)
}

// ArtifactPath returns the final path for a named artifact within the
// tier directory.
func (l Layout) ArtifactPath(fileName string) string {
	return filepath.Join(l.TierDir(), fileName)
}

// ChunksDir returns the scratch directory chunks for this session are
// written into, <root>/chunks-<sessionId>/.
func (l Layout) ChunksDir() string {
	return filepath.Join(l.RootDir, chunksDirPrefix+l.SessionID)
}

// ChunkPartPath returns the scratch path for one chunk of one file, e.g.
// chunks-<sessionId>/<fileName>.<chunkIndex>.part.
func (l Layout) ChunkPartPath(fileName string, chunkIndex int) string {
	return filepath.Join(l.ChunksDir(), fmt.Sprintf("%s.%d%s", fileName, chunkIndex, partSuffix))
}

// StatePath returns the path to the root-level download_state.json.
func (l Layout) StatePath() string {
	return filepath.Join(l.RootDir, stateFileName)
}

// EnsureDirs creates the tier and chunk scratch directories.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.TierDir(), l.ChunksDir()} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}
	return nil
}

// Reset deletes the tier's merged artifacts, every chunk scratch
// directory under the root (stale sessions included), and the state
// snapshot.
func (l Layout) Reset() error {
	if err := os.RemoveAll(l.TierDir()); err != nil {
		return fmt.Errorf("remove tier dir: %w", err)
	}
	scratch, err := filepath.Glob(filepath.Join(l.RootDir, chunksDirPrefix+"*"))
	if err != nil {
		return fmt.Errorf("list chunk scratch dirs: %w", err)
	}
	for _, d := range scratch {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("remove chunk scratch dir %s: %w", d, err)
		}
	}
	err = os.Remove(l.StatePath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
