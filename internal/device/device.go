// Package device is the target collaborator: path layout, stat,
// temp-file writes and atomic moves on the mounted storage device.
package device

import (
	"errors"
	"os"

	"tunesync/internal/catalog"
)

// ErrNoSpace marks an out-of-disk-space condition on the target. It
// aborts the whole run rather than a single task.
var ErrNoSpace = errors.New("device: no space left on target")

// FileInfo is the result of a Stat call.
type FileInfo struct {
	Exists bool
	Size   int64
}

// Target abstracts the storage device so the sync core never touches
// hardware or shells out. Paths are relative to the target root.
type Target interface {
	// Root returns the mount point of the target.
	Root() string

	// ResolvePath maps an item to its destination path, relative to
	// the target root.
	ResolvePath(item catalog.Item) string

	// Stat reports existence and size of a target-relative path.
	Stat(path string) (FileInfo, error)

	// WriteTemp opens a fresh temporary file on the same filesystem
	// as the destinations, so MoveIntoPlace is an atomic rename.
	WriteTemp() (*os.File, error)

	// MoveIntoPlace atomically publishes a completed temp file at the
	// destination, creating parent directories as needed. tmp is an
	// absolute path, final is target-relative.
	MoveIntoPlace(tmpPath, finalPath string) error

	// AvailableSpace returns free bytes on the target filesystem.
	AvailableSpace() (int64, error)
}
