package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"tunesync/internal/catalog"
)

const tempDirName = ".tunesync-tmp"

// FS is a Target over a mounted filesystem. Audio lands under
// Artists/<artist>/<album>/ or Playlists/<name>/, temp files under a
// hidden directory at the root so renames never cross filesystems.
type FS struct {
	root string
}

// NewFS creates a filesystem target rooted at mountPoint. Opening a
// target writes nothing; the temp directory appears on first WriteTemp.
func NewFS(mountPoint string) (*FS, error) {
	info, err := os.Stat(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", mountPoint, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %s is not a directory", mountPoint)
	}
	return &FS{root: mountPoint}, nil
}

func (f *FS) Root() string { return f.root }

// ResolvePath lays tracks out the way portable players expect:
// albums under Artists/<artist>/<album>/<NN - title.ext>, playlist
// entries under Playlists/<name>/<NN - title.ext>.
func (f *FS) ResolvePath(item catalog.Item) string {
	track := item.Track
	if track < 1 {
		track = 1
	}
	name := fmt.Sprintf("%02d - %s.%s", track, SanitizeFilename(item.Title), item.Suffix)

	if item.Kind == catalog.GroupPlaylist {
		return filepath.Join("Playlists", SanitizeFilename(item.Group), name)
	}
	return filepath.Join("Artists", SanitizeFilename(item.Artist), SanitizeFilename(item.Group), name)
}

func (f *FS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(filepath.Join(f.root, path))
	if errors.Is(err, os.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Exists: true, Size: info.Size()}, nil
}

func (f *FS) WriteTemp() (*os.File, error) {
	dir := filepath.Join(f.root, tempDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapNoSpace(err)
	}
	tmp, err := os.CreateTemp(dir, "fetch-*.part")
	if err != nil {
		return nil, wrapNoSpace(err)
	}
	return tmp, nil
}

func (f *FS) MoveIntoPlace(tmpPath, finalPath string) error {
	dst := filepath.Join(f.root, finalPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return wrapNoSpace(err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return wrapNoSpace(err)
	}
	return nil
}

func (f *FS) AvailableSpace() (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(f.root, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

func wrapNoSpace(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%v: %w", err, ErrNoSpace)
	}
	return err
}
