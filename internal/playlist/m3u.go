// Package playlist generates M3U files for synced playlists.
package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Generate builds M3U content from track filenames. Entries are kept
// relative (bare filenames) for compatibility with portable players.
func Generate(tracks []string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, t := range tracks {
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return b.String()
}

// Write places <name>.m3u8 inside the playlist's directory via the
// usual temp-then-rename discipline.
func Write(dir, name string, tracks []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create playlist dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".m3u8.*")
	if err != nil {
		return fmt.Errorf("create playlist temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Generate(tracks)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close playlist temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name+".m3u8")); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace playlist: %w", err)
	}
	return nil
}
