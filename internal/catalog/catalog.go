package catalog

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for catalog failures. Transport-level problems
// (timeouts, resets, 5xx) are wrapped with ErrUnavailable so callers
// can classify them as retryable.
var (
	ErrNotFound     = errors.New("catalog: item not found")
	ErrUnauthorized = errors.New("catalog: unauthorized")
	ErrUnavailable  = errors.New("catalog: server unavailable")
)

// GroupKind distinguishes what an item's Group refers to.
type GroupKind string

const (
	GroupAlbum    GroupKind = "album"
	GroupPlaylist GroupKind = "playlist"
)

// Item is one syncable unit of the catalog. Immutable once listed
// for a run.
type Item struct {
	ID      string
	Title   string
	Artist  string
	GroupID string
	Group   string
	Kind    GroupKind
	Track   int
	Suffix  string
	Size    int64
}

// Selection names the albums and playlists the user picked for a run.
type Selection struct {
	AlbumIDs    []string
	PlaylistIDs []string
}

// Empty reports whether nothing was selected.
func (s Selection) Empty() bool {
	return len(s.AlbumIDs) == 0 && len(s.PlaylistIDs) == 0
}

// Client is the catalog collaborator consumed by the sync core.
// Implementations must be safe for concurrent use.
type Client interface {
	// ListSelectedItems expands a selection into the full set of items
	// to consider for sync, in group order.
	ListSelectedItems(ctx context.Context, sel Selection) ([]Item, error)

	// OpenStream acquires the byte stream for one item. The caller
	// owns the returned reader and must close it.
	OpenStream(ctx context.Context, id string) (io.ReadCloser, error)
}
