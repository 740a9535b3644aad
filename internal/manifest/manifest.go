// Package manifest is the durable record of what has been synced to a
// target. One versioned JSON document lives at the target root, so the
// record travels with the device. The sync engine is the only writer;
// commits replace the file atomically.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileName is the manifest document at the target root.
const FileName = ".tunesync-manifest.json"

// SchemaVersion is the current document format version.
const SchemaVersion = 1

// ErrCorrupt marks a manifest file that exists but cannot be parsed
// or carries an unknown schema version. Surfaced distinctly so the
// caller can decide between aborting and starting fresh.
var ErrCorrupt = errors.New("manifest: document corrupt")

// Entry records one successfully synced item.
type Entry struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SyncedAt    time.Time `json:"synced_at"`
	Status      string    `json:"status"`
}

// StatusSynced is the only entry status this schema version writes.
const StatusSynced = "synced"

type document struct {
	Version   int              `json:"version"`
	ServerURL string           `json:"server_url,omitempty"`
	LastSync  time.Time        `json:"last_sync"`
	Entries   map[string]Entry `json:"entries"`
}

// Store holds the in-memory document for one target and persists it.
type Store struct {
	mu    sync.Mutex
	path  string
	doc   document
	dirty bool
}

// Load reads the manifest from the target root. A missing file yields
// an empty document at the current schema version. A present but
// unparsable file fails with ErrCorrupt.
func Load(root string) (*Store, error) {
	path := filepath.Join(root, FileName)
	s := &Store{
		path: path,
		doc: document{
			Version: SchemaVersion,
			Entries: make(map[string]Entry),
		},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", FileName, err, ErrCorrupt)
	}
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported manifest version %d: %w", doc.Version, ErrCorrupt)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	s.doc = doc
	return s, nil
}

// Reset discards any on-disk state and starts an empty document. Used
// when the caller chooses to treat a corrupt target as unsynced.
func Reset(root string) *Store {
	return &Store{
		path: filepath.Join(root, FileName),
		doc: document{
			Version: SchemaVersion,
			Entries: make(map[string]Entry),
		},
		dirty: true,
	}
}

// SetServerURL records which catalog server this target syncs from.
func (s *Store) SetServerURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.ServerURL != url {
		s.doc.ServerURL = url
		s.dirty = true
	}
}

// RecordSuccess upserts one entry keyed by catalog ID. Safe to call
// repeatedly for the same item within a run.
func (s *Store) RecordSuccess(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Status = StatusSynced
	if e.SyncedAt.IsZero() {
		e.SyncedAt = time.Now().UTC()
	}
	s.doc.Entries[e.ID] = e
	s.doc.LastSync = e.SyncedAt
	s.dirty = true
}

// Has looks up an entry by catalog ID.
func (s *Store) Has(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[id]
	return e, ok
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.Entries)
}

// Dirty reports whether there are uncommitted changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Entries returns a snapshot of all entries sorted by path.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.doc.Entries))
	for _, e := range s.doc.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Commit persists the document atomically: marshal to a temp file in
// the same directory, fsync, then rename over the final path. A crash
// before the rename leaves the previous document intact; a crash
// during never exposes a partial file.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*")
	if err != nil {
		return fmt.Errorf("create manifest temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync manifest temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace manifest: %w", err)
	}

	s.dirty = false
	return nil
}
