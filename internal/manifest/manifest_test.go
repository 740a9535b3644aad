package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	root := t.TempDir()

	s, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty document, got %d entries", s.Len())
	}
	if s.Dirty() {
		t.Error("fresh empty document should not be dirty")
	}
}

func TestRecordCommitReload(t *testing.T) {
	root := t.TempDir()

	s, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.RecordSuccess(Entry{ID: "song-1", Path: "Artists/A/B/01 - x.mp3", Size: 1234, Fingerprint: "abc"})
	s.RecordSuccess(Entry{ID: "song-2", Path: "Artists/A/B/02 - y.mp3", Size: 99})

	if !s.Dirty() {
		t.Fatal("expected dirty after RecordSuccess")
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.Dirty() {
		t.Error("expected clean after Commit")
	}

	reloaded, err := Load(root)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", reloaded.Len())
	}

	e, ok := reloaded.Has("song-1")
	if !ok {
		t.Fatal("song-1 missing after reload")
	}
	if e.Size != 1234 || e.Fingerprint != "abc" || e.Status != StatusSynced {
		t.Errorf("unexpected entry after reload: %+v", e)
	}
	if e.SyncedAt.IsZero() {
		t.Error("SyncedAt should be stamped")
	}
}

func TestRecordSuccessIsIdempotentUpsert(t *testing.T) {
	root := t.TempDir()
	s, _ := Load(root)

	for i := 0; i < 3; i++ {
		s.RecordSuccess(Entry{ID: "song-1", Path: "p", Size: int64(100 + i)})
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
	e, _ := s.Has("song-1")
	if e.Size != 102 {
		t.Errorf("expected last write to win, got size %d", e.Size)
	}
}

func TestLoadCorruptManifest(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(root)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadUnknownVersionIsCorrupt(t *testing.T) {
	root := t.TempDir()
	doc := `{"version": 99, "entries": {}}`
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(root)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for unknown version, got %v", err)
	}
}

func TestCommitLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, _ := Load(root)
	s.RecordSuccess(Entry{ID: "a", Path: "p", Size: 1})
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != FileName && strings.HasPrefix(e.Name(), FileName) {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestCommitPreservesPreviousDocumentUntilReplace(t *testing.T) {
	root := t.TempDir()
	s, _ := Load(root)
	s.RecordSuccess(Entry{ID: "a", Path: "p", Size: 1})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	// A second store mutated but never committed must not disturb the
	// on-disk document.
	s2, _ := Load(root)
	s2.RecordSuccess(Entry{ID: "b", Path: "q", Size: 2})

	reloaded, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("uncommitted change leaked to disk: %d entries", reloaded.Len())
	}
}

func TestResetStartsEmptyAndDirty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Reset(root)
	if s.Len() != 0 {
		t.Errorf("reset store should be empty")
	}
	if !s.Dirty() {
		t.Error("reset store should be dirty so the fresh document commits")
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit after reset: %v", err)
	}
	if _, err := Load(root); err != nil {
		t.Fatalf("reload after reset commit: %v", err)
	}
}
