package worker

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"tunesync/internal/catalog"
	"tunesync/internal/device"
	"tunesync/internal/planner"
	"tunesync/internal/progress"

	"go.uber.org/zap"
)

// fakeSource scripts per-item stream behavior.
type fakeSource struct {
	mu        sync.Mutex
	data      map[string][]byte
	transient map[string]int   // failures to serve before succeeding
	permanent map[string]error // always fail with this error
	midstream map[string]bool  // fail partway through every read
	opens     map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:      make(map[string][]byte),
		transient: make(map[string]int),
		permanent: make(map[string]error),
		midstream: make(map[string]bool),
		opens:     make(map[string]int),
	}
}

func (f *fakeSource) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens[id]++
	if err := f.permanent[id]; err != nil {
		return nil, err
	}
	if f.transient[id] > 0 {
		f.transient[id]--
		return nil, fmt.Errorf("connection reset: %w", catalog.ErrUnavailable)
	}
	if f.midstream[id] {
		return io.NopCloser(&brokenReader{data: f.data[id][:len(f.data[id])/2]}), nil
	}
	return io.NopCloser(bytes.NewReader(f.data[id])), nil
}

func (f *fakeSource) openCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[id]
}

// brokenReader yields its data then fails instead of EOF.
type brokenReader struct {
	data []byte
	off  int
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.off >= len(b.data) {
		return 0, fmt.Errorf("stream interrupted: %w", catalog.ErrUnavailable)
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}

func fetchTask(id string) planner.Task {
	return planner.Task{
		Item:   catalog.Item{ID: id, Title: id, GroupID: "g", Group: "g", Track: 1, Suffix: "mp3"},
		Path:   filepath.Join("Artists", "g", id+".mp3"),
		Action: planner.ActionFetch,
	}
}

func newProcessor(t *testing.T, src *fakeSource, retries int) (*processor, string) {
	t.Helper()
	root := t.TempDir()
	target, err := device.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return &processor{
		config:  Config{Retries: retries, RetryBackoff: time.Millisecond},
		catalog: src,
		target:  target,
		logger:  zap.NewNop(),
	}, root
}

func assertNoPartials(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, ".tunesync-tmp"))
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %d leftover files", len(entries))
	}
}

func TestRunRetryThenSuccess(t *testing.T) {
	src := newFakeSource()
	payload := []byte("some audio bytes")
	src.data["s1"] = payload
	src.transient["s1"] = 2

	proc, root := newProcessor(t, src, 3)
	out := proc.run(context.Background(), fetchTask("s1"))

	if !out.OK() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if out.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", out.Size, len(payload))
	}

	wantSum := md5.Sum(payload)
	if out.Fingerprint != hex.EncodeToString(wantSum[:]) {
		t.Errorf("fingerprint mismatch: %s", out.Fingerprint)
	}

	got, err := os.ReadFile(filepath.Join(root, out.Task.Path))
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("destination bytes differ from source")
	}
	assertNoPartials(t, root)
}

func TestRunPermanentErrorFailsWithoutRetry(t *testing.T) {
	src := newFakeSource()
	src.permanent["s1"] = fmt.Errorf("no such song: %w", catalog.ErrNotFound)

	proc, root := newProcessor(t, src, 3)
	out := proc.run(context.Background(), fetchTask("s1"))

	if out.OK() {
		t.Fatal("expected failure")
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, permanent errors must not consume retry budget", out.Attempts)
	}
	if out.Class != ClassPermanent {
		t.Errorf("class = %s, want permanent", out.Class)
	}
	if src.openCount("s1") != 1 {
		t.Errorf("open count = %d, want 1", src.openCount("s1"))
	}
	assertNoPartials(t, root)
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	src := newFakeSource()
	src.data["s1"] = []byte("x")
	src.transient["s1"] = 100

	proc, root := newProcessor(t, src, 3)
	out := proc.run(context.Background(), fetchTask("s1"))

	if out.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(out.Err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if _, err := os.Stat(filepath.Join(root, out.Task.Path)); !errors.Is(err, os.ErrNotExist) {
		t.Error("destination must not exist after exhaustion")
	}
	assertNoPartials(t, root)
}

func TestRunMidStreamFailureLeavesNoDestinationFile(t *testing.T) {
	src := newFakeSource()
	src.data["s1"] = []byte("0123456789abcdef")
	src.midstream["s1"] = true

	proc, root := newProcessor(t, src, 2)
	out := proc.run(context.Background(), fetchTask("s1"))

	if out.OK() {
		t.Fatal("expected failure")
	}
	if _, err := os.Stat(filepath.Join(root, out.Task.Path)); !errors.Is(err, os.ErrNotExist) {
		t.Error("a file observed at a destination path must always be complete")
	}
	assertNoPartials(t, root)
}

// fullDevice hands out write handles that fail like a device with no
// free space.
type fullDevice struct{}

func (fullDevice) WriteTemp() (*os.File, error) {
	return os.OpenFile("/dev/full", os.O_WRONLY, 0)
}

func (fullDevice) MoveIntoPlace(_, _ string) error { panic("not reached") }

func TestRunFailsFastWhenDeviceFillsMidCopy(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	src := newFakeSource()
	src.data["s1"] = []byte("some audio bytes")

	proc, _ := newProcessor(t, src, 3)
	proc.target = fullDevice{}

	out := proc.run(context.Background(), fetchTask("s1"))
	if out.OK() {
		t.Fatal("expected failure")
	}
	if out.Class != ClassFatal {
		t.Errorf("class = %s, a full device must abort the run", out.Class)
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, a full device must not consume retry budget", out.Attempts)
	}
	if !errors.Is(out.Err, syscall.ENOSPC) {
		t.Errorf("expected ENOSPC in chain, got %v", out.Err)
	}
}

func TestRunEmitsStartEvent(t *testing.T) {
	src := newFakeSource()
	src.data["s1"] = []byte("x")

	events := make(chan progress.Event, 4)
	proc, _ := newProcessor(t, src, 3)
	proc.config.Events = events

	if out := proc.run(context.Background(), fetchTask("s1")); !out.OK() {
		t.Fatal(out.Err)
	}

	select {
	case e := <-events:
		if e.Kind != progress.TaskStarted || e.ItemID != "s1" {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Fatal("no started event emitted")
	}
}

func TestRunCancelledBeforeAttempt(t *testing.T) {
	src := newFakeSource()
	src.data["s1"] = []byte("x")

	proc, _ := newProcessor(t, src, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := proc.run(ctx, fetchTask("s1"))
	if out.OK() {
		t.Fatal("expected failure")
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", out.Err)
	}
	if src.openCount("s1") != 0 {
		t.Error("cancelled task must not open a stream")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"not found", catalog.ErrNotFound, ClassPermanent},
		{"unauthorized", catalog.ErrUnauthorized, ClassPermanent},
		{"write denied", os.ErrPermission, ClassPermanent},
		{"unavailable", catalog.ErrUnavailable, ClassTransient},
		{"wrapped unavailable", fmt.Errorf("timeout: %w", catalog.ErrUnavailable), ClassTransient},
		{"no space", device.ErrNoSpace, ClassFatal},
		{"raw enospc from a write", &os.PathError{Op: "write", Path: "fetch-1.part", Err: syscall.ENOSPC}, ClassFatal},
		{"target unplugged", &os.PathError{Op: "write", Path: "fetch-2.part", Err: syscall.ENODEV}, ClassFatal},
		{"target unmounted", &os.PathError{Op: "open", Path: ".tunesync-tmp", Err: syscall.ENXIO}, ClassFatal},
		{"cancelled", context.Canceled, ClassFatal},
		{"unknown io error", errors.New("read: something odd"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDoubles(t *testing.T) {
	p := &processor{config: Config{RetryBackoff: 100 * time.Millisecond}}
	if p.backoff(1) != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v", p.backoff(1))
	}
	if p.backoff(2) != 200*time.Millisecond {
		t.Errorf("backoff(2) = %v", p.backoff(2))
	}
	if p.backoff(3) != 400*time.Millisecond {
		t.Errorf("backoff(3) = %v", p.backoff(3))
	}
}
