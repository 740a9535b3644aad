package progress

import (
	"sync"
	"time"
)

// Status is a snapshot of run progress.
type Status struct {
	TotalItems     int64
	ProcessedItems int64
	FetchedItems   int64
	FailedItems    int64
	SkippedItems   int64
	TotalBytes     int64
	ProcessedBytes int64
	StartTime      time.Time
	CurrentSpeed   float64 // bytes/second over the recent window
	ETA            time.Duration
}

// Tracker accumulates progress counters for one run. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	status  Status
	samples []speedSample
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

const (
	maxSamples  = 60
	speedWindow = 5 * time.Second
)

// NewTracker creates a tracker with the clock started.
func NewTracker() *Tracker {
	return &Tracker{
		status:  Status{StartTime: time.Now()},
		samples: make([]speedSample, 0, maxSamples),
	}
}

// SetTotal sets the expected item and byte totals.
func (t *Tracker) SetTotal(items, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalItems = items
	t.status.TotalBytes = bytes
}

// AddFetched records one successfully downloaded item.
func (t *Tracker) AddFetched(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FetchedItems++
	t.status.ProcessedItems++
	t.status.ProcessedBytes += bytes
	t.updateSpeed(bytes)
}

// AddFailed records one failed item.
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FailedItems++
	t.status.ProcessedItems++
}

// AddSkipped records one item already intact on the target.
func (t *Tracker) AddSkipped(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SkippedItems++
	t.status.ProcessedItems++
	t.status.ProcessedBytes += bytes
	t.updateSpeed(bytes)
}

// GetStatus returns a copy of the current status.
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// updateSpeed must be called with the lock held.
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()
	t.samples = append(t.samples, speedSample{timestamp: now, bytes: bytes})
	if len(t.samples) > maxSamples {
		t.samples = t.samples[1:]
	}

	var windowBytes int64
	var oldest time.Time
	for _, s := range t.samples {
		if now.Sub(s.timestamp) > speedWindow {
			continue
		}
		if oldest.IsZero() || s.timestamp.Before(oldest) {
			oldest = s.timestamp
		}
		windowBytes += s.bytes
	}

	elapsed := now.Sub(oldest).Seconds()
	if elapsed > 0 {
		t.status.CurrentSpeed = float64(windowBytes) / elapsed
	}

	if t.status.CurrentSpeed > 0 && t.status.TotalBytes > t.status.ProcessedBytes {
		remaining := float64(t.status.TotalBytes - t.status.ProcessedBytes)
		t.status.ETA = time.Duration(remaining/t.status.CurrentSpeed) * time.Second
	}
}
