package progress

import (
	"fmt"
	"os"
	"time"
)

// Display renders a single status line on a ticker until stopped.
type Display struct {
	tracker  *Tracker
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a display over the given tracker.
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins rendering in a background goroutine.
func (d *Display) Start() {
	go d.loop()
}

// Stop halts rendering and prints the final line.
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) loop() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.render(false)
		case <-d.stopCh:
			d.render(true)
			fmt.Println()
			return
		}
	}
}

func (d *Display) render(final bool) {
	s := d.tracker.GetStatus()

	line := fmt.Sprintf("\r%d/%d items  fetched=%d skipped=%d failed=%d  %s",
		s.ProcessedItems, s.TotalItems,
		s.FetchedItems, s.SkippedItems, s.FailedItems,
		FormatBytes(s.ProcessedBytes),
	)
	if !final && s.CurrentSpeed > 0 {
		line += fmt.Sprintf("  %s/s", FormatBytes(int64(s.CurrentSpeed)))
		if s.ETA > 0 {
			line += fmt.Sprintf("  ETA %s", s.ETA.Round(time.Second))
		}
	}
	fmt.Print(line)
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// IsTerminalSupported reports whether stdout is a terminal.
func IsTerminalSupported() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
