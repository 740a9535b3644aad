package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"os"
	"time"

	"tunesync/internal/planner"
	"tunesync/internal/progress"

	"go.uber.org/zap"
)

const copyChunkSize = 256 * 1024

// processor executes one fetch task at a time on behalf of a worker.
type processor struct {
	config  Config
	catalog interface {
		OpenStream(ctx context.Context, id string) (io.ReadCloser, error)
	}
	target targetIO
	logger *zap.Logger
}

// targetIO is the slice of device.Target the processor needs.
type targetIO interface {
	WriteTemp() (*os.File, error)
	MoveIntoPlace(tmpPath, finalPath string) error
}

// run streams one item to the target with retry. The destination path
// only ever becomes visible through the final rename, so an observed
// destination file is always complete.
func (p *processor) run(ctx context.Context, task planner.Task) Outcome {
	start := time.Now()
	out := Outcome{Task: task}

	// Started means a worker is on it, not merely queued.
	progress.Emit(p.config.Events, progress.Event{
		Kind:   progress.TaskStarted,
		ItemID: task.Item.ID,
		Title:  task.Item.Title,
		Group:  task.Item.Group,
	})

	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		out.Attempts = attempt

		if err := ctx.Err(); err != nil {
			out.Err = err
			out.Class = Classify(err)
			out.Duration = time.Since(start)
			return out
		}

		size, sum, err := p.attempt(ctx, task)
		if err == nil {
			out.Size = size
			out.Fingerprint = sum
			out.Duration = time.Since(start)
			p.logger.Info("task completed",
				zap.String("id", task.Item.ID),
				zap.String("path", task.Path),
				zap.Int64("size", size),
				zap.Int("attempts", attempt),
				zap.Duration("duration", out.Duration),
			)
			return out
		}

		class := Classify(err)
		p.logger.Warn("task attempt failed",
			zap.String("id", task.Item.ID),
			zap.Int("attempt", attempt),
			zap.String("class", string(class)),
			zap.Error(err),
		)

		out.Err = err
		out.Class = class

		if class != ClassTransient {
			break
		}
		if attempt == p.config.Retries {
			out.Err = fmt.Errorf("%v: %w", err, ErrExhausted)
			break
		}
		if !sleepCtx(ctx, p.backoff(attempt)) {
			out.Err = ctx.Err()
			out.Class = Classify(ctx.Err())
			break
		}
	}

	out.Duration = time.Since(start)
	return out
}

// attempt performs a single fetch: open the catalog stream, copy to a
// temp file on the target, then atomically move into place. Any
// failure removes the temp file; partial bytes never reach the
// destination path.
func (p *processor) attempt(ctx context.Context, task planner.Task) (int64, string, error) {
	stream, err := p.catalog.OpenStream(ctx, task.Item.ID)
	if err != nil {
		return 0, "", fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	tmp, err := p.target.WriteTemp()
	if err != nil {
		return 0, "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	sum := md5.New()
	size, err := copyCtx(ctx, io.MultiWriter(tmp, sum), stream)
	if err != nil {
		discard()
		return 0, "", fmt.Errorf("stream to temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		discard()
		return 0, "", fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("close temp: %w", err)
	}

	if err := p.target.MoveIntoPlace(tmpName, task.Path); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("move into place: %w", err)
	}

	return size, hexSum(sum), nil
}

func (p *processor) backoff(attempt int) time.Duration {
	return p.config.RetryBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
}

// copyCtx copies in bounded chunks, checking for cancellation between
// chunks so an in-flight download aborts promptly.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
