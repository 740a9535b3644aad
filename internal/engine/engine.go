// Package engine orchestrates one sync run: plan, download under a
// concurrency cap, record completions durably, summarize.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"tunesync/internal/catalog"
	"tunesync/internal/device"
	"tunesync/internal/manifest"
	"tunesync/internal/metrics"
	"tunesync/internal/planner"
	"tunesync/internal/playlist"
	"tunesync/internal/progress"
	"tunesync/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the run lifecycle phase.
type State string

const (
	StatePlanning   State = "planning"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// FailedItem describes one item that could not be synced.
type FailedItem struct {
	ID       string
	Title    string
	Class    worker.Class
	Attempts int
	Err      string
}

// Summary is the only output callers consume from a run.
type Summary struct {
	RunID      string
	Target     string
	State      State
	Fetched    int
	Skipped    int
	Failed     int
	Bytes      int64
	Failures   []FailedItem
	StartedAt  time.Time
	FinishedAt time.Time
}

// Options tune one run.
type Options struct {
	// Concurrency is the worker cap C (default 4).
	Concurrency int
	// Retries is the per-task attempt ceiling (default 3).
	Retries int
	// RetryBackoff is the initial backoff delay (default 500ms).
	RetryBackoff time.Duration
	// CommitEvery bounds how many recorded-but-uncommitted successes a
	// crash can lose (default 8).
	CommitEvery int
	// ServerURL is stamped into the manifest for provenance.
	ServerURL string
	// ResetManifest starts from an empty document instead of failing
	// on a corrupt one.
	ResetManifest bool
	// DryRun plans and reports without fetching anything.
	DryRun bool
	// WritePlaylists regenerates M3U files for playlist groups that
	// finish the run without failures.
	WritePlaylists bool
	// Force takes over a stale run lock.
	Force bool
	// Events receives progress events; nil is fine, sends never block.
	Events chan<- progress.Event
	// Metrics is optional.
	Metrics *metrics.Collector
}

func (o *Options) applyDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.Retries < 1 {
		o.Retries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.CommitEvery < 1 {
		o.CommitEvery = 8
	}
}

// Engine runs syncs against one target. Construct one per invocation;
// no process-wide state is used.
type Engine struct {
	catalog catalog.Client
	target  device.Target
	opts    Options
	logger  *zap.Logger

	// groups with at least one failed task this run; their playlist
	// files are not regenerated.
	failedGroups map[string]bool
}

// New creates a sync engine.
func New(catalogClient catalog.Client, target device.Target, opts Options, logger *zap.Logger) *Engine {
	opts.applyDefaults()
	return &Engine{
		catalog: catalogClient,
		target:  target,
		opts:    opts,
		logger:  logger,
	}
}

// Run executes one sync of the selection onto the target. Per-item
// failures land in the summary and never abort the run; fatal
// conditions (manifest unusable, target out of space, cancellation)
// return a non-nil error alongside the partial summary. Progress
// committed before an abort stays committed.
func (e *Engine) Run(ctx context.Context, sel catalog.Selection) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.New().String(),
		Target:    e.target.Root(),
		State:     StatePlanning,
		StartedAt: time.Now(),
	}
	logger := e.logger.With(zap.String("run_id", summary.RunID))

	// Dry runs are read-only; they neither take the lock nor leave one.
	if !e.opts.DryRun {
		unlock, err := acquireLock(e.target.Root(), e.opts.Force)
		if err != nil {
			return e.abort(summary, err)
		}
		defer unlock()
	}

	store, err := e.loadManifest()
	if err != nil {
		return e.abort(summary, err)
	}
	if e.opts.ServerURL != "" {
		store.SetServerURL(e.opts.ServerURL)
	}

	items, err := e.catalog.ListSelectedItems(ctx, sel)
	if err != nil {
		return e.abort(summary, fmt.Errorf("list selection: %w", err))
	}

	plan, err := planner.Build(items, store, e.target)
	if err != nil {
		return e.abort(summary, fmt.Errorf("build plan: %w", err))
	}

	logger.Info("plan ready",
		zap.Int("selected", len(items)),
		zap.Int("to_fetch", plan.ToFetch),
		zap.Int("already_synced", plan.AlreadySynced),
		zap.Int64("fetch_bytes", plan.FetchBytes),
	)

	summary.Skipped = plan.AlreadySynced
	if e.opts.Metrics != nil {
		e.opts.Metrics.SetTotals(int64(len(plan.Tasks)), plan.FetchBytes)
		for _, t := range plan.Tasks {
			if t.Action == planner.ActionSkip {
				e.opts.Metrics.IncSkipped(t.Item.Size)
			}
		}
	}

	if e.opts.DryRun {
		for _, t := range plan.FetchTasks() {
			logger.Info("would fetch",
				zap.String("id", t.Item.ID),
				zap.String("path", t.Path),
				zap.Int64("size", t.Item.Size),
			)
		}
		return e.finish(summary, store, plan, logger)
	}

	if plan.ToFetch == 0 {
		return e.finish(summary, store, plan, logger)
	}

	if err := e.checkSpace(plan); err != nil {
		return e.abort(summary, err)
	}

	summary.State = StateRunning
	if err := e.runTasks(ctx, summary, store, plan, logger); err != nil {
		// Keep whatever progress already committed.
		if cerr := store.Commit(); cerr != nil {
			logger.Error("final commit after abort failed", zap.Error(cerr))
		}
		return e.abort(summary, err)
	}

	return e.finish(summary, store, plan, logger)
}

// runTasks feeds fetch tasks to the pool and applies each outcome to
// the manifest before counting the task committed. The engine is the
// sole manifest writer; outcomes are consumed on this goroutine.
func (e *Engine) runTasks(ctx context.Context, summary *Summary, store *manifest.Store, plan *planner.Plan, logger *zap.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fetches := plan.FetchTasks()
	tasks := make(chan planner.Task, e.opts.Concurrency*2)
	outcomes := make(chan worker.Outcome, e.opts.Concurrency*2)

	pool := worker.NewPool(e.opts.Concurrency, worker.Config{
		Retries:      e.opts.Retries,
		RetryBackoff: e.opts.RetryBackoff,
		Events:       e.opts.Events,
	}, e.catalog, e.target, logger)

	var wg sync.WaitGroup
	pool.Start(runCtx, tasks, outcomes, &wg)

	go func() {
		defer close(tasks)
		for _, t := range fetches {
			select {
			case tasks <- t:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var fatal error
	uncommitted := 0

	for out := range outcomes {
		if out.OK() {
			store.RecordSuccess(manifest.Entry{
				ID:          out.Task.Item.ID,
				Path:        out.Task.Path,
				Size:        out.Size,
				Fingerprint: out.Fingerprint,
			})
			summary.Fetched++
			summary.Bytes += out.Size
			uncommitted++
			if e.opts.Metrics != nil {
				e.opts.Metrics.IncFetched(out.Size)
				e.opts.Metrics.ObserveDuration(out.Duration)
			}
			progress.Emit(e.opts.Events, progress.Event{
				Kind:   progress.TaskSucceeded,
				ItemID: out.Task.Item.ID,
				Title:  out.Task.Item.Title,
				Group:  out.Task.Item.Group,
				Bytes:  out.Size,
			})

			if uncommitted >= e.opts.CommitEvery {
				if err := store.Commit(); err != nil && fatal == nil {
					fatal = fmt.Errorf("commit manifest: %w", err)
					cancel()
				}
				uncommitted = 0
			}
			continue
		}

		// Cancellation surfaces as a fatal outcome; don't double-count
		// it as an item failure.
		if errors.Is(out.Err, context.Canceled) && runCtx.Err() != nil {
			continue
		}

		summary.Failed++
		summary.Failures = append(summary.Failures, FailedItem{
			ID:       out.Task.Item.ID,
			Title:    out.Task.Item.Title,
			Class:    out.Class,
			Attempts: out.Attempts,
			Err:      out.Err.Error(),
		})
		e.failedGroup(out.Task.Item.GroupID)
		if e.opts.Metrics != nil {
			e.opts.Metrics.IncFailed()
		}
		progress.Emit(e.opts.Events, progress.Event{
			Kind:   progress.TaskFailed,
			ItemID: out.Task.Item.ID,
			Title:  out.Task.Item.Title,
			Group:  out.Task.Item.Group,
			Err:    out.Err.Error(),
		})

		if out.Class == worker.ClassFatal && fatal == nil {
			fatal = fmt.Errorf("fatal task error for %s: %w", out.Task.Item.ID, out.Err)
			cancel()
		}
	}

	if fatal != nil {
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}
	return nil
}

func (e *Engine) finish(summary *Summary, store *manifest.Store, plan *planner.Plan, logger *zap.Logger) (*Summary, error) {
	summary.State = StateFinalizing

	// A dry run must leave the target byte-for-byte untouched: no
	// manifest commit, no playlist files.
	if !e.opts.DryRun {
		if err := store.Commit(); err != nil {
			return e.abort(summary, fmt.Errorf("final commit: %w", err))
		}
		if e.opts.WritePlaylists {
			e.writePlaylists(plan, logger)
		}
	}

	summary.State = StateDone
	summary.FinishedAt = time.Now()
	progress.Emit(e.opts.Events, progress.Event{Kind: progress.RunFinished})
	logger.Info("run finished",
		zap.Int("fetched", summary.Fetched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int64("bytes", summary.Bytes),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (e *Engine) abort(summary *Summary, err error) (*Summary, error) {
	summary.State = StateAborted
	summary.FinishedAt = time.Now()
	progress.Emit(e.opts.Events, progress.Event{Kind: progress.RunFinished, Err: err.Error()})
	e.logger.Error("run aborted", zap.Error(err))
	return summary, err
}

// loadManifest reads the target manifest, honoring ResetManifest for
// corrupt documents. Corruption without the reset flag is surfaced
// distinctly so the caller can decide.
func (e *Engine) loadManifest() (*manifest.Store, error) {
	store, err := manifest.Load(e.target.Root())
	if err == nil {
		return store, nil
	}
	if errors.Is(err, manifest.ErrCorrupt) && e.opts.ResetManifest {
		e.logger.Warn("manifest corrupt, starting fresh", zap.Error(err))
		return manifest.Reset(e.target.Root()), nil
	}
	return nil, err
}

// checkSpace refuses a run whose known fetch volume cannot fit.
func (e *Engine) checkSpace(plan *planner.Plan) error {
	avail, err := e.target.AvailableSpace()
	if err != nil {
		return fmt.Errorf("query free space: %w", err)
	}
	if plan.FetchBytes > 0 && avail < plan.FetchBytes {
		return fmt.Errorf("need %d bytes, target has %d: %w", plan.FetchBytes, avail, device.ErrNoSpace)
	}
	return nil
}

func (e *Engine) failedGroup(groupID string) {
	if e.failedGroups == nil {
		e.failedGroups = make(map[string]bool)
	}
	e.failedGroups[groupID] = true
}

// writePlaylists regenerates M3U files for playlist groups whose
// tasks all ended synced this run (fetched or already present).
func (e *Engine) writePlaylists(plan *planner.Plan, logger *zap.Logger) {
	type group struct {
		name   string
		tracks []string
	}
	groups := make(map[string]*group)
	var order []string

	for _, t := range plan.Tasks {
		if t.Item.Kind != catalog.GroupPlaylist {
			continue
		}
		if e.failedGroups[t.Item.GroupID] {
			continue
		}
		g, ok := groups[t.Item.GroupID]
		if !ok {
			g = &group{name: device.SanitizeFilename(t.Item.Group)}
			groups[t.Item.GroupID] = g
			order = append(order, t.Item.GroupID)
		}
		g.tracks = append(g.tracks, filepath.Base(t.Path))
	}

	for _, id := range order {
		g := groups[id]
		dir := filepath.Join(e.target.Root(), "Playlists", g.name)
		if err := playlist.Write(dir, g.name, g.tracks); err != nil {
			logger.Warn("playlist file not written",
				zap.String("playlist", g.name),
				zap.Error(err),
			)
		}
	}
}
