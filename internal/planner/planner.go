// Package planner reconciles the user's selection against the target
// manifest and the bytes actually present on the device, producing the
// ordered plan of work for one run.
package planner

import (
	"fmt"
	"sort"

	"tunesync/internal/catalog"
	"tunesync/internal/device"
	"tunesync/internal/manifest"
)

// Action is what a task asks the downloader to do.
type Action string

const (
	// ActionFetch downloads the item to the target.
	ActionFetch Action = "fetch"
	// ActionSkip marks an item already intact on the target. Skips
	// are counted in the plan but never queued.
	ActionSkip Action = "skip-already-synced"
)

// Task is one planned unit of work. Immutable after planning; the
// downloader reports outcomes separately.
type Task struct {
	Item   catalog.Item
	Path   string
	Action Action
}

// Plan is the ordered task sequence for one run.
type Plan struct {
	Tasks         []Task
	ToFetch       int
	AlreadySynced int
	// FetchBytes is the known-size total of queued fetches, for
	// progress estimation. Items with unknown size contribute zero.
	FetchBytes int64
}

// FetchTasks returns only the tasks the downloader must execute.
func (p *Plan) FetchTasks() []Task {
	out := make([]Task, 0, p.ToFetch)
	for _, t := range p.Tasks {
		if t.Action == ActionFetch {
			out = append(out, t)
		}
	}
	return out
}

// Build computes the sync plan. A manifest entry is trusted only after
// the recorded path is verified on the target: file missing or size
// mismatch means the entry is provisional and the item is re-fetched.
// Verification is size-only; content is not re-read.
func Build(items []catalog.Item, store *manifest.Store, target device.Target) (*Plan, error) {
	plan := &Plan{Tasks: make([]Task, 0, len(items))}

	for _, item := range items {
		path := target.ResolvePath(item)

		entry, ok := store.Has(item.ID)
		if !ok {
			plan.add(Task{Item: item, Path: path, Action: ActionFetch})
			continue
		}

		info, err := target.Stat(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Path, err)
		}
		if !info.Exists || info.Size != entry.Size {
			plan.add(Task{Item: item, Path: path, Action: ActionFetch})
			continue
		}

		plan.add(Task{Item: item, Path: entry.Path, Action: ActionSkip})
	}

	// Keep groups contiguous and tracks in order so an album tends to
	// finish before the next one starts under the concurrency cap.
	// Scheduling preference only; completion order stays unspecified.
	sort.SliceStable(plan.Tasks, func(i, j int) bool {
		a, b := plan.Tasks[i].Item, plan.Tasks[j].Item
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.Track < b.Track
	})

	return plan, nil
}

func (p *Plan) add(t Task) {
	p.Tasks = append(p.Tasks, t)
	switch t.Action {
	case ActionFetch:
		p.ToFetch++
		if t.Item.Size > 0 {
			p.FetchBytes += t.Item.Size
		}
	case ActionSkip:
		p.AlreadySynced++
	}
}
