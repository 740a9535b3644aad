package progress

// EventKind labels progress events emitted during a run.
type EventKind string

const (
	TaskStarted   EventKind = "task_started"
	TaskSucceeded EventKind = "task_succeeded"
	TaskFailed    EventKind = "task_failed"
	RunFinished   EventKind = "run_finished"
)

// Event is one progress update. The engine emits events on an
// optional channel with non-blocking sends, so the core runs
// correctly with no listener attached.
type Event struct {
	Kind   EventKind
	ItemID string
	Title  string
	Group  string
	Bytes  int64
	Err    string
}

// Emit sends e on ch without blocking. A nil or full channel drops
// the event; progress display is best-effort.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- e:
	default:
	}
}
