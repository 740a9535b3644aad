package progress

import (
	"sync"
	"testing"
)

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(10, 1000)

	tr.AddFetched(100)
	tr.AddFetched(200)
	tr.AddSkipped(50)
	tr.AddFailed()

	st := tr.GetStatus()
	if st.TotalItems != 10 || st.TotalBytes != 1000 {
		t.Errorf("totals = %+v", st)
	}
	if st.FetchedItems != 2 || st.SkippedItems != 1 || st.FailedItems != 1 {
		t.Errorf("counters = %+v", st)
	}
	if st.ProcessedItems != 4 {
		t.Errorf("processed = %d", st.ProcessedItems)
	}
	if st.ProcessedBytes != 350 {
		t.Errorf("bytes = %d", st.ProcessedBytes)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(100, 100*64)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.AddFetched(64)
		}()
	}
	wg.Wait()

	st := tr.GetStatus()
	if st.FetchedItems != 100 || st.ProcessedBytes != 100*64 {
		t.Errorf("status after concurrent updates = %+v", st)
	}
}

func TestEmitNonBlocking(t *testing.T) {
	// A nil channel must be a no-op.
	Emit(nil, Event{Kind: TaskStarted})

	// A full channel must not block the sender.
	ch := make(chan Event, 1)
	Emit(ch, Event{Kind: TaskStarted, ItemID: "a"})
	Emit(ch, Event{Kind: TaskSucceeded, ItemID: "b"})

	got := <-ch
	if got.ItemID != "a" {
		t.Errorf("first buffered event = %+v", got)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %+v", e)
	default:
	}
}
