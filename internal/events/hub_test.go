package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
)

func publishN(h *Hub, runID string, n int) {
	for i := 0; i < n; i++ {
		h.Publish(&domain.Event{RunID: runID, Kind: domain.EventNote, Note: "n"})
	}
}

func collect(ch <-chan *domain.Event, n int, timeout time.Duration) []*domain.Event {
	var out []*domain.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublish_AssignsMonotonicIDs(t *testing.T) {
	h := NewHub(0)

	for i := int64(1); i <= 5; i++ {
		id := h.Publish(&domain.Event{RunID: "run-1", Kind: domain.EventNote})
		assert.Equal(t, i, id)
	}
	assert.Equal(t, int64(5), h.LastEventID("run-1"))
}

func TestPublish_IndependentStreamsPerRun(t *testing.T) {
	h := NewHub(0)

	publishN(h, "run-1", 3)
	publishN(h, "run-2", 1)

	assert.Equal(t, int64(3), h.LastEventID("run-1"))
	assert.Equal(t, int64(1), h.LastEventID("run-2"))
	assert.Zero(t, h.LastEventID("unknown"))
}

func TestSubscribe_LiveDelivery(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe("run-1", 0)
	defer cancel()

	publishN(h, "run-1", 3)

	got := collect(ch, 3, time.Second)
	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.EventID)
	}
}

func TestSubscribe_ReplayFromOffset(t *testing.T) {
	h := NewHub(0)
	publishN(h, "run-1", 10)

	ch, cancel := h.Subscribe("run-1", 6)
	defer cancel()

	got := collect(ch, 4, time.Second)
	require.Len(t, got, 4)
	assert.Equal(t, int64(7), got[0].EventID)
	assert.Equal(t, int64(10), got[3].EventID)
}

func TestSubscribe_ReplayThenLive(t *testing.T) {
	h := NewHub(0)
	publishN(h, "run-1", 2)

	ch, cancel := h.Subscribe("run-1", 0)
	defer cancel()

	publishN(h, "run-1", 2)

	got := collect(ch, 4, time.Second)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.EventID)
	}
}

func TestSubscribe_RingEvictsOldest(t *testing.T) {
	h := NewHub(4)
	publishN(h, "run-1", 10)

	// Only the last four events survive in the replay buffer.
	ch, cancel := h.Subscribe("run-1", 0)
	defer cancel()

	got := collect(ch, 4, time.Second)
	require.Len(t, got, 4)
	assert.Equal(t, int64(7), got[0].EventID)
	assert.Equal(t, int64(10), got[3].EventID)
}

func TestPublish_SlowSubscriberNeverBlocks(t *testing.T) {
	h := NewHub(0)
	_, cancel := h.Subscribe("run-1", 0)
	defer cancel()

	// Nobody drains the channel; publishing far past its capacity must
	// still return promptly.
	done := make(chan struct{})
	go func() {
		publishN(h, "run-1", subscriberBuffer*3)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, int64(subscriberBuffer*3), h.LastEventID("run-1"))
}

func TestDropRun_ClosesSubscribers(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe("run-1", 0)
	defer cancel()

	publishN(h, "run-1", 1)
	h.DropRun("run-1")

	got := collect(ch, 2, time.Second)
	require.Len(t, got, 1) // channel closed after the single delivered event

	// The run's history is gone; a fresh stream starts over at 1.
	assert.Zero(t, h.LastEventID("run-1"))
	assert.Equal(t, int64(1), h.Publish(&domain.Event{RunID: "run-1", Kind: domain.EventNote}))
}

func TestCancel_Idempotent(t *testing.T) {
	h := NewHub(0)
	_, cancel := h.Subscribe("run-1", 0)
	cancel()
	cancel()
	publishN(h, "run-1", 1) // must not panic on a closed subscriber
}
