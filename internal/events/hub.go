// Package events fans simulation events out to observers. Every run gets
// an independent stream with monotonically increasing event IDs and a
// bounded replay buffer, so a reconnecting observer can resume from the
// last ID it saw.
package events

import (
	"sync"

	"creditnet-lab/internal/domain"
)

const (
	// defaultRingSize bounds how many past events a run retains for replay.
	defaultRingSize = 4096

	// subscriberBuffer is the per-subscriber channel capacity. A subscriber
	// that falls further behind than this starts losing events; the stream
	// itself is never blocked by slow consumers.
	subscriberBuffer = 256
)

// Hub owns one event stream per run.
type Hub struct {
	mu       sync.RWMutex
	streams  map[string]*stream
	ringSize int
}

// NewHub creates a hub with the given replay-buffer size per run.
// ringSize <= 0 selects the default.
func NewHub(ringSize int) *Hub {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &Hub{streams: make(map[string]*stream), ringSize: ringSize}
}

func (h *Hub) stream(runID string, create bool) *stream {
	h.mu.RLock()
	s := h.streams[runID]
	h.mu.RUnlock()
	if s != nil || !create {
		return s
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s = h.streams[runID]; s == nil {
		s = newStream(h.ringSize)
		h.streams[runID] = s
	}
	return s
}

// Publish assigns the event's per-run ID and broadcasts it. Returns the
// assigned ID.
func (h *Hub) Publish(ev *domain.Event) int64 {
	return h.stream(ev.RunID, true).publish(ev)
}

// Subscribe attaches an observer to a run's stream. Events with ID >
// fromID still held in the replay buffer are delivered first, then live
// events. The returned cancel function detaches the observer and closes
// the channel.
func (h *Hub) Subscribe(runID string, fromID int64) (<-chan *domain.Event, func()) {
	return h.stream(runID, true).subscribe(fromID)
}

// LastEventID returns the highest ID published for the run, 0 if none.
func (h *Hub) LastEventID(runID string) int64 {
	s := h.stream(runID, false)
	if s == nil {
		return 0
	}
	return s.lastID()
}

// DropRun closes every subscriber of the run and discards its buffer.
func (h *Hub) DropRun(runID string) {
	h.mu.Lock()
	s := h.streams[runID]
	delete(h.streams, runID)
	h.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// stream is one run's ordered event pipeline.
type stream struct {
	mu      sync.Mutex
	nextID  int64
	ring    []*domain.Event // oldest first
	size    int
	subs    map[int]chan *domain.Event
	nextSub int
	closed  bool
}

func newStream(size int) *stream {
	return &stream{size: size, subs: make(map[int]chan *domain.Event)}
}

func (s *stream) publish(ev *domain.Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.nextID++
	ev.EventID = s.nextID

	if len(s.ring) == s.size {
		copy(s.ring, s.ring[1:])
		s.ring[len(s.ring)-1] = ev
	} else {
		s.ring = append(s.ring, ev)
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer; it resyncs via replay-from-offset.
		}
	}
	return ev.EventID
}

func (s *stream) subscribe(fromID int64) (<-chan *domain.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := make([]*domain.Event, 0)
	for _, ev := range s.ring {
		if ev.EventID > fromID {
			replay = append(replay, ev)
		}
	}
	ch := make(chan *domain.Event, subscriberBuffer+len(replay))
	for _, ev := range replay {
		ch <- ev
	}

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *stream) lastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
