package stream

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/orrery/internal/render"
)

// Hub is the render surface for remote viewers. The view loop draws into it
// at render cadence; each SSE client reads the latest frame at its own rate.
// Slow clients skip frames instead of blocking the loop.
type Hub struct {
	mu           sync.RWMutex
	frame        render.Frame
	hasFrame     bool
	trails       map[string][]r3.Vec
	trailVersion uint64
	subs         map[uint64]chan struct{}
	nextID       uint64
	closed       bool
	done         chan struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		trails: map[string][]r3.Vec{},
		subs:   make(map[uint64]chan struct{}),
		done:   make(chan struct{}),
	}
}

// Draw stores f as the latest frame and wakes every subscriber.
func (h *Hub) Draw(f render.Frame) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if f.Trails != nil {
		h.trails = f.Trails
		h.trailVersion = f.TrailVersion
	}
	f.Trails = nil
	h.frame = f
	h.hasFrame = true
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recent frame. ok is false until the first Draw.
func (h *Hub) Latest() (f render.Frame, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.hasFrame
}

// Trails returns the current trail set and its version.
func (h *Hub) Trails() (map[string][]r3.Vec, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.trails, h.trailVersion
}

// Subscribe returns a channel that receives a value after each new frame.
// Notifications coalesce: a reader that falls behind sees one pending value.
// The returned func unsubscribes.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := h.nextID
	h.nextID++
	if !h.closed {
		h.subs[id] = ch
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Open starts a new session on a closed hub so a restarted view loop can
// draw again. It is a no-op on an open hub.
func (h *Hub) Open() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		return
	}
	h.closed = false
	h.hasFrame = false
	h.done = make(chan struct{})
}

// Close stops accepting frames and signals Done. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.subs = map[uint64]chan struct{}{}
	close(h.done)
	return nil
}

// Done is closed when the current session is closed.
func (h *Hub) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}
