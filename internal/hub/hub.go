// Package hub implements the Broadcast Hub: single-producer, multi-consumer
// fan-out of PTY output frames with bounded per-consumer buffering and a
// drop-slow-consumer eviction policy. A single laggy viewer must never
// block the PTY reader or slow any other viewer.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Package-level defaults for the per-consumer frame and byte bounds.
const (
	DefaultFrameCapacity = 256
	DefaultByteCapacity  = 2 * 1024 * 1024
)

// Subscription is a live consumer's view onto the hub.
type Subscription struct {
	ID string

	hub         *Hub
	ch          chan []byte
	queuedBytes int64
	byteCap     int64
	frameCap    int

	evicted chan struct{}
	evictMu sync.Mutex
	isEvict bool
}

// Frames returns the channel of delivered output frames.
func (s *Subscription) Frames() <-chan []byte { return s.ch }

// Evicted returns a channel closed when this subscriber is evicted for
// slowness — the owning Viewer Session observes eviction on this channel.
func (s *Subscription) Evicted() <-chan struct{} { return s.evicted }

// Ack adjusts byte accounting after a frame of length n has been pulled off
// Frames() and processed. Callers that select directly on Frames() (rather
// than calling Recv) must call Ack themselves, or the hub's byte bound will
// never free up as this subscriber drains.
func (s *Subscription) Ack(n int) {
	atomic.AddInt64(&s.queuedBytes, -int64(n))
}

// Hub fans out output frames from one producer to many subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	frameCap int
	byteCap  int64

	nextID uint64
}

// New creates a Hub with the given per-consumer bounds. A value of 0
// selects the package default.
func New(frameCap int, byteCap int64) *Hub {
	if frameCap <= 0 {
		frameCap = DefaultFrameCapacity
	}
	if byteCap <= 0 {
		byteCap = DefaultByteCapacity
	}
	return &Hub{
		subs:     make(map[string]*Subscription),
		frameCap: frameCap,
		byteCap:  byteCap,
	}
}

// Subscribe registers a new consumer with an empty queue.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	h.nextID++
	id := idFromCounter(h.nextID)
	sub := &Subscription{
		ID:       id,
		hub:      h,
		ch:       make(chan []byte, h.frameCap),
		byteCap:  h.byteCap,
		frameCap: h.frameCap,
		evicted:  make(chan struct{}),
	}
	h.subs[id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes and drains the consumer's queue.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case <-sub.ch:
		default:
			return
		}
	}
}

// Publish appends frame to every live subscriber's queue. Non-blocking:
// a subscriber that would exceed its bound is evicted instead of stalling
// the publisher. frame is shared (never copied) across subscribers.
func (h *Hub) Publish(frame []byte) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	toEvict := lo.Filter(snapshot, func(sub *Subscription, _ int) bool {
		return !sub.tryDeliver(frame)
	})
	for _, sub := range toEvict {
		h.evict(sub)
	}
}

// tryDeliver attempts a non-blocking send, respecting both the frame-count
// and byte-count bounds. Returns false if the subscriber should be evicted.
func (s *Subscription) tryDeliver(frame []byte) bool {
	if len(s.ch) >= s.frameCap {
		return false
	}
	if atomic.LoadInt64(&s.queuedBytes)+int64(len(frame)) > s.byteCap {
		return false
	}
	select {
	case s.ch <- frame:
		atomic.AddInt64(&s.queuedBytes, int64(len(frame)))
		return true
	default:
		return false
	}
}

// evict marks a subscriber Disconnected, removes it from the table, and
// signals the owning Viewer Session via Evicted(). Other subscribers are
// unaffected.
func (h *Hub) evict(sub *Subscription) {
	h.mu.Lock()
	if cur, ok := h.subs[sub.ID]; ok && cur == sub {
		delete(h.subs, sub.ID)
	}
	h.mu.Unlock()

	sub.evictMu.Lock()
	defer sub.evictMu.Unlock()
	if sub.isEvict {
		return
	}
	sub.isEvict = true
	close(sub.evicted)
}

// Recv pulls the next frame for this subscription, updating byte
// accounting. ok is false if the hub closed the channel (it never does on
// its own — callers normally select on Frames()/Evicted() directly; Recv
// is a convenience for simple consumers).
func (s *Subscription) Recv() (frame []byte, ok bool) {
	frame, ok = <-s.ch
	if ok {
		s.Ack(len(frame))
	}
	return frame, ok
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func idFromCounter(n uint64) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hex[n&0xf]
		n >>= 4
	}
	return string(buf)
}
