// Package audit collects one structured record per tool invocation and per
// workflow-run transition, and fans them out to subscribers (SSE/WS
// clients, the structured log, an optional redis mirror).
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/seamarks/helmsman/internal/metrics"
)

// Kind labels the event families on the stream.
const (
	KindToolInvocation     = "tool_invocation"
	KindWorkflowTransition = "workflow_transition"
	KindBackgroundTask     = "background_task"
	KindTrigger            = "trigger"
)

// Event is one audit record. Append-only; safe for concurrent writers
// through the Hub.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Decision  string                 `json:"decision,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Workflow  string                 `json:"workflow,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
}

// Marshal returns the JSON form used by SSE payloads and mirrors.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives every published event. Publish never blocks on a sink.
type Sink interface {
	Consume(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Consume(e Event) { f(e) }

// Hub is an in-memory pub/sub with a fixed-capacity replay ring. It is the
// injectable owner of audit state; tests substitute a small ring to
// exercise eviction deterministically.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	ring        *ring
	nextSeq     uint64
	sinks       []Sink
}

// NewHub creates a hub with the given replay capacity (default 256).
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		ring:        newRing(capacity),
		nextSeq:     1,
	}
}

// AddSink attaches a durable consumer (log sink, redis mirror). Call
// during startup wiring only.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Publish assigns a sequence number and fans the event out. Slow
// subscribers are skipped rather than blocking the publisher.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	h.mu.Lock()
	evt.Seq = h.nextSeq
	h.nextSeq++
	h.ring.push(evt)
	sinks := h.sinks
	subs := make([]chan Event, 0, len(h.subscribers))
	for ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	metrics.AuditEventsPublished.Inc()

	for _, s := range sinks {
		s.Consume(evt)
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe adds a subscriber channel; the caller must drain it and call
// Unsubscribe.
func (h *Hub) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	metrics.AuditSubscribers.Set(float64(len(h.subscribers)))
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
	metrics.AuditSubscribers.Set(float64(len(h.subscribers)))
	h.mu.Unlock()
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (h *Hub) ReplaySince(since uint64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ring.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf   []Event
	start int
	count int
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
