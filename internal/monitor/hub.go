// Package monitor publishes what the transport does: a hub fans
// connection events out to live subscribers, and an admin router exposes
// the registered services, counters and the event feed.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"arrowhead-go/internal/transport"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

const DefaultHistory = 128

// Hub is a transport.Observer. Observe never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan *structpb.Struct]struct{}
	recent  []*structpb.Struct
	next    int
	history int
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

func NewHub(history int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Hub{
		subs:    make(map[chan *structpb.Struct]struct{}),
		history: history,
		logger:  logger,
	}
}

func (h *Hub) Observe(ev transport.Event) {
	msg := EventStruct(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.recent) < h.history {
		h.recent = append(h.recent, msg)
	} else {
		h.recent[h.next] = msg
		h.next = (h.next + 1) % h.history
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns the retained history, oldest first, and a channel of
// every later event. cancel closes the channel.
func (h *Hub) Subscribe(buffer int) (history []*structpb.Struct, events <-chan *structpb.Struct, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *structpb.Struct, buffer)

	h.mu.Lock()
	history = h.snapshot()
	if h.closed {
		close(ch)
	} else {
		h.subs[ch] = struct{}{}
	}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return history, ch, cancel
}

// Close ends every subscription. Later events are still retained.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) Recent() []*structpb.Struct {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber fell behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) snapshot() []*structpb.Struct {
	out := make([]*structpb.Struct, 0, len(h.recent))
	out = append(out, h.recent[h.next:]...)
	return append(out, h.recent[:h.next]...)
}

// EventStruct is the wire form of an event. Empty fields are left out.
func EventStruct(ev transport.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type":    structpb.NewStringValue(string(ev.Type)),
		"time":    structpb.NewStringValue(ev.Time.UTC().Format(time.RFC3339Nano)),
		"conn_id": structpb.NewNumberValue(float64(ev.ConnID)),
	}
	optional := map[string]string{
		"remote":  ev.Remote,
		"method":  ev.Method,
		"path":    ev.Path,
		"service": ev.Service,
		"reason":  ev.Reason,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = structpb.NewStringValue(v)
		}
	}
	if ev.Status != 0 {
		fields["status"] = structpb.NewNumberValue(float64(ev.Status))
	}
	return &structpb.Struct{Fields: fields}
}
