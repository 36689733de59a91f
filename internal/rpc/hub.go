package rpc

import (
	"sort"
	"sync"

	"github.com/dshills/bufstream/internal/bufupdate"
	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/logging"
)

// DefaultQueueSize is the default per-channel notification queue length.
const DefaultQueueSize = 256

// Hub maps channel ids to connected endpoints and delivers buffer
// notifications to them. It implements bufupdate.Transport.
type Hub struct {
	logger    *logging.Logger
	queueSize int

	mu     sync.RWMutex
	nextID channel.ID
	boxes  map[channel.ID]*outbox
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l *logging.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithQueueSize sets the per-channel queue length.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// NewHub creates an empty hub. Channel ids start at 1.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:    logging.Nop(),
		queueSize: DefaultQueueSize,
		boxes:     make(map[channel.ID]*outbox),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("hub")
	return h
}

// Add registers ep and returns its channel id.
// The channel is removed automatically when ep closes.
func (h *Hub) Add(ep Endpoint) (channel.ID, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, ErrClosed
	}
	h.nextID++
	id := h.nextID
	ob := newOutbox(id, ep, h.queueSize, h.logger)
	h.boxes[id] = ob
	h.mu.Unlock()

	h.logger.Debug("channel %d connected (%s)", id, ep.Kind())

	go func() {
		<-ep.Done()
		h.detach(id, ob)
	}()
	return id, nil
}

// Remove flushes queued notifications for id and closes its endpoint.
func (h *Hub) Remove(id channel.ID) {
	h.mu.Lock()
	ob, ok := h.boxes[id]
	if ok {
		delete(h.boxes, id)
	}
	h.mu.Unlock()

	if ok {
		ob.shutdown()
		_ = ob.ep.Close()
	}
}

// detach forgets a channel whose endpoint closed on its own.
func (h *Hub) detach(id channel.ID, ob *outbox) {
	h.mu.Lock()
	if h.boxes[id] == ob {
		delete(h.boxes, id)
	}
	h.mu.Unlock()

	ob.shutdown()
	if n := ob.dropped.Load(); n > 0 {
		h.logger.Warn("channel %d closed after %d undeliverable notifications", id, n)
	} else {
		h.logger.Debug("channel %d disconnected", id)
	}
}

// Send implements bufupdate.Transport. It reports false when the channel is
// unknown, its endpoint has closed, or its queue is full. A full queue closes
// the endpoint: the broadcaster then evicts the channel on a later edit and
// the peer observes a disconnect instead of a silently missing message.
func (h *Hub) Send(id channel.ID, event string, args []any) bool {
	h.mu.RLock()
	ob, ok := h.boxes[id]
	h.mu.RUnlock()

	if !ok || !ob.alive() {
		return false
	}
	if !ob.enqueue(outgoing{method: event, params: args}) {
		h.logger.Warn("channel %d: queue full at %s, closing channel", id, event)
		return false
	}
	return true
}

// Endpoint returns the endpoint for id.
func (h *Hub) Endpoint(id channel.ID) (Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ob, ok := h.boxes[id]
	if !ok {
		return nil, false
	}
	return ob.ep, true
}

// IDs returns the connected channel ids in ascending order.
func (h *Hub) IDs() []channel.ID {
	h.mu.RLock()
	ids := make([]channel.ID, 0, len(h.boxes))
	for id := range h.boxes {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of connected channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boxes)
}

// Close flushes and closes every endpoint. Further Add calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	boxes := h.boxes
	h.boxes = make(map[channel.ID]*outbox)
	h.mu.Unlock()

	for _, ob := range boxes {
		ob.shutdown()
		_ = ob.ep.Close()
	}
	return nil
}

var _ bufupdate.Transport = (*Hub)(nil)
