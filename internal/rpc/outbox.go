package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/logging"
)

type outgoing struct {
	method string
	params []any
}

// outbox queues notifications for one endpoint and writes them from its own
// goroutine, so the event loop never waits on a slow peer.
type outbox struct {
	id     channel.ID
	ep     Endpoint
	queue  chan outgoing
	logger *logging.Logger

	dropped    atomic.Uint64
	removed    atomic.Bool
	overflowed atomic.Bool
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newOutbox(id channel.ID, ep Endpoint, size int, logger *logging.Logger) *outbox {
	ob := &outbox{
		id:     id,
		ep:     ep,
		queue:  make(chan outgoing, size),
		logger: logger,
		stop:   make(chan struct{}),
	}
	ob.wg.Add(1)
	go ob.run()
	return ob
}

// alive reports whether the channel can still receive.
func (ob *outbox) alive() bool {
	return !ob.removed.Load() && !ob.overflowed.Load() && endpointOpen(ob.ep)
}

// enqueue adds a message without blocking. A full queue means the peer has
// fallen behind: the channel is marked overflowed and its endpoint closed,
// so the peer sees a disconnect rather than a gap in the stream.
func (ob *outbox) enqueue(msg outgoing) bool {
	select {
	case ob.queue <- msg:
		return true
	default:
	}
	ob.dropped.Add(1)
	if !ob.overflowed.Swap(true) {
		// Close may wait on an in-flight write; the caller must not.
		go func() { _ = ob.ep.Close() }()
	}
	return false
}

func (ob *outbox) run() {
	defer ob.wg.Done()

	for {
		select {
		case <-ob.stop:
			return
		case <-ob.ep.Done():
			return
		case msg := <-ob.queue:
			if ob.overflowed.Load() || !ob.write(msg) {
				return
			}
		}
	}
}

func (ob *outbox) write(msg outgoing) bool {
	if err := ob.ep.Notify(context.Background(), msg.method, msg.params); err != nil {
		ob.logger.Warn("channel %d: write %s failed: %v", ob.id, msg.method, err)
		_ = ob.ep.Close()
		return false
	}
	return true
}

// shutdown stops the writer after flushing what is already queued.
func (ob *outbox) shutdown() {
	ob.once.Do(func() {
		ob.removed.Store(true)
		close(ob.stop)
		ob.wg.Wait()
		for {
			select {
			case msg := <-ob.queue:
				if ob.overflowed.Load() || !endpointOpen(ob.ep) || !ob.write(msg) {
					return
				}
			default:
				return
			}
		}
	})
}

func endpointOpen(ep Endpoint) bool {
	select {
	case <-ep.Done():
		return false
	default:
		return true
	}
}
