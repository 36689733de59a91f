package bufupdate

import (
	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/logging"
)

// Broadcaster dispatches buffer change notifications to subscribed channels.
type Broadcaster struct {
	transport    Transport
	logger       *logging.Logger
	stats        *Stats
	maxEvictions int
	snapshots    SnapshotBuilder
	diffs        DiffEncoder
}

// New creates a Broadcaster that delivers through t.
func New(t Transport, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		transport:    t,
		logger:       logging.Nop(),
		stats:        &Stats{},
		maxEvictions: DefaultMaxEvictionsPerEdit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stats returns the broadcaster's counters.
func (b *Broadcaster) Stats() *Stats {
	return b.stats
}

// Register subscribes id to buf and sends it nvim_buf_updates_start.
//
// Returns false, without changing anything, if buf is not loaded. Registering
// an id that is already subscribed returns true and sends nothing.
func (b *Broadcaster) Register(buf Buffer, id channel.ID, sendBuffer bool) bool {
	if !buf.IsLoaded() {
		b.stats.rejectedLoads.Add(1)
		return false
	}

	if !buf.Channels().Add(id) {
		return true
	}

	start := Start{
		Buffer:   buf.Handle(),
		Revision: buf.Revision(),
		Empty:    !sendBuffer,
	}
	if sendBuffer {
		start.Lines = b.snapshots.Build(buf)
	}

	b.send(id, start)
	return true
}

// Unregister removes id from buf and sends it nvim_buf_updates_end.
// Does nothing if id is not subscribed.
func (b *Broadcaster) Unregister(buf Buffer, id channel.ID) {
	// Remove first so a registration made while End is in flight starts clean.
	if buf.Channels().Remove(id) == 0 {
		return
	}
	b.send(id, End{Buffer: buf.Handle()})
}

// UnregisterAll drains buf's subscribers, sending each nvim_buf_updates_end in
// subscription order. Used when the buffer is torn down.
func (b *Broadcaster) UnregisterAll(buf Buffer) {
	ids := buf.Channels().RemoveAll()
	if len(ids) == 0 {
		return
	}
	end := End{Buffer: buf.Handle()}
	for _, id := range ids {
		b.send(id, end)
	}
}

// NotifyEdit tells every subscriber that numRemoved lines starting at the
// 1-based firstLine were replaced by numAdded lines. The inserted lines are
// read from buf, which must already hold the post-edit content.
//
// Channels found dead are evicted after every subscriber has been visited,
// and no more than the configured bound per call.
func (b *Broadcaster) NotifyEdit(buf Buffer, firstLine, numAdded, numRemoved int, sendRevision bool) {
	ids := buf.Channels().IDs()
	if len(ids) == 0 {
		return
	}

	update := Update{
		Buffer:    buf.Handle(),
		FirstLine: firstLine - 1,
		LastLine:  firstLine - 1 + numRemoved,
		Lines:     b.diffs.Encode(buf, firstLine, numAdded),
	}
	if sendRevision {
		rev := buf.Revision()
		update.Revision = &rev
	}

	var dead []channel.ID
	for _, id := range ids {
		if b.send(id, update) {
			continue
		}
		// Keep the most recent failures only; older ones drain on later edits.
		if len(dead) == b.maxEvictions {
			copy(dead, dead[1:])
			dead = dead[:len(dead)-1]
		}
		dead = append(dead, id)
	}

	for _, id := range dead {
		b.logger.Error("disabling buffer updates for dead channel %d", uint64(id))
		b.stats.evictions.Add(1)
		b.Unregister(buf, id)
	}
}

// NotifyRevisionOnly sends nvim_buf_changedtick to every subscriber.
// Delivery failures are ignored and never cause eviction.
func (b *Broadcaster) NotifyRevisionOnly(buf Buffer) {
	ids := buf.Channels().IDs()
	if len(ids) == 0 {
		return
	}
	ev := RevisionOnly{Buffer: buf.Handle(), Revision: buf.Revision()}
	for _, id := range ids {
		b.send(id, ev)
	}
}

func (b *Broadcaster) send(id channel.ID, ev Event) bool {
	ok := b.transport.Send(id, ev.Name(), ev.Args())
	b.stats.recordSend(ev.Name(), ok)
	if !ok {
		b.logger.Debug("send %s to channel %d failed", ev.Name(), uint64(id))
	}
	return ok
}
