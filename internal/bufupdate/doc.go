// Package bufupdate broadcasts buffer changes to subscribed channels.
//
// A subscriber registers for a buffer and receives, in order:
//
//	nvim_buf_updates_start  once, with the revision and (optionally) every line
//	nvim_buf_update         for each edit, with the changed range and new lines
//	nvim_buf_changedtick    when only the revision moved
//	nvim_buf_updates_end    once, when unregistered or the buffer goes away
//
// Nothing follows nvim_buf_updates_end for that subscriber on that buffer.
//
// # Components
//
//   - Broadcaster: entry points called by the host on buffer lifecycle and edit
//     events; owns the dead channel eviction policy
//   - SnapshotBuilder: materializes every line of a buffer for nvim_buf_updates_start
//   - DiffEncoder: materializes the inserted lines of an edit for nvim_buf_update
//   - Transport: the point-to-point delivery collaborator, keyed by channel id
//
// The subscriber list itself lives in the buffer (see package channel).
//
// # Dead channels
//
// Transport.Send returns false only when a channel is known to be gone. During
// NotifyEdit such channels are remembered and evicted after the traversal
// completes, never during it. At most one channel is evicted per NotifyEdit
// call by default, so the cost of failure handling per edit stays constant;
// other dead channels are picked up by later edits. NotifyRevisionOnly never
// evicts.
//
// # Thread Safety
//
// A Broadcaster must only be used from the goroutine that owns the buffers it
// is called with. Transports must not block in Send.
package bufupdate
