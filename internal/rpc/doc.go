// Package rpc connects buffer-update subscribers to the host.
//
// A Hub assigns every connected peer a channel id and implements the
// broadcaster's Transport: notifications are queued per channel and written
// by a goroutine owned by that channel, so a slow peer never stalls the
// event loop. A channel whose endpoint has closed reports itself dead and is
// evicted by the broadcaster on the next edit.
//
// Peers speak JSON-RPC 2.0. Stream endpoints (stdio, unix and TCP sockets)
// use Content-Length framing; websocket endpoints send one message per text
// frame. A Redis endpoint mirrors notifications to a pub/sub topic and has
// no inbound side.
//
// Requests:
//
//	buf_attach          [buf, send_buffer]        -> bool
//	buf_detach          [buf]                     -> bool
//	buf_get_lines       [buf, start, end]         -> [string]
//	buf_set_lines       [buf, start, end, lines]  -> null
//	buf_line_count      [buf]                     -> int
//	buf_get_changedtick [buf]                     -> int
//	list_bufs           []                        -> [int]
//	get_channel_id      []                        -> int
//	redis_attach        [buf, send_buffer?]       -> int
//	redis_detach        [buf]                     -> bool
//
// Notifications sent to attached channels are nvim_buf_updates_start,
// nvim_buf_update, nvim_buf_changedtick and nvim_buf_updates_end.
package rpc
