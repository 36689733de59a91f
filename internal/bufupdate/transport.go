package bufupdate

import "github.com/dshills/bufstream/internal/channel"

// Transport delivers a notification to one channel.
//
// Send must not block waiting for the subscriber. It returns false exactly
// when the channel is known to be dead; a message lost on a live channel is
// still reported as true.
type Transport interface {
	Send(id channel.ID, event string, args []any) bool
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(id channel.ID, event string, args []any) bool

// Send implements Transport.
func (f TransportFunc) Send(id channel.ID, event string, args []any) bool {
	return f(id, event, args)
}
