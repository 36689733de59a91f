package bufupdate

import "github.com/dshills/bufstream/internal/logging"

// DefaultMaxEvictionsPerEdit bounds how many dead channels one NotifyEdit
// call removes.
const DefaultMaxEvictionsPerEdit = 1

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMaxEvictionsPerEdit changes the eviction bound. Values below one are
// ignored.
func WithMaxEvictionsPerEdit(n int) Option {
	return func(b *Broadcaster) {
		if n >= 1 {
			b.maxEvictions = n
		}
	}
}

// WithStats sets the counters the broadcaster updates.
func WithStats(s *Stats) Option {
	return func(b *Broadcaster) {
		if s != nil {
			b.stats = s
		}
	}
}
