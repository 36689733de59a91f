package bufupdate

import "sync/atomic"

// Stats counts broadcaster activity. Counters may be read from any goroutine.
type Stats struct {
	starts        atomic.Uint64
	updates       atomic.Uint64
	revisionOnly  atomic.Uint64
	ends          atomic.Uint64
	failedSends   atomic.Uint64
	evictions     atomic.Uint64
	rejectedLoads atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Starts        uint64
	Updates       uint64
	RevisionOnly  uint64
	Ends          uint64
	FailedSends   uint64
	Evictions     uint64
	RejectedLoads uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Starts:        s.starts.Load(),
		Updates:       s.updates.Load(),
		RevisionOnly:  s.revisionOnly.Load(),
		Ends:          s.ends.Load(),
		FailedSends:   s.failedSends.Load(),
		Evictions:     s.evictions.Load(),
		RejectedLoads: s.rejectedLoads.Load(),
	}
}

func (s *Stats) recordSend(event string, ok bool) {
	switch event {
	case EventStart:
		s.starts.Add(1)
	case EventUpdate:
		s.updates.Add(1)
	case EventRevisionOnly:
		s.revisionOnly.Add(1)
	case EventEnd:
		s.ends.Add(1)
	}
	if !ok {
		s.failedSends.Add(1)
	}
}
