package bufupdate

import "github.com/dshills/bufstream/internal/engine/buffer"

// Wire event names.
const (
	EventStart        = "nvim_buf_updates_start"
	EventUpdate       = "nvim_buf_update"
	EventRevisionOnly = "nvim_buf_changedtick"
	EventEnd          = "nvim_buf_updates_end"
)

// Event is a notification that can be put on the wire.
type Event interface {
	// Name returns the wire event name.
	Name() string
	// Args returns the positional wire arguments.
	Args() []any
}

// Start is sent once to a newly registered channel.
type Start struct {
	Buffer   buffer.Handle
	Revision uint64
	Lines    []string
	// Empty is true when no snapshot was requested, as opposed to a buffer
	// that genuinely has no content.
	Empty bool
}

// Name implements Event.
func (Start) Name() string { return EventStart }

// Args implements Event.
func (e Start) Args() []any {
	return []any{int64(e.Buffer), e.Revision, nonNil(e.Lines), e.Empty}
}

// Update describes one edit.
type Update struct {
	Buffer buffer.Handle
	// Revision is nil when the host did not ask for it to be sent.
	Revision *uint64
	// FirstLine is the 0-based index of the first changed line.
	FirstLine int
	// LastLine is the 0-based index one past the last line that was replaced.
	LastLine int
	// Lines are the lines now occupying the changed range.
	Lines []string
}

// Name implements Event.
func (Update) Name() string { return EventUpdate }

// Args implements Event.
func (e Update) Args() []any {
	var rev any
	if e.Revision != nil {
		rev = *e.Revision
	}
	return []any{int64(e.Buffer), rev, e.FirstLine, e.LastLine, nonNil(e.Lines)}
}

// RevisionOnly reports a revision change without content change.
type RevisionOnly struct {
	Buffer   buffer.Handle
	Revision uint64
}

// Name implements Event.
func (RevisionOnly) Name() string { return EventRevisionOnly }

// Args implements Event.
func (e RevisionOnly) Args() []any {
	return []any{int64(e.Buffer), e.Revision}
}

// End is the terminal event for a channel on a buffer.
type End struct {
	Buffer buffer.Handle
}

// Name implements Event.
func (End) Name() string { return EventEnd }

// Args implements Event.
func (e End) Args() []any {
	return []any{int64(e.Buffer)}
}

// nonNil keeps empty line lists encoded as [] rather than null.
func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
