package buffer

import (
	"errors"
	"fmt"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/linecodec"
)

// Errors returned by buffer operations.
var (
	ErrNotLoaded        = errors.New("buffer is not loaded")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
)

// Handle identifies a buffer for the lifetime of the host.
type Handle int64

// Edit describes a completed line replacement in the terms subscribers use.
type Edit struct {
	// FirstLine is the 1-based number of the first affected line.
	FirstLine int
	// Added is how many lines now occupy the affected range.
	Added int
	// Removed is how many lines previously occupied the affected range.
	Removed int
}

// Buffer is a loaded or unloaded line buffer.
type Buffer struct {
	handle      Handle
	name        string
	path        string
	lines       []string
	loaded      bool
	changedtick uint64
	channels    *channel.Registry
}

// New creates an unloaded buffer with the given handle.
func New(handle Handle, opts ...Option) *Buffer {
	b := &Buffer{
		handle:      handle,
		changedtick: 1,
		channels:    channel.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle returns the buffer's handle.
func (b *Buffer) Handle() Handle {
	return b.handle
}

// Name returns the buffer's display name.
func (b *Buffer) Name() string {
	return b.name
}

// Path returns the file the buffer was loaded from, if any.
func (b *Buffer) Path() string {
	return b.path
}

// Channels returns the registry of subscribed channels.
func (b *Buffer) Channels() *channel.Registry {
	return b.channels
}

// IsLoaded reports whether the buffer's lines are materialized.
func (b *Buffer) IsLoaded() bool {
	return b.loaded
}

// Load materializes the buffer with wire-form lines. An empty slice loads a
// single empty line. Loading bumps the revision.
func (b *Buffer) Load(lines []string) {
	if len(lines) == 0 {
		lines = []string{""}
	}
	b.lines = linecodec.EncodeLines(lines)
	b.loaded = true
	b.changedtick++
}

// Unload drops the buffer's lines. The buffer keeps its handle and revision.
func (b *Buffer) Unload() {
	b.lines = nil
	b.loaded = false
}

// Revision returns the buffer's changedtick.
func (b *Buffer) Revision() uint64 {
	return b.changedtick
}

// Touch bumps the revision without changing any line.
func (b *Buffer) Touch() uint64 {
	b.changedtick++
	return b.changedtick
}

// LineCount returns the number of lines. Unloaded buffers have none.
func (b *Buffer) LineCount() int {
	return len(b.lines)
}

// Line returns the 1-based line n in storage form, or "" when n is out of range.
func (b *Buffer) Line(n int) string {
	if n < 1 || n > len(b.lines) {
		return ""
	}
	return b.lines[n-1]
}

// Lines returns wire-form lines in the 0-based, end-exclusive range [start, end).
func (b *Buffer) Lines(start, end int) ([]string, error) {
	if !b.loaded {
		return nil, ErrNotLoaded
	}
	s, e, err := b.normalizeRange(start, end)
	if err != nil {
		return nil, err
	}
	return linecodec.DecodeLines(b.lines[s:e]), nil
}

// SetLines replaces the range [start, end) with wire-form lines and bumps the
// revision. The returned Edit is what subscribers are told about.
func (b *Buffer) SetLines(start, end int, replacement []string) (Edit, error) {
	if !b.loaded {
		return Edit{}, ErrNotLoaded
	}
	s, e, err := b.normalizeRange(start, end)
	if err != nil {
		return Edit{}, err
	}

	encoded := linecodec.EncodeLines(replacement)
	removed := e - s

	next := make([]string, 0, len(b.lines)-removed+len(encoded))
	next = append(next, b.lines[:s]...)
	next = append(next, encoded...)
	next = append(next, b.lines[e:]...)

	added := len(encoded)
	if len(next) == 0 {
		// A loaded buffer always keeps one line.
		next = []string{""}
		added = 1
	}

	b.lines = next
	b.changedtick++

	return Edit{FirstLine: s + 1, Added: added, Removed: removed}, nil
}

// normalizeRange resolves negative indexes and validates the range.
func (b *Buffer) normalizeRange(start, end int) (int, int, error) {
	n := len(b.lines)
	if start < 0 {
		start = n + start + 1
	}
	if end < 0 {
		end = n + end + 1
	}
	if start < 0 || start > n || end < 0 || end > n {
		return 0, 0, fmt.Errorf("%w: [%d, %d) with %d lines", ErrIndexOutOfBounds, start, end, n)
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: start %d after end %d", ErrIndexOutOfBounds, start, end)
	}
	return start, end, nil
}
