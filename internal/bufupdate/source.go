package bufupdate

import (
	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/engine/linecodec"
)

// RevisionTracker exposes a buffer's monotonically increasing revision.
type RevisionTracker interface {
	Revision() uint64
}

// Buffer is the view of a host buffer the broadcaster needs.
// *buffer.Buffer satisfies it.
type Buffer interface {
	RevisionTracker

	// Handle identifies the buffer on the wire.
	Handle() buffer.Handle
	// IsLoaded reports whether the buffer's lines are materialized.
	IsLoaded() bool
	// LineCount returns the number of lines.
	LineCount() int
	// Line returns the 1-based line n in storage form.
	Line(n int) string
	// Channels returns the buffer's subscriber registry.
	Channels() *channel.Registry
}

var _ Buffer = (*buffer.Buffer)(nil)

// SnapshotBuilder materializes a buffer's full content in wire form.
type SnapshotBuilder struct{}

// Build returns every line of buf, in order, with NUL bytes restored.
func (SnapshotBuilder) Build(buf Buffer) []string {
	n := buf.LineCount()
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		lines[i] = linecodec.Decode(buf.Line(i + 1))
	}
	return lines
}

// DiffEncoder materializes the lines inserted by an edit in wire form.
type DiffEncoder struct{}

// Encode returns count consecutive lines of buf starting at the 1-based
// firstLine, read from the post-edit content. A non-positive count yields an
// empty list.
func (DiffEncoder) Encode(buf Buffer, firstLine, count int) []string {
	if count <= 0 {
		return []string{}
	}
	lines := make([]string, count)
	for i := 0; i < count; i++ {
		lines[i] = linecodec.Decode(buf.Line(firstLine + i))
	}
	return lines
}
