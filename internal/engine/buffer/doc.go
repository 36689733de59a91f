// Package buffer provides the host's line-oriented text buffer.
//
// A Buffer owns:
//
//   - An ordered sequence of lines, stored in storage form (an embedded NUL
//     is kept as '\n', see package linecodec)
//   - A revision counter ("changedtick") that increases on every mutation
//   - A loaded flag; an unloaded buffer exists only as metadata
//   - The registry of channels subscribed to its changes
//
// Basic usage:
//
//	buf := buffer.New(1, buffer.WithName("scratch"))
//	buf.Load([]string{"hello", "world"})
//
//	// Replace line 2 with two lines
//	edit, err := buf.SetLines(1, 2, []string{"brave", "new world"})
//	// edit.FirstLine == 2, edit.Added == 2, edit.Removed == 1
//
// Indexing:
//
// Line numbers passed to Line are 1-based, matching how edits are reported.
// Ranges passed to Lines and SetLines are 0-based and end-exclusive; a
// negative index counts from the end, so -1 addresses the position just past
// the last line.
//
// Thread Safety:
//
// Buffer is not safe for concurrent use. The host serializes every access on
// its event loop.
package buffer
