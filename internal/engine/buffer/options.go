package buffer

import "strings"

// Option is a functional option for configuring a Buffer.
type Option func(*Buffer)

// WithName sets the buffer's display name.
func WithName(name string) Option {
	return func(b *Buffer) {
		b.name = name
	}
}

// WithPath associates the buffer with a file on disk.
func WithPath(path string) Option {
	return func(b *Buffer) {
		b.path = path
	}
}

// SplitLines splits file text into wire-form lines. CRLF and LF endings are
// both accepted, and a trailing line ending does not produce an extra empty
// line.
func SplitLines(text string) []string {
	if text == "" {
		return []string{""}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
