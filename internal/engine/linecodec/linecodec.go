// Package linecodec converts lines between storage form and wire form.
//
// A stored line can never contain a line terminator, so an embedded NUL byte
// is kept as '\n' while the line lives in a buffer. Lines leaving the process
// are decoded back so subscribers see the real NUL.
package linecodec

import "strings"

const (
	nul     = "\x00"
	newline = "\n"
)

// Encode converts a wire line to storage form (NUL becomes '\n').
func Encode(s string) string {
	if !strings.Contains(s, nul) {
		return s
	}
	return strings.ReplaceAll(s, nul, newline)
}

// Decode converts a stored line to wire form ('\n' becomes NUL).
func Decode(s string) string {
	if !strings.Contains(s, newline) {
		return s
	}
	return strings.ReplaceAll(s, newline, nul)
}

// EncodeLines encodes every line into a new slice.
func EncodeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = Encode(line)
	}
	return out
}

// DecodeLines decodes every line into a new slice.
func DecodeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = Decode(line)
	}
	return out
}
