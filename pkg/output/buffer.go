// Package output holds the per-session output buffer and persists it as a
// markdown artifact.
package output

import "strings"

// MaxBytes is the hard cap on the buffer size.
const MaxBytes = 100_000

// Buffer accumulates the text of a session's artifact. The zero value is
// an empty buffer ready for use. A Buffer is not safe for concurrent use.
type Buffer struct {
	b []byte
}

// Append adds s to the buffer and enforces the size cap. It reports
// whether the buffer had to be truncated.
func (b *Buffer) Append(s string) bool {
	b.b = append(b.b, s...)
	if len(b.b) > MaxBytes {
		b.b = b.b[:MaxBytes]
		return true
	}
	return false
}

// AppendLine adds s followed by a newline.
func (b *Buffer) AppendLine(s string) bool {
	truncated := b.Append(s)
	return b.Append("\n") || truncated
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.b = b.b[:0]
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return len(b.b)
}

// IsBlank reports whether the buffer holds only whitespace.
func (b *Buffer) IsBlank() bool {
	return strings.TrimSpace(string(b.b)) == ""
}

func (b *Buffer) String() string {
	return string(b.b)
}
