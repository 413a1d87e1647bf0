package sketch

import "strings"

// Buffer accumulates received characters until a line terminator arrives.
// It never holds more than one line: the line is handed out and the buffer
// cleared in the same call.
type Buffer struct {
	b []byte
}

// Feed appends c.  When c is '\n' the accumulated text, trimmed of
// surrounding whitespace, is returned with ok set and the buffer is reset.
func (b *Buffer) Feed(c byte) (line string, ok bool) {
	if c != '\n' {
		b.b = append(b.b, c)
		return "", false
	}
	line = strings.TrimSpace(string(b.b))
	b.b = b.b[:0]
	return line, true
}

// Len is the number of bytes waiting for a terminator.
func (b *Buffer) Len() int {
	return len(b.b)
}
