package wire

import "bytes"

// LineAssembler accumulates decoded text and yields complete lines.
//
// The trailing segment after the last "\n" stays buffered because it may
// be the prefix of a line that has not arrived yet. Lines are returned
// without the terminator, in stream order, including empty ones.
type LineAssembler struct {
	buf []byte
}

// NewLineAssembler creates an empty assembler.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{}
}

// Push appends text and returns the lines it completed.
func (a *LineAssembler) Push(text string) []string {
	if text == "" {
		return nil
	}

	// The buffer holds no "\n" between calls, so only new text is scanned.
	scanFrom := len(a.buf)
	a.buf = append(a.buf, text...)

	idx := bytes.IndexByte(a.buf[scanFrom:], '\n')
	if idx < 0 {
		return nil
	}
	idx += scanFrom

	var lines []string
	start := 0
	for idx >= 0 {
		lines = append(lines, string(a.buf[start:idx]))
		start = idx + 1
		next := bytes.IndexByte(a.buf[start:], '\n')
		if next < 0 {
			break
		}
		idx = start + next
	}

	// Keep the partial tail in place for the next call.
	n := copy(a.buf, a.buf[start:])
	a.buf = a.buf[:n]
	return lines
}

// Remainder returns the buffered partial line.
func (a *LineAssembler) Remainder() string {
	return string(a.buf)
}

// Len returns the number of buffered bytes.
func (a *LineAssembler) Len() int {
	return len(a.buf)
}

// Reset discards the buffered partial line.
func (a *LineAssembler) Reset() {
	a.buf = a.buf[:0]
}
