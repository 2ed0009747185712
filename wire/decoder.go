// Package wire implements the line-delimited progress stream codec.
//
// Bytes flow through three stages, each owned by a single stream:
//
//	ChunkDecoder  -> text, with multi-byte runes preserved across chunks
//	LineAssembler -> complete "\n"-terminated lines
//	ParseLine     -> typed events from "data: " lines
//
// None of the stages lock; a stream feeds them from one goroutine.
package wire

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ChunkDecoder converts successive byte chunks into UTF-8 text.
//
// An incomplete multi-byte sequence at the end of a chunk is held back
// and completed by the next chunk. Ill-formed bytes become U+FFFD; the
// decoder never fails.
type ChunkDecoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

// NewChunkDecoder creates a decoder for one stream.
func NewChunkDecoder() *ChunkDecoder {
	return &ChunkDecoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text decodable so far from chunk plus any bytes
// held back from the previous call.
func (d *ChunkDecoder) Decode(chunk []byte) string {
	if len(chunk) == 0 && len(d.pending) == 0 {
		return ""
	}
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	return d.run(src, false)
}

// Flush decodes the held-back bytes at end of stream.
// A dangling partial sequence becomes U+FFFD.
func (d *ChunkDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	src := d.pending
	d.pending = nil
	out := d.run(src, true)
	d.t.Reset()
	return out
}

// Pending returns the number of bytes held back for the next chunk.
func (d *ChunkDecoder) Pending() int {
	return len(d.pending)
}

func (d *ChunkDecoder) run(src []byte, atEOF bool) string {
	var out []byte
	for {
		// Every ill-formed byte may expand to a 3-byte replacement rune.
		if need := 3*len(src) + utf8.UTFMax; cap(d.dst) < need {
			d.dst = make([]byte, need)
		}
		dst := d.dst[:cap(d.dst)]

		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			d.pending = d.pending[:0]
			return string(out)
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append(d.pending[:0], src...)
			return string(out)
		case errors.Is(err, transform.ErrShortDst):
			d.dst = make([]byte, 2*cap(d.dst))
		default:
			// The UTF-8 decoder only reports short buffers; anything else
			// is surfaced as replacement text so the stream keeps going.
			d.pending = d.pending[:0]
			out = append(out, string(utf8.RuneError)...)
			return string(out)
		}
	}
}
