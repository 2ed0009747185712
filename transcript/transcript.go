// Package transcript records streams as length-prefixed msgpack records.
//
// A transcript file is a sequence of records, each a 4-byte big-endian
// payload length followed by a msgpack payload:
//   - one header record identifying the stream
//   - one event record per dispatched event, in dispatch order
//   - one outcome record once the stream terminates
//
// A transcript without an outcome record is valid; it is what a crashed
// or interrupted recording leaves behind.
package transcript

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/taskstream/types"
)

// Size constants.
const (
	// MaxRecordSize is the maximum record size (1 MiB), including length prefix.
	MaxRecordSize = 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxRecordSize - 4 bytes).
	MaxPayloadSize = MaxRecordSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// RecordKind discriminates records.
type RecordKind string

const (
	// RecordHeader is the first record of a transcript.
	RecordHeader RecordKind = "header"
	// RecordEvent carries one dispatched event.
	RecordEvent RecordKind = "event"
	// RecordOutcome carries the stream outcome.
	RecordOutcome RecordKind = "outcome"
)

// Header identifies the recorded stream.
type Header struct {
	// Version is the client version that wrote the transcript.
	Version   string    `msgpack:"version"`
	StreamID  string    `msgpack:"stream_id"`
	ProjectID string    `msgpack:"project_id"`
	Endpoint  string    `msgpack:"endpoint"`
	Message   string    `msgpack:"message"`
	StartedAt time.Time `msgpack:"started_at"`
}

// Record is one transcript entry. Exactly one payload field is set,
// matching Kind.
type Record struct {
	Kind     RecordKind           `msgpack:"kind"`
	Header   *Header              `msgpack:"header,omitempty"`
	Envelope *types.EventEnvelope `msgpack:"envelope,omitempty"`
	Outcome  *types.StreamOutcome `msgpack:"outcome,omitempty"`
}

// Validate checks that the payload matches Kind.
func (r *Record) Validate() error {
	switch r.Kind {
	case RecordHeader:
		if r.Header == nil {
			return errors.New("header record has no header")
		}
	case RecordEvent:
		if r.Envelope == nil {
			return errors.New("event record has no envelope")
		}
	case RecordOutcome:
		if r.Outcome == nil {
			return errors.New("outcome record has no outcome")
		}
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	return nil
}

// ErrorKind classifies record decoding errors.
type ErrorKind int

const (
	// ErrorPartial indicates a truncated record.
	ErrorPartial ErrorKind = iota
	// ErrorTooLarge indicates a record exceeding MaxRecordSize.
	ErrorTooLarge
	// ErrorDecode indicates a msgpack or shape error.
	ErrorDecode
)

// RecordError represents a record decoding error.
type RecordError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsPartial returns true if err is a truncated-record error.
func IsPartial(err error) bool {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr.Kind == ErrorPartial
	}
	return false
}

// Writer appends records to an io.Writer. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the header record.
func (w *Writer) WriteHeader(h Header) error {
	return w.Write(&Record{Kind: RecordHeader, Header: &h})
}

// WriteEnvelope writes an event record.
func (w *Writer) WriteEnvelope(env types.EventEnvelope) error {
	return w.Write(&Record{Kind: RecordEvent, Envelope: &env})
}

// WriteOutcome writes the outcome record.
func (w *Writer) WriteOutcome(out *types.StreamOutcome) error {
	return w.Write(&Record{Kind: RecordOutcome, Outcome: out})
}

// Write encodes and writes one record with its length prefix.
func (w *Writer) Write(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Kind, err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%s record size %d exceeds maximum %d", rec.Kind, len(payload), MaxPayloadSize)
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("write %s record: %w", rec.Kind, err)
	}
	return nil
}

// Reader decodes records from an io.Reader.
type Reader struct {
	r io.Reader
}

// NewReader creates a reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads one record.
//
// Errors:
//   - io.EOF: the transcript ended cleanly
//   - *RecordError with Kind=ErrorPartial: truncated record
//   - *RecordError with Kind=ErrorTooLarge: record exceeds limit
//   - *RecordError with Kind=ErrorDecode: payload is not a valid record
func (r *Reader) Next() (*Record, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &RecordError{Kind: ErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &RecordError{
			Kind: ErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &RecordError{Kind: ErrorPartial, Msg: "failed to read payload", Err: err}
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &RecordError{Kind: ErrorDecode, Msg: "failed to decode record", Err: err}
	}
	if err := rec.Validate(); err != nil {
		return nil, &RecordError{Kind: ErrorDecode, Msg: "invalid record", Err: err}
	}
	return &rec, nil
}

// Transcript is a fully read transcript.
type Transcript struct {
	Header    Header
	Envelopes []types.EventEnvelope
	// Outcome is nil when the recording ended before the stream did.
	Outcome *types.StreamOutcome
}

// ReadAll reads a complete transcript. The first record must be a header
// and nothing may follow the outcome. A truncated final record is
// reported as an error along with the records read so far.
func ReadAll(r io.Reader) (*Transcript, error) {
	reader := NewReader(r)

	first, err := reader.Next()
	if err == io.EOF {
		return nil, errors.New("empty transcript")
	}
	if err != nil {
		return nil, err
	}
	if first.Kind != RecordHeader {
		return nil, fmt.Errorf("transcript starts with %s record, want header", first.Kind)
	}

	t := &Transcript{Header: *first.Header}
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return t, err
		}
		if t.Outcome != nil {
			return t, fmt.Errorf("%s record after outcome", rec.Kind)
		}

		switch rec.Kind {
		case RecordEvent:
			t.Envelopes = append(t.Envelopes, *rec.Envelope)
		case RecordOutcome:
			t.Outcome = rec.Outcome
		case RecordHeader:
			return t, errors.New("duplicate header record")
		}
	}
}
