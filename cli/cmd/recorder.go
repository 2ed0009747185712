package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/taskstream/transcript"
	"github.com/pithecene-io/taskstream/types"
)

// streamRecorder captures dispatched envelopes for the transcript file
// and, when archiving, keeps them for the post-stream archive write.
// A nil writer disables recording; the recorder itself is always usable.
type streamRecorder struct {
	file   *os.File
	writer *transcript.Writer
	keep   bool
	events []types.EventEnvelope
	// err is the first transcript write error. Later envelopes are skipped.
	err error
}

// openRecorder creates path and writes the header. An empty path gives a
// recorder that only keeps envelopes when keep is set.
func openRecorder(path string, header transcript.Header, keep bool) (*streamRecorder, error) {
	rec := &streamRecorder{keep: keep}
	if path == "" {
		return rec, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create transcript directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create transcript %q: %w", path, err)
	}
	rec.file = f
	rec.writer = transcript.NewWriter(f)
	if err := rec.writer.WriteHeader(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return rec, nil
}

// onEvent is the stream OnEvent handler.
func (r *streamRecorder) onEvent(env types.EventEnvelope) {
	if r.keep {
		r.events = append(r.events, env)
	}
	if r.writer != nil && r.err == nil {
		r.err = r.writer.WriteEnvelope(env)
	}
}

// finish writes the outcome and closes the file.
func (r *streamRecorder) finish(out *types.StreamOutcome) error {
	if r.file == nil {
		return nil
	}
	err := r.err
	if err == nil {
		err = r.writer.WriteOutcome(out)
	}
	return errors.Join(err, r.file.Close())
}

// abort closes and removes a transcript that never saw a stream.
func (r *streamRecorder) abort() {
	if r.file == nil {
		return
	}
	_ = r.file.Close()
	_ = os.Remove(r.file.Name())
}
