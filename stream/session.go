package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pithecene-io/taskstream/iox"
	"github.com/pithecene-io/taskstream/log"
	"github.com/pithecene-io/taskstream/types"
	"github.com/pithecene-io/taskstream/wire"
)

// State is a connection lifecycle state.
type State int

const (
	// StateIdle is the state before the request is issued.
	StateIdle State = iota
	// StateRequesting is the state while waiting for response headers.
	StateRequesting
	// StateStreamingOpen is the state while the body is being read.
	StateStreamingOpen
	// StateTerminated is the final state.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreamingOpen:
		return "streaming_open"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// maxLoggedLine bounds how much of a malformed line is logged.
const maxLoggedLine = 256

// session is the state of one Stream call. Not safe for concurrent use;
// everything runs on the caller's goroutine.
type session struct {
	client     *Client
	id         string
	req        types.ChatRequest
	logger     *log.Logger
	dispatcher *Dispatcher
	decoder    *wire.ChunkDecoder
	lines      *wire.LineAssembler

	state      State
	statusCode int

	// parent is the caller context; ctx derives from it and also carries
	// the idle watchdog cause.
	parent context.Context
	ctx    context.Context
	wd     *watchdog
}

func (c *Client) newSession(req types.ChatRequest, h Handlers) *session {
	id := c.config.NewStreamID()
	logger := c.config.Logger.ForStream(log.StreamMeta{StreamID: id, ProjectID: req.ProjectID})
	return &session{
		client:     c,
		id:         id,
		req:        req,
		logger:     logger,
		dispatcher: NewDispatcher(h, logger, c.config.Collector, c.config.Now),
		decoder:    wire.NewChunkDecoder(),
		lines:      wire.NewLineAssembler(),
		state:      StateIdle,
	}
}

func (s *session) transition(to State) {
	s.logger.Debug("stream state", map[string]any{
		"from": s.state.String(),
		"to":   to.String(),
	})
	s.state = to
}

func (s *session) run(parent context.Context) (*types.StreamOutcome, error) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	s.parent = parent
	s.ctx = ctx

	s.client.config.Collector.IncStreamStarted()
	s.transition(StateRequesting)

	resp, err := s.open()
	if err != nil {
		s.interrupted(err)
		return s.outcome()
	}
	defer iox.DiscardClose(resp.Body)
	s.statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.failStatus(resp)
		return s.outcome()
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		s.dispatcher.Fail(&StreamError{
			Kind:       ErrorKindTransport,
			Message:    MsgNoBody,
			StatusCode: resp.StatusCode,
		})
		return s.outcome()
	}

	s.transition(StateStreamingOpen)
	s.logger.Info("stream opened", map[string]any{
		"status": resp.StatusCode,
	})

	// Closing the body unblocks a pending Read on cancellation or idle expiry.
	stop := iox.CloseOnDone(ctx, resp.Body)
	defer stop()

	s.wd = startWatchdog(s.client.config.IdleTimeout, cancel)
	defer s.wd.Stop()

	s.readLoop(resp.Body)
	return s.outcome()
}

func (s *session) open() (*http.Response, error) {
	httpReq, err := s.client.newRequest(s.ctx, s.req, s.id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("issuing request", map[string]any{
		"url": httpReq.URL.String(),
	})
	return s.client.http.Do(httpReq)
}

func (s *session) readLoop(body io.Reader) {
	buf := make([]byte, s.client.config.ReadBufferSize)
	for {
		if err := s.ctx.Err(); err != nil {
			s.interrupted(err)
			return
		}

		n, err := body.Read(buf)
		if n > 0 {
			s.client.config.Collector.AddBytesRead(n)
			if s.processText(s.decoder.Decode(buf[:n])) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.endOfStream()
				return
			}
			s.interrupted(err)
			return
		}
	}
}

// processText feeds decoded text through line assembly and dispatch.
// Returns true once the stream is done.
func (s *session) processText(text string) bool {
	for _, line := range s.lines.Push(text) {
		if err := s.ctx.Err(); err != nil {
			s.interrupted(err)
			return true
		}
		if s.processLine(line) {
			return true
		}
	}
	return false
}

func (s *session) processLine(line string) bool {
	collector := s.client.config.Collector

	ev, kind, err := wire.ParseLine(line)
	switch kind {
	case wire.LineIgnored:
		collector.IncIgnoredLine()
		return false
	case wire.LineMalformed:
		collector.IncMalformedFrame()
		s.logger.Warn("skipping malformed frame", map[string]any{
			"error": err.Error(),
			"line":  truncate(line, maxLoggedLine),
		})
		return false
	case wire.LineUnknownType:
		collector.IncUnknownEvent()
		s.logger.Debug("ignoring unknown event type", map[string]any{
			"type": ev.Type,
		})
		return false
	}

	if ev.Type == types.EventTypeProgress || ev.Type == types.EventTypeHeartbeat {
		s.wd.Reset()
	}
	return s.dispatcher.Dispatch(ev)
}

// endOfStream handles EOF. A stream canceled by a handler while the final
// bytes were dispatched is abandoned, not closed unexpectedly.
func (s *session) endOfStream() {
	if err := s.ctx.Err(); err != nil {
		s.interrupted(err)
		return
	}
	if tail := s.decoder.Flush(); tail != "" {
		if s.processText(tail) {
			return
		}
	}
	if n := s.lines.Len(); n > 0 {
		s.logger.Debug("discarding unterminated trailing line", map[string]any{
			"bytes": n,
		})
	}
	s.lines.Reset()

	if err := s.ctx.Err(); err != nil {
		s.interrupted(err)
		return
	}
	if !s.dispatcher.Done() {
		s.dispatcher.Fail(&StreamError{
			Kind:       ErrorKindProtocol,
			Message:    MsgClosedUnexpectedly,
			StatusCode: s.statusCode,
		})
	}
}

// interrupted classifies an error that ended the request or a read.
func (s *session) interrupted(err error) {
	if s.parent.Err() != nil {
		if !s.dispatcher.Done() {
			s.logger.Info("stream abandoned", map[string]any{
				"reason": s.parent.Err().Error(),
			})
		}
		s.dispatcher.Abandon()
		return
	}
	if errors.Is(context.Cause(s.ctx), errIdleTimeout) {
		s.dispatcher.Fail(&StreamError{
			Kind:       ErrorKindIdle,
			Message:    MsgIdleTimeout,
			StatusCode: s.statusCode,
		})
		return
	}

	message := "stream read failed"
	if s.state == StateRequesting {
		message = "request failed"
	}
	s.dispatcher.Fail(&StreamError{
		Kind:       ErrorKindTransport,
		Message:    message,
		StatusCode: s.statusCode,
		Err:        err,
	})
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Details json.RawMessage `json:"details"`
}

// failStatus reports a non-2xx response. A string "detail" becomes the
// message; "details" (or a non-string "detail") becomes the structured detail.
func (s *session) failStatus(resp *http.Response) {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	}
	message, detail := parseErrorBody(body)
	if message == "" {
		message = fmt.Sprintf("request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	s.dispatcher.Fail(&StreamError{
		Kind:       ErrorKindTransport,
		Message:    message,
		StatusCode: resp.StatusCode,
		Detail:     detail,
	})
}

func parseErrorBody(body []byte) (string, json.RawMessage) {
	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		return "", nil
	}

	var message string
	detailIsString := len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &message) == nil

	var detail json.RawMessage
	switch {
	case present(eb.Details):
		detail = eb.Details
	case present(eb.Detail) && !detailIsString:
		detail = eb.Detail
	}
	return message, detail
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (s *session) outcome() (*types.StreamOutcome, error) {
	s.transition(StateTerminated)

	d := s.dispatcher
	now := s.client.config.Now()
	out := &types.StreamOutcome{
		StreamID:      s.id,
		ProjectID:     s.req.ProjectID,
		StatusCode:    s.statusCode,
		ProgressCount: d.ProgressCount(),
		StartedAt:     d.Start(),
		DurationMs:    now.Sub(d.Start()).Milliseconds(),
	}

	var err error
	switch {
	case d.Abandoned():
		out.Status = types.OutcomeAbandoned
		out.Message = MsgCanceled
		err = &StreamError{Kind: ErrorKindCanceled, Message: MsgCanceled, Err: s.parent.Err()}
	case d.Failure() != nil:
		f := d.Failure()
		out.Status = f.Kind.Outcome()
		out.Message = f.Message
		out.Detail = f.Detail
		err = f
	default:
		if t, ok := d.Terminal(); ok && t.Complete != nil {
			out.Status = types.OutcomeSuccess
			out.Response = t.Complete.Response
			out.IntentType = t.Complete.IntentType
		} else {
			out.Status = types.OutcomeProtocolError
			out.Message = MsgClosedUnexpectedly
			err = &StreamError{Kind: ErrorKindProtocol, Message: MsgClosedUnexpectedly}
		}
	}

	s.client.config.Collector.RecordOutcome(string(out.Status))
	s.logger.Info("stream terminated", map[string]any{
		"status":         string(out.Status),
		"progress_count": out.ProgressCount,
		"duration_ms":    out.DurationMs,
	})
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
