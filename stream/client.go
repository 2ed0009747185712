// Package stream implements the streaming chat client.
//
// A Client issues one POST per Stream call and delivers the response's
// server-sent events to caller Handlers:
//   - the body is read in chunks, decoded as UTF-8 and split into lines
//   - "data: " lines are parsed into events and dispatched in order
//   - the first complete or error event ends the stream
//   - a body that closes without a terminal event is a protocol error
//
// Streams are independent; a Client may run any number concurrently.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/taskstream/log"
	"github.com/pithecene-io/taskstream/metrics"
	"github.com/pithecene-io/taskstream/types"
)

// DefaultReadBufferSize is the default size of a single body read.
const DefaultReadBufferSize = 4096

// maxErrorBodySize bounds how much of a non-2xx body is read.
const maxErrorBodySize = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. "https://api.example.com" (required).
	BaseURL string
	// HTTPClient issues requests. Defaults to a client without a timeout,
	// since streams are long-lived.
	HTTPClient *http.Client
	// Headers are added to every request.
	Headers map[string]string
	// IdleTimeout fails a stream when no progress or heartbeat arrives
	// within the interval. Zero disables it.
	IdleTimeout time.Duration
	// ReadBufferSize is the size of a single body read (default 4096).
	ReadBufferSize int
	// Logger receives lifecycle logs. May be nil.
	Logger *log.Logger
	// Collector receives stream metrics. May be nil.
	Collector *metrics.Collector
	// Now is the clock used for event timing. Defaults to time.Now.
	Now func() time.Time
	// NewStreamID generates stream ids. Defaults to uuid.NewString.
	NewStreamID func() string
}

// Client issues streaming chat requests.
type Client struct {
	config Config
	base   string
	http   *http.Client
}

// NewClient creates a client from the given config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("stream client requires a base URL")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", cfg.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("invalid base URL %q: query and fragment are not allowed", cfg.BaseURL)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("idle timeout must be >= 0, got %s", cfg.IdleTimeout)
	}
	if cfg.ReadBufferSize < 0 {
		return nil, fmt.Errorf("read buffer size must be >= 0, got %d", cfg.ReadBufferSize)
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewStreamID == nil {
		cfg.NewStreamID = uuid.NewString
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		config: cfg,
		base:   strings.TrimSuffix(u.String(), "/"),
		http:   httpClient,
	}, nil
}

// StreamPath returns the request path for a project. The id is path-escaped.
func StreamPath(projectID string) string {
	return "/api/projects/" + url.PathEscape(projectID) + "/chat/stream"
}

// Endpoint returns the full request URL for a project.
func (c *Client) Endpoint(projectID string) string {
	return c.base + StreamPath(projectID)
}

type chatBody struct {
	Message string `json:"message"`
}

// Stream issues one chat request and blocks until the stream terminates.
//
// Every failure is reported to h.OnError and also returned as a
// *StreamError. Canceling ctx abandons the stream: no handler fires
// afterwards and the returned error satisfies IsCanceledError.
// An invalid req is rejected before any request with a plain error
// and no handler call.
//
// The outcome is non-nil whenever req is valid.
func (c *Client) Stream(ctx context.Context, req types.ChatRequest, h Handlers) (*types.StreamOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chat request: %w", err)
	}
	return c.newSession(req, h).run(ctx)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, req types.ChatRequest, streamID string) (*http.Request, error) {
	body, err := json.Marshal(chatBody{Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(req.ProjectID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("X-Stream-Id", streamID)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
