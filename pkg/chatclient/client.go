// Package chatclient opens the server-push response stream of the chat backend.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultPath    = "/api/chat"

	maxErrorBody = 4096
)

// Request is the body of one chat request: the ordered prior turns plus the new
// user turn, and an optional thread id.
type Request struct {
	Messages []transcript.Message `json:"messages"`
	ThreadID *string              `json:"thread_id"`
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat request failed with status %d", e.StatusCode)
}

// UserMessage is the text shown inside the assistant turn.
func (e *StatusError) UserMessage() string {
	return fmt.Sprintf("Request failed with status %d", e.StatusCode)
}

type noBodyError struct{}

func (noBodyError) Error() string       { return "chat response has no body" }
func (noBodyError) UserMessage() string { return "No response body" }

// ErrNoBody is returned when a success response carries no readable stream.
var ErrNoBody error = noBodyError{}

// Client posts chat requests over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	headers    http.Header
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithHeader(key, value string) Option {
	return func(cl *Client) {
		cl.headers.Set(key, value)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New creates a client for the backend at baseURL. The chat route is appended to it.
func New(baseURL string, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported url scheme %q", u.Scheme)
	}

	c := &Client{
		endpoint:   u.String() + DefaultPath,
		httpClient: http.DefaultClient,
		headers:    http.Header{},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "chatclient").Logger()
	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Open posts req and returns the response body once the backend accepted the
// request. Cancelling ctx aborts both the request and later reads of the body.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	if req.Messages == nil {
		req.Messages = []transcript.Message{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create chat request")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug().
		Str("endpoint", c.endpoint).
		Int("messages", len(req.Messages)).
		Msg("opening chat stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "do chat request")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(b)).
			Msg("chat request rejected")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}
	return resp.Body, nil
}
