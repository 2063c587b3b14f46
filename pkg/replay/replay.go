// Package replay serves a captured event stream as if it came from the backend.
package replay

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
)

// Source replays a file once per request. Path "-" reads standard input, which
// can only be replayed once.
type Source struct {
	path   string
	stdin  io.Reader
	delay  time.Duration
	piece  int
	logger zerolog.Logger

	mu        sync.Mutex
	stdinUsed bool
}

type Option func(*Source)

// WithPacing sleeps delay before each read of at most piece bytes, mimicking a
// live stream.
func WithPacing(delay time.Duration, piece int) Option {
	return func(s *Source) {
		s.delay = delay
		s.piece = piece
	}
}

func WithStdin(r io.Reader) Option {
	return func(s *Source) {
		s.stdin = r
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

func New(path string, options ...Option) *Source {
	s := &Source{
		path:   path,
		stdin:  os.Stdin,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "replay").Str("path", path).Logger()
	return s
}

func (s *Source) Open(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug().Int("messages", len(req.Messages)).Msg("replaying captured stream")

	var rc io.ReadCloser
	if s.path == "-" {
		s.mu.Lock()
		used := s.stdinUsed
		s.stdinUsed = true
		s.mu.Unlock()
		if used {
			return nil, errors.New("standard input was already replayed")
		}
		rc = io.NopCloser(s.stdin)
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, errors.Wrapf(err, "open capture %s", s.path)
		}
		rc = f
	}

	if s.delay <= 0 && s.piece <= 0 {
		return &ctxReader{ctx: ctx, rc: rc}, nil
	}
	return &pacedReader{ctx: ctx, rc: rc, delay: s.delay, piece: s.piece}, nil
}

// ctxReader stops returning data once ctx is done.
type ctxReader struct {
	ctx context.Context
	rc  io.ReadCloser
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.rc.Read(p)
}

func (r *ctxReader) Close() error {
	return r.rc.Close()
}

type pacedReader struct {
	ctx   context.Context
	rc    io.ReadCloser
	delay time.Duration
	piece int
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if r.delay > 0 {
		t := time.NewTimer(r.delay)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return 0, r.ctx.Err()
		case <-t.C:
		}
	} else if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.piece > 0 && len(p) > r.piece {
		p = p[:r.piece]
	}
	return r.rc.Read(p)
}

func (r *pacedReader) Close() error {
	return r.rc.Close()
}
