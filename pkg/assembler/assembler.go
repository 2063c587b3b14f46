// Package assembler drives the frame decoder over a chat response stream and
// folds the decoded records into the open assistant turn of a transcript.
//
// Ownership model:
//   - The Assembler owns the transcript for the lifetime of one conversation.
//   - Each Send starts one Session; a session owns its request, its decoder and
//     the handle of the assistant turn it fills.
//   - Readers only ever get snapshots.
package assembler

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/sse"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

type Assembler struct {
	transport Transport
	threadID  string
	observer  Observer
	sink      RecordSink
	logger    zerolog.Logger
	chunkSize int

	mu         sync.Mutex
	transcript *transcript.Transcript
	loading    bool
	active     *Session

	// notifyMu serializes loading notifications; delivered is the last value
	// the observer saw.
	notifyMu  sync.Mutex
	delivered bool
}

type Option func(*Assembler)

// WithThreadID sets the conversation id sent with every request.
func WithThreadID(id string) Option {
	return func(a *Assembler) {
		a.threadID = strings.TrimSpace(id)
	}
}

func WithObserver(o Observer) Option {
	return func(a *Assembler) {
		if o != nil {
			a.observer = o
		}
	}
}

func WithSink(s RecordSink) Option {
	return func(a *Assembler) {
		a.sink = s
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

func WithChunkSize(n int) Option {
	return func(a *Assembler) {
		a.chunkSize = n
	}
}

func New(transport Transport, options ...Option) *Assembler {
	a := &Assembler{
		transport:  transport,
		observer:   nopObserver{},
		logger:     log.Logger,
		chunkSize:  sse.DefaultChunkSize,
		transcript: transcript.New(),
	}
	for _, opt := range options {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "assembler").Logger()
	return a
}

func (a *Assembler) ThreadID() string {
	return a.threadID
}

// Snapshot returns a copy of the current transcript.
func (a *Assembler) Snapshot() transcript.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript.Snapshot()
}

// IsStreaming reports whether a turn is currently loading.
func (a *Assembler) IsStreaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading
}

// Send appends the user turn and an empty assistant turn, then starts streaming
// the response into the assistant turn. Empty input and sends while a turn is
// loading are rejected without touching the transcript.
func (a *Assembler) Send(ctx context.Context, text string) (*Session, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		a.logger.Debug().Msg("ignoring empty prompt")
		return nil, false
	}

	a.mu.Lock()
	if a.loading {
		a.mu.Unlock()
		a.logger.Debug().Msg("ignoring prompt while a turn is streaming")
		return nil, false
	}
	// A session that already saw its done frame may still be draining.
	if prev := a.active; prev != nil {
		prev.cancelled = true
		prev.cancel()
	}

	prior := a.transcript.Messages()
	user, err := a.transcript.AppendUser(text)
	if err != nil {
		a.mu.Unlock()
		a.logger.Debug().Err(err).Msg("rejecting prompt")
		return nil, false
	}
	turn := a.transcript.AppendAssistant()

	req := chatclient.Request{
		Messages: append(prior, transcript.Message{Role: user.Role, Content: user.Content}),
	}
	if a.threadID != "" {
		id := a.threadID
		req.ThreadID = &id
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.NewString(),
		a:        a,
		turn:     turn,
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		finishCh: make(chan struct{}),
	}
	s.logger = a.logger.With().Str("session_id", s.id).Str("turn_id", turn.ID()).Logger()

	a.active = s
	a.loading = true
	snap := a.transcript.Snapshot()
	a.mu.Unlock()

	s.logger.Info().Int("messages", len(req.Messages)).Msg("starting stream session")
	a.notifyLoading()
	a.observer.OnTranscript(snap)

	go s.run(req)
	return s, true
}

// notifyLoading delivers the current loading state if it differs from the last
// one delivered. The state is read under notifyMu, so the observer always ends
// on the real value even when Send and Cancel race.
func (a *Assembler) notifyLoading() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	cur := a.loading
	a.mu.Unlock()

	if cur == a.delivered {
		return
	}
	a.delivered = cur
	a.observer.OnLoadingChanged(cur)
}

// Cancel aborts the active session, if any.
func (a *Assembler) Cancel() {
	a.mu.Lock()
	s := a.active
	a.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// SendAndWait sends text and blocks until its answer finished loading. A
// stream the backend keeps open after the done frame is closed, so the turn is
// final once SendAndWait returns.
func (a *Assembler) SendAndWait(ctx context.Context, text string) (*Session, bool) {
	s, ok := a.Send(ctx, text)
	if !ok {
		return nil, false
	}
	<-s.Finished()
	select {
	case <-s.Done():
	default:
		s.logger.Debug().Msg("closing stream left open after done")
		s.Cancel()
		s.Wait()
	}
	return s, true
}
