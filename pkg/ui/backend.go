package ui

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

// ErrRejected is returned by Start when the prompt was empty or a turn is
// still streaming.
var ErrRejected = errors.New("prompt rejected")

// Backend drives an assembler on behalf of the chat model.
type Backend struct {
	assembler *assembler.Assembler
}

func NewBackend(a *assembler.Assembler) *Backend {
	return &Backend{assembler: a}
}

// Start sends prompt and returns a command that resolves once the response
// stream ended.
func (b *Backend) Start(ctx context.Context, prompt string) (tea.Cmd, error) {
	s, ok := b.assembler.Send(ctx, prompt)
	if !ok {
		return nil, ErrRejected
	}
	return func() tea.Msg {
		s.Wait()
		return FinishedMsg{SessionID: s.ID(), Err: s.Err()}
	}, nil
}

// Interrupt cancels the streaming turn, keeping what arrived so far.
func (b *Backend) Interrupt() {
	if b.IsFinished() {
		log.Debug().Str("component", "ui").Msg("nothing to interrupt")
		return
	}
	b.assembler.Cancel()
}

func (b *Backend) IsFinished() bool {
	return !b.assembler.IsStreaming()
}

func (b *Backend) Snapshot() transcript.Snapshot {
	return b.assembler.Snapshot()
}

// FinishedMsg is delivered when a response stream ended.
type FinishedMsg struct {
	SessionID string
	Err       error
}

// StateMsg carries the latest transcript and streaming flag.
type StateMsg struct {
	Snapshot transcript.Snapshot
	Loading  bool
}

// RecordMsg reports a record that went over the record bus.
type RecordMsg struct {
	Envelope redisstream.Envelope
}

// Forwarder is the assembler observer of the chat model. It keeps only the
// latest state and wakes the model up, so callbacks never block on the UI loop.
type Forwarder struct {
	mu      sync.Mutex
	snap    transcript.Snapshot
	loading bool
	notify  chan struct{}
}

var _ assembler.Observer = (*Forwarder)(nil)

func NewForwarder() *Forwarder {
	return &Forwarder{notify: make(chan struct{}, 1)}
}

func (f *Forwarder) OnTranscript(s transcript.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
	f.signal()
}

func (f *Forwarder) OnLoadingChanged(loading bool) {
	f.mu.Lock()
	f.loading = loading
	f.mu.Unlock()
	f.signal()
}

func (f *Forwarder) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Wait returns a command that blocks until the state changed.
func (f *Forwarder) Wait() tea.Cmd {
	return func() tea.Msg {
		<-f.notify
		f.mu.Lock()
		defer f.mu.Unlock()
		return StateMsg{Snapshot: f.snap, Loading: f.loading}
	}
}

// StepRecordForwardFunc forwards record envelopes from the bus into the
// program p.
func StepRecordForwardFunc(p *tea.Program) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		msg.Ack()

		env, err := redisstream.DecodeEnvelope(msg)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("failed to decode record envelope")
			return nil
		}
		p.Send(RecordMsg{Envelope: env})
		return nil
	}
}
