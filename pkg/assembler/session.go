package assembler

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/sse"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

const unknownError = "Unknown error"

// userMessager is implemented by errors that carry text meant for the transcript.
type userMessager interface {
	UserMessage() string
}

// Session is one request/response cycle. It owns the handle of the assistant
// turn it fills and is discarded once the stream ended.
type Session struct {
	id     string
	a      *Assembler
	turn   *transcript.Handle
	logger zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	finishCh chan struct{}

	// guarded by a.mu
	finished  bool
	cancelled bool
	err       error
	seq       uint64
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) TurnID() string {
	return s.turn.ID()
}

// Done is closed once the decode loop returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Finished is closed once loading ended for this session: on the done frame,
// on cancellation or when the stream ended. The connection may still be open.
func (s *Session) Finished() <-chan struct{} {
	return s.finishCh
}

func (s *Session) Wait() {
	<-s.done
}

// Err returns the transport error that ended the session, if any. Cancellation
// is not reported.
func (s *Session) Err() error {
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	return s.err
}

// Cancel aborts the request and the read. Loading is cleared before Cancel
// returns and no record read afterwards is applied. Content accumulated so far
// is kept.
func (s *Session) Cancel() {
	s.a.mu.Lock()
	already := s.cancelled
	s.cancelled = true
	s.a.mu.Unlock()

	s.cancel()
	if !already {
		s.logger.Info().Msg("stream session cancelled")
	}
	s.finishLoading()
}

func (s *Session) run(req chatclient.Request) {
	defer close(s.done)
	defer s.end()

	body, err := s.a.transport.Open(s.ctx, req)
	if err != nil {
		s.fail(err)
		return
	}
	defer func() { _ = body.Close() }()

	dec := sse.NewDecoder(body, sse.WithChunkSize(s.a.chunkSize), sse.WithLogger(s.logger))
	for {
		rec, err := dec.Next(s.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.fail(err)
			}
			return
		}
		s.apply(rec)
	}
}

// fail routes a transport failure through the same path as an error record.
func (s *Session) fail(err error) {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Msg("stream ended by cancellation")
		return
	}

	s.a.mu.Lock()
	if s.cancelled {
		s.a.mu.Unlock()
		return
	}
	s.err = err
	s.a.mu.Unlock()

	s.logger.Warn().Err(err).Msg("stream session failed")
	payload, _ := json.Marshal(map[string]string{"error": describe(err)})
	s.apply(sse.Record{Type: sse.EventError, Data: payload})
}

func describe(err error) string {
	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownError
}

func (s *Session) apply(rec sse.Record) {
	a := s.a
	if !rec.Type.Known() {
		s.logger.Debug().Str("event", string(rec.Type)).Msg("ignoring unknown event type")
		return
	}

	a.mu.Lock()
	if s.cancelled || !s.turn.Open() {
		a.mu.Unlock()
		s.logger.Debug().Str("event", string(rec.Type)).Msg("dropping record for closed turn")
		return
	}
	applied, finish, err := fold(s.turn, rec)
	if err != nil {
		a.mu.Unlock()
		s.logger.Warn().Err(err).Str("event", string(rec.Type)).Msg("skipping record with unexpected shape")
		return
	}
	s.seq++
	meta := RecordMeta{SessionID: s.id, TurnID: s.turn.ID(), ThreadID: a.threadID, Seq: s.seq}
	var snap transcript.Snapshot
	if applied {
		snap = a.transcript.Snapshot()
	}
	a.mu.Unlock()

	if a.sink != nil {
		if err := a.sink.PublishRecord(s.ctx, meta, rec); err != nil {
			s.logger.Warn().Err(err).Uint64("seq", meta.Seq).Msg("could not publish record")
		}
	}
	if applied {
		a.observer.OnTranscript(snap)
	}
	if finish {
		s.logger.Debug().Msg("received done frame")
		s.finishLoading()
	}
}

type contentPayload struct {
	Content string `json:"content"`
}

type sqlPayload struct {
	SQL string `json:"sql"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// fold applies rec to the open turn. applied reports whether the turn changed,
// finish whether rec marks the end of the response.
func fold(turn *transcript.Handle, rec sse.Record) (applied bool, finish bool, err error) {
	switch rec.Type {
	case sse.EventData:
		var p contentPayload
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return false, false, errors.Wrap(err, "decode data payload")
		}
		return true, false, turn.AppendContent(p.Content)

	case sse.EventChart:
		var c transcript.ChartSpec
		if err := json.Unmarshal(rec.Data, &c); err != nil {
			return false, false, errors.Wrap(err, "decode chart payload")
		}
		if !c.ChartType.Valid() {
			return false, false, errors.Errorf("unsupported chart type %q", c.ChartType)
		}
		return true, false, turn.SetChart(c)

	case sse.EventMap:
		var g transcript.GeoPayload
		if err := json.Unmarshal(rec.Data, &g); err != nil {
			return false, false, errors.Wrap(err, "decode map payload")
		}
		return true, false, turn.SetMap(g)

	case sse.EventSQL:
		var p sqlPayload
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return false, false, errors.Wrap(err, "decode sql payload")
		}
		return true, false, turn.SetSQL(p.SQL)

	case sse.EventError:
		var p errorPayload
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return false, false, errors.Wrap(err, "decode error payload")
		}
		msg := p.Error
		if msg == "" {
			msg = unknownError
		}
		return true, false, turn.ReplaceContent("Error: " + msg)

	case sse.EventDone:
		return false, true, nil

	default:
		return false, false, errors.Errorf("unhandled event type %q", rec.Type)
	}
}

// end runs once the decode loop returned, whichever way it ended.
func (s *Session) end() {
	a := s.a
	a.mu.Lock()
	wasOpen := s.turn.Open()
	s.turn.Close()
	if a.active == s {
		a.active = nil
	}
	var snap transcript.Snapshot
	if wasOpen {
		snap = a.transcript.Snapshot()
	}
	a.mu.Unlock()

	if wasOpen {
		a.observer.OnTranscript(snap)
	}
	s.finishLoading()
	s.cancel()
	s.logger.Debug().Msg("stream session ended")
}

// finishLoading clears the streaming flag at most once per session.
func (s *Session) finishLoading() {
	a := s.a
	a.mu.Lock()
	if s.finished {
		a.mu.Unlock()
		return
	}
	s.finished = true
	close(s.finishCh)
	notify := false
	if a.active == s || a.active == nil {
		notify = a.loading
		a.loading = false
	}
	a.mu.Unlock()

	if notify {
		a.notifyLoading()
	}
}
