package assembler

import (
	"context"
	"io"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/sse"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

// Transport opens the response stream for one chat request.
type Transport interface {
	Open(ctx context.Context, req chatclient.Request) (io.ReadCloser, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req chatclient.Request) (io.ReadCloser, error)

func (f TransportFunc) Open(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

// Observer is notified after every transcript mutation and on every change of
// the streaming flag. Callbacks may arrive from different goroutines and must
// not block for long. OnLoadingChanged must not call back into the Assembler.
type Observer interface {
	OnTranscript(snapshot transcript.Snapshot)
	OnLoadingChanged(loading bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Transcript func(transcript.Snapshot)
	Loading    func(bool)
}

func (o ObserverFuncs) OnTranscript(s transcript.Snapshot) {
	if o.Transcript != nil {
		o.Transcript(s)
	}
}

func (o ObserverFuncs) OnLoadingChanged(loading bool) {
	if o.Loading != nil {
		o.Loading(loading)
	}
}

type nopObserver struct{}

func (nopObserver) OnTranscript(transcript.Snapshot) {}
func (nopObserver) OnLoadingChanged(bool)            {}

// RecordMeta identifies where an applied record belongs.
type RecordMeta struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Seq       uint64 `json:"seq"`
}

// RecordSink receives every record the assembler applied, in order.
type RecordSink interface {
	PublishRecord(ctx context.Context, meta RecordMeta, rec sse.Record) error
}
