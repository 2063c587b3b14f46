package mockbackend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/sse"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

func newBackend(t *testing.T, options ...Option) (*httptest.Server, *chatclient.Client) {
	t.Helper()
	srv := httptest.NewServer(New(options...).Handler())
	t.Cleanup(srv.Close)
	c, err := chatclient.New(srv.URL, chatclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return srv, c
}

func TestChat_FullScenarioEndToEnd(t *testing.T) {
	_, client := newBackend(t, WithChunkRunes(7))

	rec := &loadingRecorder{}
	a := assembler.New(client, assembler.WithObserver(rec), assembler.WithThreadID("thread-1"))
	s, ok := a.SendAndWait(context.Background(), "show a chart and map of terminals")
	require.True(t, ok)
	require.NoError(t, s.Err())

	last, ok := a.Snapshot().Last()
	require.True(t, ok)
	want := DefaultResponder("show a chart and map of terminals")
	require.Equal(t, want.Markdown, last.Content)
	require.Equal(t, want.SQL, last.SQL)
	require.NotNil(t, last.Chart)
	require.Equal(t, transcript.ChartBar, last.Chart.ChartType)
	require.Equal(t, float64(12), last.Chart.Data[0]["routes"])
	require.NotNil(t, last.Map)
	require.Len(t, last.Map.Features, 3)
	require.Equal(t, []bool{true, false}, rec.get())
}

func TestChat_FailingScenarioReportsError(t *testing.T) {
	_, client := newBackend(t)
	a := assembler.New(client)

	s, ok := a.SendAndWait(context.Background(), "please fail")
	require.True(t, ok)
	require.NoError(t, s.Err())

	last, _ := a.Snapshot().Last()
	require.Equal(t, "Error: "+internalError, last.Content)
	require.Equal(t, "SELECT broken FROM nowhere", last.SQL)
}

func TestChat_WireFormat(t *testing.T) {
	srv, _ := newBackend(t, WithResponder(func(q string) Scenario {
		return Scenario{SQL: "SELECT 1", Markdown: "héllo wörld"}
	}), WithChunkRunes(4))

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"}],"thread_id":null}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t,
		"event: sql\ndata: {\"sql\":\"SELECT 1\"}\n\n"+
			"event: data\ndata: {\"content\":\"héll\"}\n\n"+
			"event: data\ndata: {\"content\":\"o wö\"}\n\n"+
			"event: data\ndata: {\"content\":\"rld\"}\n\n"+
			"event: done\ndata: {\"status\":\"complete\"}\n\n",
		string(b))
}

func TestChat_NoUserMessage(t *testing.T) {
	srv, _ := newBackend(t)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"assistant","content":"hello"}]}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "event: error\ndata: {\"error\":\"No user message provided\"}\n\n", string(b))

	var recs []sse.Record
	for rec, err := range sse.NewDecoder(strings.NewReader(string(b))).All(context.Background()) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	require.Equal(t, sse.EventError, recs[0].Type)
}

func TestChat_RejectsInvalidRequest(t *testing.T) {
	srv, client := newBackend(t)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"robot","content":"beep"}]}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// The assembler sees the same rejection as a status error.
	a := assembler.New(assembler.TransportFunc(func(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
		req.Messages = append(req.Messages, transcript.Message{Role: "robot", Content: "beep"})
		return client.Open(ctx, req)
	}))
	s, ok := a.SendAndWait(context.Background(), "q")
	require.True(t, ok)
	require.Error(t, s.Err())
	last, _ := a.Snapshot().Last()
	require.Equal(t, "Error: Request failed with status 422", last.Content)
}

func TestChat_CancelMidStream(t *testing.T) {
	_, client := newBackend(t, WithFrameDelay(20*time.Millisecond), WithChunkRunes(5))
	a := assembler.New(client)

	s, ok := a.Send(context.Background(), "list terminals")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		last, _ := a.Snapshot().Last()
		return last.SQL != ""
	}, 2*time.Second, 5*time.Millisecond)

	s.Cancel()
	require.False(t, a.IsStreaming())
	s.Wait()
	require.NoError(t, s.Err())

	last, _ := a.Snapshot().Last()
	require.Less(t, len(last.Content), len(DefaultResponder("list terminals").Markdown))
	require.Empty(t, a.Snapshot().OpenID)
}

func TestHealth(t *testing.T) {
	srv, _ := newBackend(t)
	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	require.JSONEq(t, `{"status":"ok"}`, string(b))
}

func TestChunkRunes(t *testing.T) {
	require.Nil(t, chunkRunes("", 3))
	require.Equal(t, []string{"abc", "de"}, chunkRunes("abcde", 3))
}

type loadingRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *loadingRecorder) OnTranscript(transcript.Snapshot) {}

func (r *loadingRecorder) OnLoadingChanged(loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, loading)
}

func (r *loadingRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}
