package chatrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/config"
	"github.com/go-go-golems/fr8chat/pkg/mockbackend"
	"github.com/go-go-golems/fr8chat/pkg/render"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

func mockClient(t *testing.T, options ...mockbackend.Option) *chatclient.Client {
	t.Helper()
	srv := httptest.NewServer(mockbackend.New(options...).Handler())
	t.Cleanup(srv.Close)
	c, err := chatclient.New(srv.URL, chatclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestBlocking_MarkdownOutput(t *testing.T) {
	var out, progress bytes.Buffer
	cs, err := NewChatBuilder().
		WithTransport(mockClient(t, mockbackend.WithChunkRunes(9))).
		WithMode(RunModeBlocking).
		WithPrompt("which terminals handle the most routes?").
		WithOutput(render.FormatMarkdown, false, 0).
		WithOutputWriter(&out).
		WithProgressWriter(&progress).
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.Run())

	want := mockbackend.DefaultResponder("which terminals handle the most routes?")
	require.Contains(t, out.String(), "**You:**\n\nwhich terminals handle the most routes?")
	require.Contains(t, out.String(), want.Markdown)
	require.Contains(t, out.String(), "```sql\n"+strings.TrimSpace(want.SQL))
	require.Equal(t, want.Markdown+"\n", progress.String())
	require.False(t, cs.Assembler().IsStreaming())
}

func TestBlocking_JSONOutputWithThread(t *testing.T) {
	var out bytes.Buffer
	settings := config.Defaults()
	settings.ThreadID = "thread-7"

	var seen chatclient.Request
	client := mockClient(t)
	transport := assembler.TransportFunc(func(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
		seen = req
		return client.Open(ctx, req)
	})

	cs, err := NewChatBuilder().
		WithTransport(transport).
		WithSettings(settings).
		WithMode(RunModeBlocking).
		WithPrompt("show a chart").
		WithOutput(render.FormatJSON, false, 0).
		WithOutputWriter(&out).
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.Run())

	require.NotNil(t, seen.ThreadID)
	require.Equal(t, "thread-7", *seen.ThreadID)

	var snap transcript.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	require.Len(t, snap.Turns, 2)
	require.NotNil(t, snap.Turns[1].Chart)
	require.Empty(t, snap.OpenID)
}

func TestBlocking_Stats(t *testing.T) {
	var out bytes.Buffer
	cs, err := NewChatBuilder().
		WithTransport(mockClient(t)).
		WithMode(RunModeBlocking).
		WithPrompt("list terminals").
		WithOutput(render.FormatText, false, 0).
		WithStats(true).
		WithOutputWriter(&out).
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.Run())
	require.Contains(t, out.String(), "Statistics:")
	require.Contains(t, out.String(), "Lines:")
}

func TestBlocking_TransportErrorIsReturnedAndShown(t *testing.T) {
	var out bytes.Buffer
	failing := assembler.TransportFunc(func(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
		return nil, &chatclient.StatusError{StatusCode: 502}
	})
	cs, err := NewChatBuilder().
		WithTransport(failing).
		WithMode(RunModeBlocking).
		WithPrompt("anything").
		WithOutput(render.FormatMarkdown, false, 0).
		WithOutputWriter(&out).
		Build()
	require.NoError(t, err)

	err = cs.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat request failed")
	require.Contains(t, out.String(), "Error: Request failed with status 502")
}

func TestBlocking_ReturnsAfterDoneWhileConnectionStaysOpen(t *testing.T) {
	var out bytes.Buffer
	held := assembler.TransportFunc(func(ctx context.Context, req chatclient.Request) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "data: {\"content\":\"hi there\"}\n\nevent: done\ndata: {}\n\n")
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	})
	settings := config.Defaults()
	settings.Timeout = 5 * time.Second

	cs, err := NewChatBuilder().
		WithTransport(held).
		WithSettings(settings).
		WithMode(RunModeBlocking).
		WithPrompt("hello").
		WithOutput(render.FormatMarkdown, false, 0).
		WithOutputWriter(&out).
		Build()
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, cs.Run())
	require.Less(t, time.Since(start), settings.Timeout)
	require.Contains(t, out.String(), "hi there")
	require.Empty(t, cs.Assembler().Snapshot().OpenID)
}

func TestBlocking_CancelledContextIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cs, err := NewChatBuilder().
		WithContext(ctx).
		WithTransport(mockClient(t)).
		WithMode(RunModeBlocking).
		WithPrompt("anything").
		WithOutputWriter(io.Discard).
		Build()
	require.NoError(t, err)
	require.NoError(t, cs.Run())
}

func TestBuilder_Validation(t *testing.T) {
	_, err := NewChatBuilder().Build()
	require.ErrorContains(t, err, "transport is required")

	_, err = NewChatBuilder().WithTransport(mockClient(t)).WithMode(RunModeBlocking).Build()
	require.ErrorContains(t, err, "a prompt is required in blocking mode")

	_, err = NewChatBuilder().WithMode("bogus").WithTransport(mockClient(t)).Build()
	require.ErrorContains(t, err, "invalid run mode")

	//nolint:staticcheck
	_, err = NewChatBuilder().WithContext(nil).Build()
	require.ErrorContains(t, err, "context cannot be nil")

	bad := config.Defaults()
	bad.ChunkSize = 0
	_, err = NewChatBuilder().WithSettings(bad).Build()
	require.ErrorContains(t, err, "invalid settings")

	_, err = NewChatBuilder().WithTransport(mockClient(t)).Build()
	require.NoError(t, err)
}

func TestParseRunMode(t *testing.T) {
	m, err := ParseRunMode("Blocking")
	require.NoError(t, err)
	require.Equal(t, RunModeBlocking, m)

	m, err = ParseRunMode("")
	require.NoError(t, err)
	require.Equal(t, RunModeChat, m)

	_, err = ParseRunMode("batch")
	require.Error(t, err)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)
	snap := func(content string) transcript.Snapshot {
		return transcript.Snapshot{
			OpenID: "msg-2",
			Turns: []transcript.Turn{
				{ID: "msg-1", Role: transcript.RoleUser, Content: "q"},
				{ID: "msg-2", Role: transcript.RoleAssistant, Content: content},
			},
		}
	}

	p.OnLoadingChanged(true)
	p.OnTranscript(snap(""))
	p.OnTranscript(snap("Hel"))
	p.OnTranscript(snap("Hello"))
	p.OnTranscript(snap("Hello"))
	p.OnTranscript(snap("Error: boom"))
	p.OnTranscript(transcript.Snapshot{})
	p.OnLoadingChanged(false)

	require.Equal(t, "Hello\nError: boom\n", buf.String())
}

func TestFanOut(t *testing.T) {
	var loads []bool
	var snaps int
	o := assembler.ObserverFuncs{
		Transcript: func(transcript.Snapshot) { snaps++ },
		Loading:    func(l bool) { loads = append(loads, l) },
	}
	f := fanOut{o, o}
	f.OnLoadingChanged(true)
	f.OnTranscript(transcript.Snapshot{})
	require.Equal(t, []bool{true, true}, loads)
	require.Equal(t, 2, snaps)
}
