package chatclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

func TestClient_OpenPostsMessagesAndThreadID(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, DefaultPath, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.Equal(t, "yes", r.Header.Get("X-Test"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: done\ndata: {}\n\n")
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", WithHTTPClient(srv.Client()), WithHeader("X-Test", "yes"))
	require.NoError(t, err)
	require.Equal(t, srv.URL+DefaultPath, c.Endpoint())

	thread := "t-1"
	body, err := c.Open(context.Background(), Request{
		Messages: []transcript.Message{{Role: transcript.RoleUser, Content: "hello"}},
		ThreadID: &thread,
	})
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	b, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "event: done\ndata: {}\n\n", string(b))

	require.Equal(t, "t-1", got["thread_id"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"role": "user", "content": "hello"}, msgs[0])
}

func TestClient_OpenSendsNullThreadID(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = io.WriteString(w, "\n")
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	body, err := c.Open(context.Background(), Request{})
	require.NoError(t, err)
	_ = body.Close()

	require.Equal(t, "null", string(raw["thread_id"]))
	require.Equal(t, "[]", string(raw["messages"]))
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Open(context.Background(), Request{})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadGateway, se.StatusCode)
	require.Equal(t, "Request failed with status 502", se.UserMessage())
}

func TestClient_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Open(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoBody)
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.Open(context.Background(), Request{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "do chat request")
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)

	c, err := New("")
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL+DefaultPath, c.Endpoint())
}
