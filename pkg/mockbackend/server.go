// Package mockbackend is a stand-in for the chat backend. It speaks the same
// request and event-stream format, serving canned scenarios.
package mockbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fr8chat/pkg/sse"
)

const (
	DefaultChunkRunes = 50

	noUserMessage = "No user message provided"
	internalError = "An internal error occurred. Please try again."
)

type chatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages" binding:"required,dive"`
	ThreadID *string       `json:"thread_id"`
}

type Server struct {
	responder  Responder
	chunkRunes int
	delay      time.Duration
	logger     zerolog.Logger
	engine     *gin.Engine
}

type Option func(*Server)

func WithResponder(r Responder) Option {
	return func(s *Server) {
		if r != nil {
			s.responder = r
		}
	}
}

// WithChunkRunes sets how many characters of markdown go into one data frame.
func WithChunkRunes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.chunkRunes = n
		}
	}
}

// WithFrameDelay pauses between frames to mimic a slow model.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) {
		s.delay = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(options ...Option) *Server {
	s := &Server{
		responder:  DefaultResponder,
		chunkRunes: DefaultChunkRunes,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "mockbackend").Logger()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/chat", s.handleChat)
	s.engine = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("mock backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "mock backend")
	}
	return nil
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	question := lastUserMessage(req.Messages)
	logger := s.logger.With().Int("messages", len(req.Messages)).Logger()
	if req.ThreadID != nil {
		logger = logger.With().Str("thread_id", *req.ThreadID).Logger()
	}

	w := &frameWriter{ctx: c.Request.Context(), w: c.Writer, delay: s.delay}
	if question == "" {
		w.write(sse.EventError, map[string]string{"error": noUserMessage})
		return
	}

	sc := s.responder(question)
	logger.Debug().Str("question", question).Bool("fail", sc.Fail).Msg("serving scenario")

	if sc.SQL != "" && !w.write(sse.EventSQL, map[string]string{"sql": sc.SQL}) {
		return
	}
	if sc.Fail {
		w.write(sse.EventError, map[string]string{"error": internalError})
		return
	}
	for _, piece := range chunkRunes(sc.Markdown, s.chunkRunes) {
		if !w.write(sse.EventData, map[string]string{"content": piece}) {
			return
		}
	}
	if sc.Chart != nil && !w.write(sse.EventChart, sc.Chart) {
		return
	}
	if sc.Map != nil && !w.write(sse.EventMap, sc.Map) {
		return
	}
	w.write(sse.EventDone, map[string]string{"status": "complete"})
}

func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func chunkRunes(s string, n int) []string {
	runes := []rune(s)
	var ret []string
	for i := 0; i < len(runes); i += n {
		end := min(i+n, len(runes))
		ret = append(ret, string(runes[i:end]))
	}
	return ret
}

type frameWriter struct {
	ctx     context.Context
	w       gin.ResponseWriter
	delay   time.Duration
	started bool
}

// write sends one frame and reports whether the client is still there.
func (f *frameWriter) write(event sse.EventType, data any) bool {
	if f.delay > 0 && f.started {
		select {
		case <-f.ctx.Done():
			return false
		case <-time.After(f.delay):
		}
	}
	f.started = true
	if f.ctx.Err() != nil {
		return false
	}
	if err := writeSSE(f.w, event, data); err != nil {
		return false
	}
	f.w.Flush()
	return true
}

func writeSSE(w io.Writer, event sse.EventType, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
