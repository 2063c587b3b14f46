package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChunkSize = 4096

	// maxEmptyReads bounds how many (0, nil) reads are tolerated in a row.
	maxEmptyReads = 100
)

// Decoder turns a chunked byte stream into a lazy sequence of Records.
// One decoder serves exactly one stream and cannot be restarted.
type Decoder struct {
	r      io.Reader
	chunk  []byte
	logger zerolog.Logger

	// partial holds the unterminated tail of the last chunk.
	partial []byte
	// pending holds complete lines that have not been consumed yet.
	pending []string
	current EventType

	readErr error
	err     error
}

type Option func(*Decoder)

func WithChunkSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunk = make([]byte, n)
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, options ...Option) *Decoder {
	d := &Decoder{
		r:       r,
		current: DefaultEventType,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.chunk == nil {
		d.chunk = make([]byte, DefaultChunkSize)
	}
	d.logger = d.logger.With().Str("component", "sse").Logger()
	return d
}

// Next returns the next record. It returns io.EOF once the input is exhausted,
// ctx.Err() once ctx is done, and a wrapped read error if the transport fails.
// Any non-nil error is terminal.
func (d *Decoder) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		if d.err != nil {
			return Record{}, d.err
		}

		for len(d.pending) > 0 {
			line := d.pending[0]
			d.pending = d.pending[1:]
			rec, ok := d.processLine(line)
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return Record{}, err
			}
			return rec, nil
		}

		if d.readErr != nil {
			d.finish()
			continue
		}

		d.fill()
	}
}

// All exposes the decoder as a range-over-func sequence. A terminal error other
// than io.EOF is yielded once as the last element.
func (d *Decoder) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := d.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// fill pulls exactly one chunk from the reader and splits off the complete lines.
func (d *Decoder) fill() {
	for empty := 0; ; empty++ {
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.appendChunk(d.chunk[:n])
		}
		if err != nil {
			d.readErr = err
			return
		}
		if n > 0 {
			return
		}
		if empty >= maxEmptyReads {
			d.readErr = io.ErrNoProgress
			return
		}
	}
}

func (d *Decoder) appendChunk(chunk []byte) {
	d.partial = append(d.partial, chunk...)
	idx := bytes.LastIndexByte(d.partial, '\n')
	if idx < 0 {
		return
	}
	for _, line := range bytes.Split(d.partial[:idx], []byte{'\n'}) {
		d.pending = append(d.pending, string(line))
	}
	rest := d.partial[idx+1:]
	d.partial = append(make([]byte, 0, len(rest)), rest...)
}

func (d *Decoder) finish() {
	if len(bytes.TrimSpace(d.partial)) > 0 {
		d.logger.Debug().Int("bytes", len(d.partial)).Msg("discarding unterminated trailing line")
	}
	d.partial = nil

	if errors.Is(d.readErr, io.EOF) {
		d.err = io.EOF
		return
	}
	d.err = errors.Wrap(d.readErr, "read event stream")
}

func (d *Decoder) processLine(line string) (Record, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return Record{}, false

	case strings.HasPrefix(trimmed, "event:"):
		name := strings.TrimSpace(trimmed[len("event:"):])
		if name == "" {
			d.current = DefaultEventType
		} else {
			d.current = EventType(name)
		}
		return Record{}, false

	case strings.HasPrefix(trimmed, "data:"):
		payload := strings.TrimSpace(trimmed[len("data:"):])
		if payload == "" {
			return Record{}, false
		}
		if !json.Valid([]byte(payload)) {
			d.logger.Debug().
				Str("event", string(d.current)).
				Int("bytes", len(payload)).
				Msg("skipping malformed data line")
			return Record{}, false
		}
		return Record{Type: d.current, Data: json.RawMessage(payload)}, true

	default:
		return Record{}, false
	}
}
