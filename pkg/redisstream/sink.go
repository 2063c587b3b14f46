package redisstream

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/sse"
)

// Envelope is the payload of every published message.
type Envelope struct {
	assembler.RecordMeta
	Event sse.EventType   `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Metadata keys set on every message so consumers can route without decoding.
const (
	MetaSessionID = "session_id"
	MetaTurnID    = "turn_id"
	MetaEvent     = "event"
	MetaSeq       = "seq"
)

// Sink publishes applied records to a watermill topic.
type Sink struct {
	publisher message.Publisher
	topic     string
}

var _ assembler.RecordSink = (*Sink)(nil)

func NewSink(publisher message.Publisher, topic string) *Sink {
	return &Sink{publisher: publisher, topic: topic}
}

func (s *Sink) PublishRecord(ctx context.Context, meta assembler.RecordMeta, rec sse.Record) error {
	payload, err := json.Marshal(Envelope{RecordMeta: meta, Event: rec.Type, Data: rec.Data})
	if err != nil {
		return errors.Wrap(err, "marshal record envelope")
	}
	msg := message.NewMessage(newMessageID(), payload)
	msg.Metadata.Set(MetaSessionID, meta.SessionID)
	msg.Metadata.Set(MetaTurnID, meta.TurnID)
	msg.Metadata.Set(MetaEvent, string(rec.Type))
	msg.Metadata.Set(MetaSeq, strconv.FormatUint(meta.Seq, 10))
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "publish record to %s", s.topic)
	}
	return nil
}

func DecodeEnvelope(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode record envelope")
	}
	return env, nil
}

// Tail subscribes to topic and hands every envelope to fn until ctx is done or
// fn returns an error. Undecodable messages are acked and skipped.
func Tail(ctx context.Context, sub message.Subscriber, topic string, logger zerolog.Logger, fn func(Envelope) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			env, err := DecodeEnvelope(msg)
			msg.Ack()
			if err != nil {
				logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("skipping undecodable record")
				continue
			}
			if err := fn(env); err != nil {
				return err
			}
		}
	}
}
