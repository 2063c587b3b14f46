// Package redisstream fans the records applied by the assembler out over
// watermill, backed by Redis Streams when enabled and by an in-process channel
// otherwise.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus bundles the publisher and subscriber of one transport.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Topic      string

	closers []func() error
}

// Build constructs a Redis Streams bus when s.Enabled, else an in-memory one.
func Build(s Settings, logger zerolog.Logger) (*Bus, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	wlogger := NewWatermillLogger(logger)

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlogger)
		return &Bus{
			Publisher:  ch,
			Subscriber: ch,
			Topic:      s.Topic,
			closers:    []func() error{ch.Close},
		}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis subscriber")
	}

	logger.Debug().Str("addr", s.Addr).Str("topic", s.Topic).Msg("using redis streams for records")
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		Topic:      s.Topic,
		closers:    []func() error{sub.Close, pub.Close},
	}, nil
}

// Close releases the transport; the redis publisher and subscriber close their
// client. The first error wins.
func (b *Bus) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if it
// doesn't exist, so a fresh subscriber does not replay history.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string, logger zerolog.Logger) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	logger.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func newMessageID() string {
	return watermill.NewUUID()
}
