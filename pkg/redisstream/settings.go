package redisstream

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultAddr     = "localhost:6379"
	DefaultTopic    = "fr8chat.records"
	DefaultGroup    = "fr8chat"
	DefaultConsumer = "cli-1"
)

// Settings holds the record fan-out configuration. When Enabled is false the
// bus is an in-process channel.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled" yaml:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr" yaml:"redis-addr"`
	Topic    string `mapstructure:"redis-topic" yaml:"redis-topic"`
	Group    string `mapstructure:"redis-group" yaml:"redis-group"`
	Consumer string `mapstructure:"redis-consumer" yaml:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     DefaultAddr,
		Topic:    DefaultTopic,
		Group:    DefaultGroup,
		Consumer: DefaultConsumer,
	}
}

// WithDefaults fills in empty fields.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = d.Addr
	}
	if strings.TrimSpace(s.Topic) == "" {
		s.Topic = d.Topic
	}
	if strings.TrimSpace(s.Group) == "" {
		s.Group = d.Group
	}
	if strings.TrimSpace(s.Consumer) == "" {
		s.Consumer = d.Consumer
	}
	return s
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("redis-addr is required when redis is enabled")
	}
	if strings.ContainsAny(s.Topic, " \t\n") {
		return errors.Errorf("invalid redis topic %q", s.Topic)
	}
	return nil
}
