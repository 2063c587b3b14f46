// Package config decodes and validates fr8chat settings from the viper instance
// that clay sets up: flags, then FR8CHAT_ environment, then
// $HOME/.fr8chat/config.yaml.
package config

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/fr8chat/pkg/chatclient"
	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/sse"
)

const (
	AppName   = "fr8chat"
	EnvPrefix = "FR8CHAT"

	DefaultTimeout = 5 * time.Minute
)

type Settings struct {
	APIURL    string        `mapstructure:"api-url" yaml:"api-url"`
	ThreadID  string        `mapstructure:"thread-id" yaml:"thread-id"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ChunkSize int           `mapstructure:"chunk-size" yaml:"chunk-size"`

	Redis redisstream.Settings `mapstructure:",squash" yaml:",inline"`
}

func Defaults() Settings {
	return Settings{
		APIURL:    chatclient.DefaultBaseURL,
		Timeout:   DefaultTimeout,
		ChunkSize: sse.DefaultChunkSize,
		Redis:     redisstream.DefaultSettings(),
	}
}

func (s Settings) Validate() error {
	u, err := url.Parse(s.APIURL)
	if err != nil {
		return errors.Wrapf(err, "invalid api-url %q", s.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("api-url must be http or https, got %q", s.APIURL)
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if s.ChunkSize <= 0 {
		return errors.Errorf("chunk-size must be positive, got %d", s.ChunkSize)
	}
	return s.Redis.Validate()
}

// SetDefaults registers every settings key on v, so environment variables are
// seen by Decode even when no flag or config entry names the key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("api-url", d.APIURL)
	v.SetDefault("thread-id", d.ThreadID)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("chunk-size", d.ChunkSize)
	v.SetDefault("redis-enabled", d.Redis.Enabled)
	v.SetDefault("redis-addr", d.Redis.Addr)
	v.SetDefault("redis-topic", d.Redis.Topic)
	v.SetDefault("redis-group", d.Redis.Group)
	v.SetDefault("redis-consumer", d.Redis.Consumer)
}

// Decode binds flags on v and decodes the settings. Config file lookup and the
// environment prefix are set up on v beforehand by clay.InitViper.
func Decode(v *viper.Viper, flags *pflag.FlagSet) (Settings, error) {
	SetDefaults(v)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, errors.Wrap(err, "bind flags")
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	s.Redis = s.Redis.WithDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// AddFlags registers the connection and record fan-out flags on fs. Their
// names match the viper keys, so Decode picks them up.
func AddFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("api-url", d.APIURL, "Base URL of the chat backend")
	fs.String("thread-id", "", "Conversation thread id sent with every request")
	fs.Duration("timeout", d.Timeout, "Give up waiting for an answer after this long (0 disables)")
	fs.Int("chunk-size", d.ChunkSize, "Read size used when decoding the event stream")
	fs.Bool("redis-enabled", d.Redis.Enabled, "Publish applied records to a Redis stream")
	fs.String("redis-addr", d.Redis.Addr, "Redis address")
	fs.String("redis-topic", d.Redis.Topic, "Stream that applied records are published to")
	fs.String("redis-group", d.Redis.Group, "Consumer group used when reading records")
	fs.String("redis-consumer", d.Redis.Consumer, "Consumer name within the group")
}
