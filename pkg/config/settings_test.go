package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fr8chat/pkg/redisstream"
)

// newViper mirrors what clay.InitViper does to the global instance.
func newViper(t *testing.T, configBody string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configBody != "" {
		p := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(p, []byte(configBody), 0o600))
		v.SetConfigFile(p)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestDecode_Defaults(t *testing.T) {
	s, err := Decode(newViper(t, ""), nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), s)
}

func TestDecode_PrecedenceFlagsOverEnvOverFile(t *testing.T) {
	v := newViper(t, `
api-url: http://file:8000
thread-id: from-file
timeout: 30s
chunk-size: 128
redis-enabled: true
redis-addr: redis:6379
`)
	t.Setenv(EnvPrefix+"_THREAD_ID", "from-env")
	t.Setenv(EnvPrefix+"_CHUNK_SIZE", "64")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--api-url", "https://flag.example"}))

	s, err := Decode(v, fs)
	require.NoError(t, err)

	require.Equal(t, "https://flag.example", s.APIURL)
	require.Equal(t, "from-env", s.ThreadID)
	require.Equal(t, 64, s.ChunkSize)
	require.Equal(t, 30*time.Second, s.Timeout)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "redis:6379", s.Redis.Addr)
	require.Equal(t, redisstream.DefaultTopic, s.Redis.Topic)
}

func TestDecode_EnvWithoutFlags(t *testing.T) {
	t.Setenv(EnvPrefix+"_API_URL", "https://env.example")
	s, err := Decode(newViper(t, ""), nil)
	require.NoError(t, err)
	require.Equal(t, "https://env.example", s.APIURL)
}

func TestDecode_FlagDefaultsMatchSettings(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--timeout", "90s", "--redis-topic", "ops.records"}))

	s, err := Decode(newViper(t, ""), fs)
	require.NoError(t, err)

	want := Defaults()
	want.Timeout = 90 * time.Second
	want.Redis.Topic = "ops.records"
	require.Equal(t, want, s)
}

func TestDecode_InvalidSettingsFail(t *testing.T) {
	_, err := Decode(newViper(t, "api-url: ftp://nope\n"), nil)
	require.ErrorContains(t, err, "api-url must be http or https")
}

func TestSettings_Validate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())

	bad := s
	bad.APIURL = "ftp://x"
	require.Error(t, bad.Validate())

	bad = s
	bad.ChunkSize = 0
	require.Error(t, bad.Validate())

	bad = s
	bad.Timeout = -time.Second
	require.Error(t, bad.Validate())
}
