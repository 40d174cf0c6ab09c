package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drowsiness-detection/streaming-client/pkg/types"
)

func TestDefaultsFollowStreamConfig(t *testing.T) {
	stream := types.DefaultStreamConfig()
	cfg := DefaultConfig()

	assert.Equal(t, stream.Width, cfg.Capture.Width)
	assert.Equal(t, stream.Height, cfg.Capture.Height)
	assert.Equal(t, stream.AcquireTimeout, cfg.Capture.AcquireTimeout)
	assert.Equal(t, stream.FrameInterval, cfg.Stream.FrameInterval)
	assert.Equal(t, stream.Quality, cfg.Stream.Quality)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), *cfg)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.FrameInterval)
	assert.Equal(t, 5, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Transport.ReconnectDelay)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamer.yaml")
	yaml := `
server_url: ws://analysis.local:9000/ws
stream:
  frame_interval: 200ms
  quality: 0.5
transport:
  max_reconnect_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("STREAMER_STREAM_QUALITY", "0.6")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server", "", "")
	flags.Int("max-reconnects", 0, "")
	require.NoError(t, flags.Parse([]string{"--max-reconnects=7"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "ws://analysis.local:9000/ws", cfg.ServerURL, "unset flag must not override file")
	assert.Equal(t, 200*time.Millisecond, cfg.Stream.FrameInterval)
	assert.InDelta(t, 0.6, cfg.Stream.Quality, 1e-9, "env overrides file")
	assert.Equal(t, 7, cfg.Transport.MaxReconnectAttempts, "flag overrides file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http scheme", func(c *Config) { c.ServerURL = "http://localhost:8000/ws" }},
		{"unknown source", func(c *Config) { c.Capture.Source = "screen" }},
		{"file source without dir", func(c *Config) { c.Capture.Source = "file" }},
		{"quality above one", func(c *Config) { c.Stream.Quality = 1.5 }},
		{"zero interval", func(c *Config) { c.Stream.FrameInterval = 0 }},
		{"unknown policy", func(c *Config) { c.Stream.Policy = "eventually" }},
		{"negative attempts", func(c *Config) { c.Transport.MaxReconnectAttempts = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
