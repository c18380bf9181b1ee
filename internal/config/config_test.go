package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/config"
)

var keys = []string{
	"DISCORD_TOKEN", "COMMAND_PREFIX", "CAPTURE_DEVICE", "PLAYBACK_DEVICE",
	"SAMPLE_RATE", "CHANNELS", "FRAME_SIZE", "QUEUE_CAPACITY", "LOG_LEVEL",
	"METRICS_ADDR", "STATE_FILE", "MAX_RECONNECT_ATTEMPTS", "BRIDGE_CONFIG",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
	t.Setenv("DISCORD_TOKEN", "token")
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.DiscordToken)
	assert.Equal(t, "~", cfg.CommandPrefix)
	assert.Equal(t, "WhiteHole 2ch", cfg.Audio.CaptureDevice)
	assert.Equal(t, "BlackHole 2ch", cfg.Audio.PlaybackDevice)
	assert.Equal(t, audio.DefaultFormat(), cfg.Audio.Format())
	assert.Equal(t, 3, cfg.Audio.QueueCapacity)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "data/bridge_config.json", cfg.StateFile)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoffBase)
	assert.Equal(t, 20*time.Second, cfg.VoiceCheckInterval)
}

func TestLoad_RequiresToken(t *testing.T) {
	cleanEnv(t)
	t.Setenv("DISCORD_TOKEN", "")

	_, err := config.Load()
	assert.ErrorContains(t, err, "DISCORD_TOKEN")
}

func TestLoad_EnvOverrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("COMMAND_PREFIX", "!")
	t.Setenv("CAPTURE_DEVICE", "USB Mic")
	t.Setenv("PLAYBACK_DEVICE", "Speakers")
	t.Setenv("QUEUE_CAPACITY", "8")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9090")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "0")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, "USB Mic", cfg.Audio.CaptureDevice)
	assert.Equal(t, "Speakers", cfg.Audio.PlaybackDevice)
	assert.Equal(t, 8, cfg.Audio.QueueCapacity)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 0, cfg.MaxReconnectAttempts)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  capture_device: Loopback In
  playback_device: Loopback Out
  queue_capacity: 5
`), 0644))
	t.Setenv("BRIDGE_CONFIG", path)
	t.Setenv("PLAYBACK_DEVICE", "From Env")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "Loopback In", cfg.Audio.CaptureDevice)
	assert.Equal(t, "From Env", cfg.Audio.PlaybackDevice, "environment wins over the file")
	assert.Equal(t, 5, cfg.Audio.QueueCapacity)
	assert.Equal(t, audio.SampleRate, cfg.Audio.SampleRate)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"queue too small", "QUEUE_CAPACITY", "0", "QUEUE_CAPACITY"},
		{"queue too large", "QUEUE_CAPACITY", "65", "QUEUE_CAPACITY"},
		{"not a number", "SAMPLE_RATE", "fast", "SAMPLE_RATE"},
		{"unsupported rate", "SAMPLE_RATE", "44100", "sample rate"},
		{"too many channels", "CHANNELS", "6", "channels"},
		{"odd frame size", "FRAME_SIZE", "1000", "frame size"},
		{"bad log level", "LOG_LEVEL", "loud", "LOG_LEVEL"},
		{"negative attempts", "MAX_RECONNECT_ATTEMPTS", "-1", "MAX_RECONNECT_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_MissingYAMLFile(t *testing.T) {
	cleanEnv(t)
	t.Setenv("BRIDGE_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := config.Load()
	assert.ErrorContains(t, err, "failed to read config file")
}
