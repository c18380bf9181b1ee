package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// Config holds all configuration for the bot
type Config struct {
	DiscordToken         string
	CommandPrefix        string
	Audio                AudioConfig
	LogLevel             logrus.Level
	MetricsAddr          string
	StateFile            string
	MaxReconnectAttempts int
	ReconnectBackoffBase time.Duration
	VoiceCheckInterval   time.Duration
}

// AudioConfig is the device and stream section. It can also be read from the
// YAML file named by BRIDGE_CONFIG under an "audio" key.
type AudioConfig struct {
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	FrameSize      int    `yaml:"frame_size"`
	QueueCapacity  int    `yaml:"queue_capacity"`
}

type fileConfig struct {
	Audio AudioConfig `yaml:"audio"`
}

// Format returns the PCM format both pipelines use.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		FrameSize:  a.FrameSize,
	}
}

// Load loads configuration from environment variables. Values from the
// optional YAML file are applied first, so the environment wins.
func Load() (*Config, error) {
	// Try to load .env file (optional)
	_ = godotenv.Load()

	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN not set in environment")
	}

	cfg := &Config{
		DiscordToken:  discordToken,
		CommandPrefix: "~",
		Audio: AudioConfig{
			CaptureDevice:  "WhiteHole 2ch",
			PlaybackDevice: "BlackHole 2ch",
			SampleRate:     audio.SampleRate,
			Channels:       audio.Channels,
			FrameSize:      audio.FrameSize,
			QueueCapacity:  audio.QueueCapacity,
		},
		LogLevel:             logrus.InfoLevel,
		StateFile:            "data/bridge_config.json",
		MaxReconnectAttempts: 5,
		ReconnectBackoffBase: 2 * time.Second,
		VoiceCheckInterval:   20 * time.Second,
	}

	if path := os.Getenv("BRIDGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	a := fc.Audio
	if a.CaptureDevice != "" {
		c.Audio.CaptureDevice = a.CaptureDevice
	}
	if a.PlaybackDevice != "" {
		c.Audio.PlaybackDevice = a.PlaybackDevice
	}
	if a.SampleRate != 0 {
		c.Audio.SampleRate = a.SampleRate
	}
	if a.Channels != 0 {
		c.Audio.Channels = a.Channels
	}
	if a.FrameSize != 0 {
		c.Audio.FrameSize = a.FrameSize
	}
	if a.QueueCapacity != 0 {
		c.Audio.QueueCapacity = a.QueueCapacity
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		c.CommandPrefix = v
	}
	if v := os.Getenv("CAPTURE_DEVICE"); v != "" {
		c.Audio.CaptureDevice = v
	}
	if v := os.Getenv("PLAYBACK_DEVICE"); v != "" {
		c.Audio.PlaybackDevice = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		c.LogLevel = level
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SAMPLE_RATE", &c.Audio.SampleRate},
		{"CHANNELS", &c.Audio.Channels},
		{"FRAME_SIZE", &c.Audio.FrameSize},
		{"QUEUE_CAPACITY", &c.Audio.QueueCapacity},
		{"MAX_RECONNECT_ATTEMPTS", &c.MaxReconnectAttempts},
	}
	for _, opt := range ints {
		v := strings.TrimSpace(os.Getenv(opt.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", opt.key, v, err)
		}
		*opt.dst = n
	}
	return nil
}

// Validate checks that the audio settings can drive both Opus and the devices.
func (c *Config) Validate() error {
	format := c.Audio.Format()
	if err := format.Validate(); err != nil {
		return fmt.Errorf("invalid audio format: %w", err)
	}

	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("invalid audio format: sample rate %d not supported by opus", format.SampleRate)
	}
	if format.Channels > 2 {
		return fmt.Errorf("invalid audio format: %d channels, opus supports at most 2", format.Channels)
	}
	// Opus frames are 2.5, 5, 10, 20, 40 or 60 ms.
	switch format.FrameSize * 400 / format.SampleRate {
	case 1, 2, 4, 8, 16, 24:
		if format.FrameSize*400%format.SampleRate != 0 {
			return fmt.Errorf("invalid audio format: frame size %d is not an opus frame duration", format.FrameSize)
		}
	default:
		return fmt.Errorf("invalid audio format: frame size %d is not an opus frame duration", format.FrameSize)
	}

	if c.Audio.QueueCapacity < 1 || c.Audio.QueueCapacity > audio.MaxQueueCapacity {
		return fmt.Errorf("QUEUE_CAPACITY must be between 1 and %d, got %d", audio.MaxQueueCapacity, c.Audio.QueueCapacity)
	}
	if c.Audio.CaptureDevice == "" || c.Audio.PlaybackDevice == "" {
		return fmt.Errorf("capture and playback devices must be set")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative, got %d", c.MaxReconnectAttempts)
	}
	return nil
}
