package audio

import (
	"fmt"
	"time"
)

const (
	// SampleRate is the audio sample rate required by Discord (48kHz)
	SampleRate = 48000
	// Channels is the number of audio channels (stereo)
	Channels = 2
	// FrameSize is the frame size for 20ms at 48kHz (48000 * 0.02)
	FrameSize = 960
	// BytesPerSample is the width of one s16le sample
	BytesPerSample = 2
	// PCMFrameSize is the size of PCM frame in bytes (FrameSize * 2 bytes per sample * Channels)
	PCMFrameSize = FrameSize * BytesPerSample * Channels // 960 * 2 * 2 = 3840 bytes
	// QueueCapacity is the default number of frames buffered per direction
	QueueCapacity = 3
	// MaxQueueCapacity bounds the configurable queue size (64 frames = 1.28s at 20ms)
	MaxQueueCapacity = 64
)

// Format describes the fixed stream format both pipelines open devices with.
type Format struct {
	SampleRate int
	Channels   int
	FrameSize  int // samples per channel per frame
}

// DefaultFormat returns the 48kHz stereo 20ms format Discord expects.
func DefaultFormat() Format {
	return Format{
		SampleRate: SampleRate,
		Channels:   Channels,
		FrameSize:  FrameSize,
	}
}

// Validate reports whether the format can be used to open a stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if f.FrameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", f.FrameSize)
	}
	return nil
}

// Samples returns the number of interleaved samples in one frame.
func (f Format) Samples() int {
	return f.FrameSize * f.Channels
}

// FrameBytes returns the byte length of one frame.
func (f Format) FrameBytes() int {
	return f.Samples() * BytesPerSample
}

// FrameDuration returns the wall-clock time one frame represents.
func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%d", f.SampleRate, f.Channels, f.FrameSize)
}
