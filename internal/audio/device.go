package audio

import (
	"errors"
	"fmt"
	"sync"
)

// Direction tells whether a stream records or plays.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// DeviceInfo is one enumerated hardware device.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Supports reports whether the device can serve the given direction.
func (d DeviceInfo) Supports(dir Direction) bool {
	switch dir {
	case Capture:
		return d.MaxInputChannels > 0
	case Playback:
		return d.MaxOutputChannels > 0
	}
	return false
}

// MaxChannels returns the channel limit for a direction.
func (d DeviceInfo) MaxChannels(dir Direction) int {
	if dir == Capture {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

// Host is the hardware audio subsystem.
type Host interface {
	Devices() ([]DeviceInfo, error)
	Open(dev DeviceInfo, dir Direction, format Format) (Stream, error)
}

// Stream is an opened hardware stream. Read and Write block for at most
// about one frame period. Abort must unblock a pending Read or Write from
// another goroutine.
type Stream interface {
	Read(frame []byte) error
	Write(frame []byte) error
	Abort() error
	Close() error
}

// DeviceHandle is an opened stream owned by exactly one pipeline.
type DeviceHandle struct {
	Device    DeviceInfo
	Direction Direction
	Format    Format

	stream    Stream
	closeOnce sync.Once
	closeErr  error
}

func (h *DeviceHandle) read(frame []byte) error {
	return h.stream.Read(frame)
}

func (h *DeviceHandle) write(frame []byte) error {
	return h.stream.Write(frame)
}

func (h *DeviceHandle) abort() error {
	return h.stream.Abort()
}

// Close closes the underlying stream. Only the first call reaches the hardware.
func (h *DeviceHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.stream.Close()
	})
	return h.closeErr
}

// IsDeviceError reports whether err came from resolving or opening a device.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceOpenFailed)
}
