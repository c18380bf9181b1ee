// Package audiotest provides an in-memory audio host for tests.
package audiotest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// ErrAborted is returned by a blocked Read or Write after Abort.
var ErrAborted = errors.New("stream aborted")

// Host is a fake hardware host with a fixed device list.
type Host struct {
	mu       sync.Mutex
	devices  []audio.DeviceInfo
	openErr  map[string]error
	streams  []*Stream
	enumErr  error
	openHook func(*Stream)
}

// NewHost creates a host that enumerates the given devices.
func NewHost(devices ...audio.DeviceInfo) *Host {
	for i := range devices {
		devices[i].Index = i
	}
	return &Host{
		devices: devices,
		openErr: make(map[string]error),
	}
}

// InputDevice describes a capture-only device.
func InputDevice(name string, channels int) audio.DeviceInfo {
	return audio.DeviceInfo{Name: name, MaxInputChannels: channels, DefaultSampleRate: audio.SampleRate}
}

// OutputDevice describes a playback-only device.
func OutputDevice(name string, channels int) audio.DeviceInfo {
	return audio.DeviceInfo{Name: name, MaxOutputChannels: channels, DefaultSampleRate: audio.SampleRate}
}

// FailOpen makes every Open of the named device fail with err.
func (h *Host) FailOpen(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr[name] = err
}

// FailEnumerate makes Devices fail with err.
func (h *Host) FailEnumerate(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enumErr = err
}

// OnOpen registers a hook called with every newly opened stream.
func (h *Host) OnOpen(fn func(*Stream)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openHook = fn
}

// Devices implements audio.Host.
func (h *Host) Devices() ([]audio.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enumErr != nil {
		return nil, h.enumErr
	}
	out := make([]audio.DeviceInfo, len(h.devices))
	copy(out, h.devices)
	return out, nil
}

// Open implements audio.Host.
func (h *Host) Open(dev audio.DeviceInfo, dir audio.Direction, format audio.Format) (audio.Stream, error) {
	h.mu.Lock()
	if err, ok := h.openErr[dev.Name]; ok {
		h.mu.Unlock()
		return nil, err
	}
	s := newStream(dev.Name, dir, format)
	h.streams = append(h.streams, s)
	hook := h.openHook
	h.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Streams returns every stream opened so far.
func (h *Host) Streams() []*Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Stream, len(h.streams))
	copy(out, h.streams)
	return out
}

// OpenStreams returns the number of streams not yet closed.
func (h *Host) OpenStreams() int {
	n := 0
	for _, s := range h.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// LastStream returns the most recent stream opened on the named device.
func (h *Host) LastStream(name string) (*Stream, error) {
	streams := h.Streams()
	for i := len(streams) - 1; i >= 0; i-- {
		if streams[i].Device == name {
			return streams[i], nil
		}
	}
	return nil, fmt.Errorf("no stream opened on %q", name)
}

// WaitStream polls for a stream on the named device until timeout.
func (h *Host) WaitStream(name string, timeout time.Duration) (*Stream, error) {
	deadline := time.Now().Add(timeout)
	for {
		s, err := h.LastStream(name)
		if err == nil || time.Now().After(deadline) {
			return s, err
		}
		time.Sleep(time.Millisecond)
	}
}
