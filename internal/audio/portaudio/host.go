// Package portaudio implements the audio hardware host on top of PortAudio's
// blocking read/write API.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// Host is an audio.Host backed by PortAudio. PortAudio must be initialized
// once per process, so create a single Host and Close it on shutdown.
type Host struct {
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// New initializes PortAudio.
func New(logger *logrus.Logger) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	logger.Info("PortAudio initialized")
	return &Host{logger: logger}, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return pa.Terminate()
}

// Devices implements audio.Host.
func (h *Host) Devices() ([]audio.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}

	out := make([]audio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := audio.DeviceInfo{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// lookup finds the PortAudio device for a previously enumerated DeviceInfo.
func (h *Host) lookup(dev audio.DeviceInfo) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Index == dev.Index && d.Name == dev.Name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q (index %d) disappeared", dev.Name, dev.Index)
}

// Open implements audio.Host.
func (h *Host) Open(dev audio.DeviceInfo, dir audio.Direction, format audio.Format) (audio.Stream, error) {
	device, err := h.lookup(dev)
	if err != nil {
		return nil, err
	}

	params := pa.StreamParameters{
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.FrameSize,
	}
	deviceParams := pa.StreamDeviceParameters{
		Device:   device,
		Channels: format.Channels,
	}
	if dir == audio.Capture {
		deviceParams.Latency = device.DefaultHighInputLatency
		params.Input = deviceParams
	} else {
		deviceParams.Latency = device.DefaultHighOutputLatency
		params.Output = deviceParams
	}

	buf := make([]int16, format.Samples())
	paStream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", dir, err)
	}
	if err := paStream.Start(); err != nil {
		paStream.Close()
		return nil, fmt.Errorf("start %s stream: %w", dir, err)
	}

	h.logger.Debugf("Opened PortAudio %s stream on %q (%s)", dir, dev.Name, format)
	return &stream{stream: paStream, buf: buf, logger: h.logger, device: dev.Name}, nil
}

// stream adapts a blocking PortAudio stream to audio.Stream. The sample
// buffer registered with PortAudio is reused for every call.
type stream struct {
	stream *pa.Stream
	buf    []int16
	device string
	logger *logrus.Logger

	overflows  uint64
	underflows uint64
}

// Read implements audio.Stream. Input overflow is reported by PortAudio as
// an error although the buffer holds valid samples, so it is not treated as
// a failure.
func (s *stream) Read(frame []byte) error {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return err
		}
		s.overflows++
		if s.overflows%100 == 1 {
			s.logger.Debugf("Input overflow on %q (%d total)", s.device, s.overflows)
		}
	}
	for i, v := range s.buf {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
	}
	return nil
}

// Write implements audio.Stream. Output underflow is counted, not failed.
func (s *stream) Write(frame []byte) error {
	for i := range s.buf {
		s.buf[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	if err := s.stream.Write(); err != nil {
		if !errors.Is(err, pa.OutputUnderflowed) {
			return err
		}
		s.underflows++
		if s.underflows%100 == 1 {
			s.logger.Debugf("Output underflow on %q (%d total)", s.device, s.underflows)
		}
	}
	return nil
}

// Abort implements audio.Stream.
func (s *stream) Abort() error {
	return s.stream.Abort()
}

// Close implements audio.Stream.
func (s *stream) Close() error {
	// Stop fails harmlessly if the stream was already aborted.
	_ = s.stream.Stop()
	return s.stream.Close()
}
