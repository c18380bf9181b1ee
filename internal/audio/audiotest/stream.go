package audiotest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// Stream is a fake hardware stream.
//
// Capture streams block in Read until a frame is fed, a failure is injected
// or the stream is aborted. Playback streams record every written frame and
// optionally sleep Period per write to emulate the device clock.
type Stream struct {
	Device    string
	Direction audio.Direction
	Format    audio.Format

	input chan []byte
	fail  chan error

	mu      sync.Mutex
	written [][]byte
	period  time.Duration

	abortOnce sync.Once
	aborted   chan struct{}
	closed    atomic.Bool
	closes    atomic.Int32
}

func newStream(device string, dir audio.Direction, format audio.Format) *Stream {
	return &Stream{
		Device:    device,
		Direction: dir,
		Format:    format,
		input:     make(chan []byte, 1024),
		fail:      make(chan error, 1),
		aborted:   make(chan struct{}),
	}
}

// Feed makes data available to the next Read.
func (s *Stream) Feed(data []byte) {
	s.input <- data
}

// Fail makes the next blocking Read or Write return err.
func (s *Stream) Fail(err error) {
	s.fail <- err
}

// SetPeriod sets how long each Write takes.
func (s *Stream) SetPeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period = d
}

// Read implements audio.Stream.
func (s *Stream) Read(frame []byte) error {
	if s.closed.Load() {
		return errors.New("read on closed stream")
	}
	select {
	case data := <-s.input:
		copy(frame, data)
		return nil
	case err := <-s.fail:
		return err
	case <-s.aborted:
		return ErrAborted
	}
}

// Write implements audio.Stream.
func (s *Stream) Write(frame []byte) error {
	if s.closed.Load() {
		return errors.New("write on closed stream")
	}
	select {
	case err := <-s.fail:
		return err
	case <-s.aborted:
		return ErrAborted
	default:
	}

	s.mu.Lock()
	s.written = append(s.written, append([]byte(nil), frame...))
	period := s.period
	s.mu.Unlock()

	if period > 0 {
		select {
		case <-time.After(period):
		case <-s.aborted:
			return ErrAborted
		}
	}
	return nil
}

// Abort implements audio.Stream.
func (s *Stream) Abort() error {
	s.abortOnce.Do(func() { close(s.aborted) })
	return nil
}

// Close implements audio.Stream.
func (s *Stream) Close() error {
	s.closes.Add(1)
	s.closed.Store(true)
	return s.Abort()
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	return s.closed.Load()
}

// CloseCount returns how many times Close reached the stream.
func (s *Stream) CloseCount() int {
	return int(s.closes.Load())
}

// Written returns a copy of every frame written so far.
func (s *Stream) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

// WrittenAudio returns written frames that are not silence.
func (s *Stream) WrittenAudio() [][]byte {
	var out [][]byte
	for _, f := range s.Written() {
		if !audio.Frame(f).IsSilence() {
			out = append(out, f)
		}
	}
	return out
}

// Tone returns a frame of the given format whose every sample is v.
func Tone(format audio.Format, v int16) audio.Frame {
	pcm := make([]int16, format.Samples())
	for i := range pcm {
		pcm[i] = v
	}
	return audio.FrameFromInt16s(pcm)
}
