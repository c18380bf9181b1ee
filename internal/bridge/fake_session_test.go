package bridge_test

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// fakeSession records outbound frames and lets tests push inbound ones.
type fakeSession struct {
	id        string
	connected atomic.Bool
	sendErr   atomic.Pointer[error]

	mu      sync.Mutex
	sent    []audio.Frame
	handler func(audio.Frame)
}

func newFakeSession(id string) *fakeSession {
	s := &fakeSession{id: id}
	s.connected.Store(true)
	return s
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) SendFrame(frame audio.Frame) error {
	if p := s.sendErr.Load(); p != nil {
		return *p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSession) OnInboundFrame(handler func(audio.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *fakeSession) IsConnected() bool { return s.connected.Load() }

func (s *fakeSession) failSends(err error) { s.sendErr.Store(&err) }

// deliver invokes the registered inbound handler, if any.
func (s *fakeSession) deliver(frame audio.Frame) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return errors.New("no inbound handler")
	}
	h(frame)
	return nil
}

func (s *fakeSession) hasHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

func (s *fakeSession) sentFrames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) sentAudio() []audio.Frame {
	var out []audio.Frame
	for _, f := range s.sentFrames() {
		if !f.IsSilence() {
			out = append(out, f)
		}
	}
	return out
}
