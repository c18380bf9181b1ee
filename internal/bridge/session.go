package bridge

import (
	"errors"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

var (
	// ErrAlreadyActive is returned when a bridge already exists for a session.
	ErrAlreadyActive = errors.New("audio bridge already active for this session")
	// ErrNotActive is returned when no bridge exists for a session.
	ErrNotActive = errors.New("no active audio bridge for this session")
	// ErrSessionClosed reports that the remote session went away under a running bridge.
	ErrSessionClosed = errors.New("remote session disconnected")
)

// Session is the remote voice session a bridge is attached to. The bridge
// does not own it; the caller controls its lifetime.
type Session interface {
	// ID identifies the session; at most one bridge runs per ID.
	ID() string
	// SendFrame hands one captured frame to the transport.
	SendFrame(frame audio.Frame) error
	// OnInboundFrame registers the handler for frames received from the
	// remote side. A nil handler detaches the previous one.
	OnInboundFrame(handler func(frame audio.Frame))
	// IsConnected reports whether the session can still carry audio.
	IsConnected() bool
}
