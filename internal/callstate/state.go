package callstate

import (
	"sync"
)

// State represents the call state for a guild
type State struct {
	Active            bool
	ChannelID         string
	CaptureDevice     string // Saved capture device name, empty means the configured default
	PlaybackDevice    string // Saved playback device name, empty means the configured default
	ReconnectAttempts int
	mu                sync.Mutex
}

// NewState creates a new call state
func NewState() *State {
	return &State{}
}

// SetActive sets the active state
func (s *State) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Active = active
}

// IsActive returns whether a call is active
func (s *State) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Active
}

// GetChannelID returns the voice channel ID
func (s *State) GetChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ChannelID
}

// Activate marks the call active in channelID and clears reconnect attempts.
func (s *State) Activate(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Active = true
	s.ChannelID = channelID
	s.ReconnectAttempts = 0
}

// SetDevices sets the preferred device names
func (s *State) SetDevices(capture, playback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CaptureDevice = capture
	s.PlaybackDevice = playback
}

// Devices returns the preferred devices, falling back to the given defaults.
func (s *State) Devices(defaultCapture, defaultPlayback string) (capture, playback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	capture, playback = s.CaptureDevice, s.PlaybackDevice
	if capture == "" {
		capture = defaultCapture
	}
	if playback == "" {
		playback = defaultPlayback
	}
	return capture, playback
}

// IncrementReconnectAttempts increments reconnect attempts
func (s *State) IncrementReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReconnectAttempts++
	return s.ReconnectAttempts
}

// ResetReconnectAttempts resets reconnect attempts
func (s *State) ResetReconnectAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReconnectAttempts = 0
}

// GetReconnectAttempts returns reconnect attempts
func (s *State) GetReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReconnectAttempts
}

// Reset clears the call but keeps the device preferences.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Active = false
	s.ChannelID = ""
	s.ReconnectAttempts = 0
}
