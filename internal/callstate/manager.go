package callstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultStateFile is where device preferences are kept unless configured.
const DefaultStateFile = "data/bridge_config.json"

// Manager manages call states for multiple guilds
type Manager struct {
	states     map[string]*State
	configFile string
	logger     *logrus.Logger
	mu         sync.RWMutex
}

// GuildConfig represents saved configuration for a guild
type GuildConfig struct {
	CaptureDevice  string `json:"capture_device,omitempty"`
	PlaybackDevice string `json:"playback_device,omitempty"`
}

// NewManager creates a state manager persisting to configFile and loads any
// saved preferences.
func NewManager(configFile string, logger *logrus.Logger) *Manager {
	if configFile == "" {
		configFile = DefaultStateFile
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Manager{
		states:     make(map[string]*State),
		configFile: configFile,
		logger:     logger,
	}
	if err := m.LoadConfig(); err != nil {
		logger.WithError(err).Warnf("Failed to load call state from %s", configFile)
	}
	return m
}

// LoadConfig loads saved configuration from file. A missing file is not an error.
func (m *Manager) LoadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var configs map[string]GuildConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	for guildID, config := range configs {
		state := m.getOrCreateUnsafe(guildID)
		state.SetDevices(config.CaptureDevice, config.PlaybackDevice)
	}
	m.logger.Debugf("Loaded call state for %d guild(s)", len(configs))
	return nil
}

// SaveConfig saves current configuration to file
func (m *Manager) SaveConfig() error {
	m.mu.RLock()
	configs := make(map[string]GuildConfig)
	for guildID, state := range m.states {
		capture, playback := state.Devices("", "")
		if capture == "" && playback == "" {
			continue
		}
		configs[guildID] = GuildConfig{
			CaptureDevice:  capture,
			PlaybackDevice: playback,
		}
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configFile), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Write file atomically using temp file
	tmpFile := m.configFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpFile, m.configFile); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// SetDevices records a guild's preferred devices and persists them.
func (m *Manager) SetDevices(guildID, capture, playback string) error {
	m.GetOrCreate(guildID).SetDevices(capture, playback)
	if err := m.SaveConfig(); err != nil {
		return err
	}
	m.logger.Infof("[%s] Saved devices: capture=%q playback=%q", guildID, capture, playback)
	return nil
}

// getOrCreateUnsafe gets or creates a state without locking (internal use)
func (m *Manager) getOrCreateUnsafe(guildID string) *State {
	state, exists := m.states[guildID]
	if !exists {
		state = NewState()
		m.states[guildID] = state
	}
	return state
}

// GetOrCreate gets or creates a state for a guild
func (m *Manager) GetOrCreate(guildID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateUnsafe(guildID)
}

// Get gets a state for a guild (read-only)
func (m *Manager) Get(guildID string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.states[guildID]
	return state, exists
}

// ActiveGuildIDs returns the guilds with an active call, sorted.
func (m *Manager) ActiveGuildIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guilds := make([]string, 0, len(m.states))
	for guildID, state := range m.states {
		if state.IsActive() {
			guilds = append(guilds, guildID)
		}
	}
	sort.Strings(guilds)
	return guilds
}
