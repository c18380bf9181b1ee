package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
)

// Manager owns the set of running bridges, at most one per session ID.
// Start and stop requests for the same session are serialized; requests for
// different sessions run concurrently.
type Manager struct {
	devices  *audio.Registry
	registry *Registry
	cfg      audio.PipelineConfig
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	hookMu       sync.RWMutex
	onTerminated func(id string, err error)
}

// NewManager creates a lifecycle manager.
func NewManager(devices *audio.Registry, cfg audio.PipelineConfig, logger *logrus.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Logger = logger
	return &Manager{
		devices:  devices,
		registry: NewRegistry(),
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// OnTerminated registers a callback for bridges that die on their own
// (hardware failure or remote session loss). The bridge has already been
// stopped and removed when it runs.
func (m *Manager) OnTerminated(fn func(id string, err error)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onTerminated = fn
}

// RequestStart creates and starts a bridge for session.
func (m *Manager) RequestStart(session Session, captureName, playbackName string) error {
	id := session.ID()
	unlock := m.registry.Lock(id)
	defer unlock()

	if _, exists := m.registry.Get(id); exists {
		return ErrAlreadyActive
	}

	b := New(m.devices, m.registry, m.cfg, m.metrics)
	b.onTerminate = func(err error) {
		m.evict(id, b, err)
	}

	if err := b.Start(session, captureName, playbackName); err != nil {
		m.metrics.RecordBridgeFailure(failureReason(err))
		m.logger.WithError(err).Warnf("[%s] Failed to start audio bridge", id)
		return err
	}
	return nil
}

// RequestStop stops and removes the bridge for id.
func (m *Manager) RequestStop(id string) error {
	unlock := m.registry.Lock(id)
	defer unlock()

	b, exists := m.registry.Get(id)
	if !exists {
		return ErrNotActive
	}
	if err := b.Stop(); err != nil {
		m.logger.WithError(err).Warnf("[%s] Audio bridge stopped with errors", id)
		return err
	}
	return nil
}

// evict tears down a bridge that terminated itself, unless it was already
// stopped or replaced in the meantime.
func (m *Manager) evict(id string, b *Bridge, cause error) {
	unlock := m.registry.Lock(id)
	current, exists := m.registry.Get(id)
	if !exists || current != b {
		unlock()
		return
	}
	if err := b.Stop(); err != nil {
		m.logger.WithError(err).Warnf("[%s] Error tearing down terminated bridge", id)
	}
	unlock()

	m.metrics.RecordBridgeFailure(failureReason(cause))
	m.logger.WithError(cause).Warnf("[%s] Audio bridge terminated", id)

	m.hookMu.RLock()
	fn := m.onTerminated
	m.hookMu.RUnlock()
	if fn != nil {
		fn(id, cause)
	}
}

// Active reports whether a bridge runs for id.
func (m *Manager) Active(id string) bool {
	_, exists := m.registry.Get(id)
	return exists
}

// Sessions returns the IDs of all running bridges.
func (m *Manager) Sessions() []string {
	return m.registry.IDs()
}

// Stats returns a snapshot of the bridge for id.
func (m *Manager) Stats(id string) (Stats, error) {
	b, exists := m.registry.Get(id)
	if !exists {
		return Stats{}, ErrNotActive
	}
	return b.Stats(), nil
}

// Devices lists the hardware devices known to the registry.
func (m *Manager) Devices() ([]audio.DeviceInfo, error) {
	return m.devices.List()
}

// StopAll stops every running bridge in parallel.
func (m *Manager) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range m.registry.IDs() {
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := m.RequestStop(id)
			if errors.Is(err, ErrNotActive) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("[%s] %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, audio.ErrDeviceOpenFailed):
		return "device_open_failed"
	case errors.Is(err, audio.ErrHardwareIO):
		return "hardware_io"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	default:
		return "other"
	}
}
