package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
)

// Stats is a snapshot of one running bridge.
type Stats struct {
	SessionID string
	Uptime    time.Duration
	Capture   audio.PipelineStats
	Playback  audio.PipelineStats
	Sent      uint64
	Received  uint64
}

// Bridge pairs one capture and one playback pipeline with a remote session.
// Captured frames are forwarded outward by a goroutine paced at one frame per
// frame period; inbound frames are queued for playback without blocking the
// transport.
type Bridge struct {
	devices  *audio.Registry
	registry *Registry
	cfg      audio.PipelineConfig
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics

	// onTerminate is invoked on its own goroutine when the bridge dies
	// without Stop being called.
	onTerminate func(err error)

	mu        sync.Mutex
	session   Session
	capture   *audio.CapturePipeline
	playback  *audio.PlaybackPipeline
	startedAt time.Time

	stopOnce sync.Once
	quit     chan struct{}
	loopDone chan struct{}

	sent     atomic.Uint64
	received atomic.Uint64

	errMu sync.Mutex
	err   error

	lastSendLog atomic.Int64
}

// New creates a bridge. Devices are resolved on Start.
func New(devices *audio.Registry, registry *Registry, cfg audio.PipelineConfig, m *metrics.Metrics) *Bridge {
	cfg.Metrics = m
	cfg = cfg.WithDefaults()
	return &Bridge{
		devices:  devices,
		registry: registry,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  m,
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start resolves both devices, starts both pipelines and registers the bridge
// under session.ID(). On failure every pipeline already started is stopped
// before the error is returned.
func (b *Bridge) Start(session Session, captureName, playbackName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return errors.New("bridge already started")
	}
	select {
	case <-b.quit:
		return errors.New("bridge already stopped")
	default:
	}

	id := session.ID()
	b.logger = b.logger.WithField("session", id)
	pipelineCfg := b.cfg
	pipelineCfg.Logger = b.logger

	captureDev, err := b.devices.Resolve(captureName, audio.Capture)
	if err != nil {
		return err
	}
	playbackDev, err := b.devices.Resolve(playbackName, audio.Playback)
	if err != nil {
		return err
	}

	capture := audio.NewCapturePipeline(b.devices, captureDev, pipelineCfg)
	if err := capture.Start(); err != nil {
		_ = capture.Stop()
		return err
	}

	playback := audio.NewPlaybackPipeline(b.devices, playbackDev, pipelineCfg)
	if err := playback.Start(); err != nil {
		_ = playback.Stop()
		_ = capture.Stop()
		return err
	}

	if err := b.registry.register(id, b); err != nil {
		_ = playback.Stop()
		_ = capture.Stop()
		return err
	}

	b.session = session
	b.capture = capture
	b.playback = playback
	b.startedAt = time.Now()

	session.OnInboundFrame(b.deliver)
	go b.forward()

	b.metrics.RecordBridgeStarted()
	b.logger.Infof("Bridge started: %q -> session -> %q", captureDev.Name, playbackDev.Name)
	return nil
}

// deliver queues an inbound frame for playback. It runs on the transport's
// goroutine and never blocks.
func (b *Bridge) deliver(frame audio.Frame) {
	b.received.Add(1)
	b.metrics.RecordInboundFrame()

	err := b.playback.Enqueue(frame)
	if err != nil && !errors.Is(err, audio.ErrNotRunning) {
		b.logger.WithError(err).Debug("Dropped inbound frame")
	}
}

// forward sends one captured frame (or silence) per frame period until the
// bridge is stopped or one of its ends fails.
func (b *Bridge) forward() {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.cfg.Format.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			return
		case <-b.capture.Done():
			b.terminate(b.capture.Err())
			return
		case <-b.playback.Done():
			b.terminate(b.playback.Err())
			return
		case <-ticker.C:
		}

		if !b.session.IsConnected() {
			b.terminate(ErrSessionClosed)
			return
		}

		frame := b.capture.PullOrSilence()
		if err := b.session.SendFrame(frame); err != nil {
			b.metrics.RecordOutboundError()
			b.logSendError(err)
			continue
		}
		b.sent.Add(1)
	}
}

func (b *Bridge) logSendError(err error) {
	now := time.Now().UnixNano()
	last := b.lastSendLog.Load()
	if now-last < int64(time.Second) || !b.lastSendLog.CompareAndSwap(last, now) {
		return
	}
	b.logger.WithError(err).Warn("Failed to send frame to session")
}

func (b *Bridge) terminate(err error) {
	if err == nil {
		err = errors.New("pipeline stopped unexpectedly")
	}
	b.errMu.Lock()
	b.err = err
	b.errMu.Unlock()

	b.logger.WithError(err).Error("Bridge terminated")
	if b.onTerminate != nil {
		go b.onTerminate(err)
	}
}

// Stop stops forwarding, detaches the inbound handler, stops both pipelines
// and removes the bridge from the registry. Only the first call does any
// work; later calls return nil.
func (b *Bridge) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		close(b.quit)
		if b.session == nil {
			return
		}
		<-b.loopDone

		b.session.OnInboundFrame(nil)
		err = errors.Join(b.playback.Stop(), b.capture.Stop())
		b.registry.unregister(b.session.ID(), b)

		uptime := time.Since(b.startedAt)
		b.metrics.RecordBridgeStopped(uptime.Seconds())
		b.logger.Infof("Bridge stopped after %s (%d frames sent, %d received)",
			uptime.Round(time.Second), b.sent.Load(), b.received.Load())
	})
	if err != nil {
		return fmt.Errorf("stop bridge: %w", err)
	}
	return nil
}

// Err returns the failure that terminated the bridge, if any.
func (b *Bridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Stats returns a snapshot of the bridge. It must only be called on a
// started bridge.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		SessionID: b.session.ID(),
		Uptime:    time.Since(b.startedAt),
		Capture:   b.capture.Stats(),
		Playback:  b.playback.Stats(),
		Sent:      b.sent.Load(),
		Received:  b.received.Load(),
	}
}
