package audio

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
)

// PipelineState is the lifecycle of a capture or playback pipeline.
type PipelineState int32

const (
	StateCreated PipelineState = iota
	StateRunning
	StateStopping
	StateClosed
)

func (s PipelineState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultStopGrace is how long Stop waits for the hardware goroutine before
// aborting the stream to interrupt a blocked read or write.
const DefaultStopGrace = 250 * time.Millisecond

// PipelineConfig holds settings shared by capture and playback pipelines.
type PipelineConfig struct {
	Format        Format
	QueueCapacity int
	StopGrace     time.Duration
	Logger        logrus.FieldLogger
	Metrics       *metrics.Metrics
}

// WithDefaults fills unset fields with the package defaults.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.Format == (Format{}) {
		c.Format = DefaultFormat()
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = QueueCapacity
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// PipelineStats is a snapshot of a pipeline for status reporting.
type PipelineStats struct {
	Direction Direction
	Device    string
	State     PipelineState
	Queued    int
	Capacity  int
	Frames    uint64
	Dropped   uint64
	Silence   uint64
}

// pipeline is the state machine shared by CapturePipeline and PlaybackPipeline.
type pipeline struct {
	dir      Direction
	registry *Registry
	device   DeviceInfo
	cfg      PipelineConfig
	logger   logrus.FieldLogger
	queue    *FrameQueue

	state  atomic.Int32
	frames atomic.Uint64
	silent atomic.Uint64

	// mu serializes start and stop transitions.
	mu       sync.Mutex
	handle   *DeviceHandle
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	errMu sync.Mutex
	err   error

	lastDropLog atomic.Int64
}

func newPipeline(dir Direction, registry *Registry, device DeviceInfo, cfg PipelineConfig) *pipeline {
	cfg = cfg.WithDefaults()
	return &pipeline{
		dir:      dir,
		registry: registry,
		device:   device,
		cfg:      cfg,
		logger: cfg.Logger.WithFields(logrus.Fields{
			"direction": dir.String(),
			"device":    device.Name,
		}),
		queue: NewFrameQueue(cfg.QueueCapacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// start opens the device and runs loop on a goroutine locked to its own OS thread.
func (p *pipeline) start(loop func(h *DeviceHandle)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateCreated {
		return fmt.Errorf("%s pipeline cannot start from state %s", p.dir, s)
	}

	handle, err := p.registry.Open(p.device, p.dir, p.cfg.Format)
	if err != nil {
		return err
	}
	p.handle = handle
	p.state.Store(int32(StateRunning))

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(p.done)
		loop(handle)
	}()

	p.logger.Infof("Started %s stream (%s, queue %d)", p.dir, p.cfg.Format, p.queue.Cap())
	return nil
}

// stopRequested reports whether Stop has been called.
func (p *pipeline) stopRequested() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// fail records a mid-stream hardware error and moves the pipeline to Stopping.
func (p *pipeline) fail(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s on %q: %v", ErrHardwareIO, p.dir, p.device.Name, err)
	}
	p.errMu.Unlock()

	p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	p.cfg.Metrics.RecordHardwareError(p.dir.String())
	p.logger.WithError(err).Errorf("Hardware %s failed, stopping stream", p.dir)
}

// noteDrop counts a drop-oldest event and logs at most once per second.
func (p *pipeline) noteDrop() {
	p.cfg.Metrics.RecordDrop(p.dir.String())

	now := time.Now().UnixNano()
	last := p.lastDropLog.Load()
	if now-last < int64(time.Second) || !p.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	p.logger.Debugf("Queue full, dropped oldest frame (total dropped %d)", p.queue.Dropped())
}

// Stop signals the hardware goroutine, joins it and closes the device.
// Only the first call does any work; later calls return nil.
func (p *pipeline) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		close(p.stop)
		if p.handle == nil {
			p.state.Store(int32(StateClosed))
			return
		}

		p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		p.join()

		err = p.handle.Close()
		if err != nil {
			p.logger.WithError(err).Warnf("Failed to close %s stream", p.dir)
		}
		p.queue.Reset()
		p.state.Store(int32(StateClosed))
		p.logger.Infof("Stopped %s stream (%d frames, %d dropped)", p.dir, p.frames.Load(), p.queue.Dropped())
	})
	return err
}

// join waits for the hardware goroutine, aborting the stream if it does not
// notice the stop signal within the grace period.
func (p *pipeline) join() {
	timer := time.NewTimer(p.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-timer.C:
	}

	p.logger.Warnf("%s goroutine still blocked after %v, aborting stream", p.dir, p.cfg.StopGrace)
	if err := p.handle.abort(); err != nil {
		p.logger.WithError(err).Warn("Stream abort failed")
	}
	<-p.done
}

// State returns the current lifecycle state.
func (p *pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Done is closed when the hardware goroutine exits. It never closes for a
// pipeline that was not started.
func (p *pipeline) Done() <-chan struct{} {
	return p.done
}

// Err returns the hardware error that stopped the pipeline, if any.
func (p *pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Format returns the stream format.
func (p *pipeline) Format() Format {
	return p.cfg.Format
}

// Device returns the device the pipeline streams to or from.
func (p *pipeline) Device() DeviceInfo {
	return p.device
}

// Stats returns a snapshot of the pipeline counters.
func (p *pipeline) Stats() PipelineStats {
	return PipelineStats{
		Direction: p.dir,
		Device:    p.device.Name,
		State:     p.State(),
		Queued:    p.queue.Len(),
		Capacity:  p.queue.Cap(),
		Frames:    p.frames.Load(),
		Dropped:   p.queue.Dropped(),
		Silence:   p.silent.Load(),
	}
}
