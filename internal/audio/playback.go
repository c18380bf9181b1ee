package audio

import "fmt"

// PlaybackPipeline plays frames delivered by the session side. Its hardware
// goroutine waits at most one frame period for audio and writes silence on
// underrun so the output stream keeps running.
type PlaybackPipeline struct {
	*pipeline
}

// NewPlaybackPipeline creates a playback pipeline for a resolved output device.
func NewPlaybackPipeline(registry *Registry, device DeviceInfo, cfg PipelineConfig) *PlaybackPipeline {
	return &PlaybackPipeline{pipeline: newPipeline(Playback, registry, device, cfg)}
}

// Start opens the output stream and starts the playback goroutine.
func (p *PlaybackPipeline) Start() error {
	return p.start(p.loop)
}

// Enqueue queues a frame for playback. When the queue is full the oldest
// frame is dropped. It never blocks the caller.
func (p *PlaybackPipeline) Enqueue(frame Frame) error {
	if want := p.cfg.Format.FrameBytes(); len(frame) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), want)
	}
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	if p.queue.Push(frame) {
		p.noteDrop()
	}
	return nil
}

func (p *PlaybackPipeline) loop(h *DeviceHandle) {
	silence := Silence(p.cfg.Format)
	period := p.cfg.Format.FrameDuration()
	dir := p.dir.String()

	for !p.stopRequested() {
		frame, ok := p.queue.PopTimeout(period, p.stop)
		if !ok {
			if p.stopRequested() {
				return
			}
			frame = silence
			p.silent.Add(1)
			p.cfg.Metrics.RecordSilence(dir)
		}

		if err := h.write(frame); err != nil {
			if p.stopRequested() {
				return
			}
			p.fail(err)
			return
		}
		p.frames.Add(1)
		p.cfg.Metrics.RecordFrame(dir)
		p.cfg.Metrics.SetQueueDepth(dir, p.queue.Len())
	}
}
