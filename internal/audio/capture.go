package audio

// CapturePipeline records frames from an input device into a bounded queue
// and hands them to the session side without ever blocking the recorder.
type CapturePipeline struct {
	*pipeline
}

// NewCapturePipeline creates a capture pipeline for a resolved input device.
func NewCapturePipeline(registry *Registry, device DeviceInfo, cfg PipelineConfig) *CapturePipeline {
	return &CapturePipeline{pipeline: newPipeline(Capture, registry, device, cfg)}
}

// Start opens the input stream and starts the capture goroutine.
func (c *CapturePipeline) Start() error {
	return c.start(c.loop)
}

func (c *CapturePipeline) loop(h *DeviceHandle) {
	buf := make([]byte, c.cfg.Format.FrameBytes())
	dir := c.dir.String()

	for !c.stopRequested() {
		if err := h.read(buf); err != nil {
			if c.stopRequested() {
				// Read interrupted by Stop aborting the stream.
				return
			}
			c.fail(err)
			return
		}

		frame, err := NewFrame(c.cfg.Format, buf)
		if err != nil {
			c.fail(err)
			return
		}
		if c.queue.Push(frame) {
			c.noteDrop()
		}
		c.frames.Add(1)
		c.cfg.Metrics.RecordFrame(dir)
	}
}

// PullOrSilence pops the oldest captured frame, or returns a zero frame of
// the configured size when nothing is queued. It never blocks.
func (c *CapturePipeline) PullOrSilence() Frame {
	if c.State() == StateRunning {
		if frame, ok := c.queue.TryPop(); ok {
			c.cfg.Metrics.SetQueueDepth(c.dir.String(), c.queue.Len())
			return frame
		}
	}
	c.silent.Add(1)
	c.cfg.Metrics.RecordSilence(c.dir.String())
	return Silence(c.cfg.Format)
}
