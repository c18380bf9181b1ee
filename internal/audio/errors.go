package audio

import "errors"

var (
	// ErrDeviceNotFound is returned when no enumerated device matches a name
	// for the requested direction.
	ErrDeviceNotFound = errors.New("audio device not found")
	// ErrDeviceOpenFailed is returned when the hardware refuses to open a
	// stream with the required format.
	ErrDeviceOpenFailed = errors.New("failed to open audio device")
	// ErrHardwareIO is reported when a running stream fails mid-read or
	// mid-write. Pipelines do not retry after it.
	ErrHardwareIO = errors.New("audio hardware I/O error")
	// ErrFrameSize is returned when a frame does not match the configured format.
	ErrFrameSize = errors.New("frame size mismatch")
	// ErrNotRunning is returned by operations that need a running pipeline.
	ErrNotRunning = errors.New("pipeline not running")
)
