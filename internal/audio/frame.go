package audio

import (
	"encoding/binary"
	"fmt"
)

// Frame is one block of interleaved s16le PCM samples. A frame is never
// modified after it has been pushed into a queue; producers allocate a new
// one per hardware read.
type Frame []byte

// NewFrame copies data into a new frame after checking its length against f.
func NewFrame(f Format, data []byte) (Frame, error) {
	if len(data) != f.FrameBytes() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(data), f.FrameBytes())
	}
	frame := make(Frame, len(data))
	copy(frame, data)
	return frame, nil
}

// Silence returns a zero-filled frame of the exact size for f.
func Silence(f Format) Frame {
	return make(Frame, f.FrameBytes())
}

// IsSilence reports whether every sample in the frame is zero.
func (fr Frame) IsSilence() bool {
	for _, b := range fr {
		if b != 0 {
			return false
		}
	}
	return true
}

// Int16s decodes the frame into interleaved samples.
func (fr Frame) Int16s() []int16 {
	pcm := make([]int16, len(fr)/BytesPerSample)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(fr[i*2:]))
	}
	return pcm
}

// FrameFromInt16s encodes interleaved samples into a new frame.
func FrameFromInt16s(pcm []int16) Frame {
	fr := make(Frame, len(pcm)*BytesPerSample)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(fr[i*2:], uint16(s))
	}
	return fr
}
