package voice

import (
	"fmt"
	"sync"

	"github.com/hraban/opus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

// maxOpusPacket is the largest Opus packet we ask the encoder for.
const maxOpusPacket = 4000

// EncoderPool manages Opus encoders for multiple guilds
type EncoderPool struct {
	format   audio.Format
	encoders map[string]*opus.Encoder
	mu       sync.RWMutex
}

// NewEncoderPool creates a new encoder pool for the given PCM format
func NewEncoderPool(format audio.Format) *EncoderPool {
	return &EncoderPool{
		format:   format,
		encoders: make(map[string]*opus.Encoder),
	}
}

// GetOrCreate gets or creates an Opus encoder for a guild
func (p *EncoderPool) GetOrCreate(guildID string) (*opus.Encoder, error) {
	p.mu.RLock()
	encoder, exists := p.encoders[guildID]
	p.mu.RUnlock()

	if exists && encoder != nil {
		return encoder, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if encoder, exists := p.encoders[guildID]; exists && encoder != nil {
		return encoder, nil
	}

	encoder, err := opus.NewEncoder(p.format.SampleRate, p.format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	p.encoders[guildID] = encoder
	return encoder, nil
}

// Remove removes an encoder for a guild
func (p *EncoderPool) Remove(guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.encoders, guildID)
}

// Len returns the number of live encoders
func (p *EncoderPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.encoders)
}

// Clear removes all encoders
func (p *EncoderPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoders = make(map[string]*opus.Encoder)
}

// encodeFrame encodes one PCM frame into a new Opus packet.
func encodeFrame(enc *opus.Encoder, frame audio.Frame) ([]byte, error) {
	packet := make([]byte, maxOpusPacket)
	n, err := enc.Encode(frame.Int16s(), packet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode opus: %w", err)
	}
	return packet[:n], nil
}

// speakerDecoder decodes one SSRC's packets and re-cuts the samples into
// whole frames, so packets of other durations never yield partial frames.
type speakerDecoder struct {
	dec     *opus.Decoder
	format  audio.Format
	pcm     []int16
	pending []int16
}

func newSpeakerDecoder(format audio.Format) (*speakerDecoder, error) {
	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &speakerDecoder{
		dec:    dec,
		format: format,
		// 120ms is the longest Opus packet.
		pcm: make([]int16, format.SampleRate*120/1000*format.Channels),
	}, nil
}

// decode decodes a packet and returns every whole frame now available.
func (d *speakerDecoder) decode(packet []byte) ([]audio.Frame, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus: %w", err)
	}
	d.pending = append(d.pending, d.pcm[:n*d.format.Channels]...)

	var frames []audio.Frame
	samples := d.format.Samples()
	for len(d.pending) >= samples {
		frames = append(frames, audio.FrameFromInt16s(d.pending[:samples]))
		d.pending = d.pending[samples:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return frames, nil
}

// reset drops partially assembled samples.
func (d *speakerDecoder) reset() {
	d.pending = nil
}
