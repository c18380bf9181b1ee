package voice

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
)

const (
	// DefaultSendTimeout bounds how long SendFrame waits on a full OpusSend
	// channel. It stays below one frame period so the forwarding loop keeps
	// its cadence.
	DefaultSendTimeout = 15 * time.Millisecond
	// speakerHold is how long the followed speaker keeps the floor after
	// their last packet before another SSRC may take over.
	speakerHold = 200 * time.Millisecond
	// defaultDecoderIdle is how long a silent SSRC keeps its decoder.
	defaultDecoderIdle = time.Minute
)

var (
	// ErrNotReady is returned when the voice connection cannot carry audio.
	ErrNotReady = errors.New("voice connection not ready")
	// ErrSendTimeout is returned when Discord does not take a packet in time.
	ErrSendTimeout = errors.New("timeout sending opus frame")
)

// Session adapts a Discord voice connection to the bridge's remote session.
// Outbound PCM frames are Opus-encoded onto OpusSend; inbound Opus packets
// are decoded into PCM frames and handed to the registered handler. Only one
// remote speaker is followed at a time.
type Session struct {
	vc          *discordgo.VoiceConnection
	guildID     string
	format      audio.Format
	encoders    *EncoderPool
	logger      *logrus.Logger
	sendTimeout time.Duration
	decoderIdle time.Duration

	// setSpeaking and ready wrap the voice connection; overridden in tests.
	setSpeaking func(bool) error
	ready       func() bool

	handlerMu sync.RWMutex
	handler   func(audio.Frame)

	speaking  atomic.Bool
	encoded   atomic.Bool
	decoders  atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option customizes a Session before it starts receiving.
type Option func(*Session)

// WithSpeaking replaces the call that announces the speaking state to Discord.
func WithSpeaking(fn func(bool) error) Option {
	return func(s *Session) {
		s.setSpeaking = fn
	}
}

// NewSession wraps an already joined voice connection and starts receiving.
func NewSession(vc *discordgo.VoiceConnection, guildID string, format audio.Format, encoders *EncoderPool, logger *logrus.Logger, opts ...Option) *Session {
	s := &Session{
		vc:          vc,
		guildID:     guildID,
		format:      format,
		encoders:    encoders,
		logger:      logger,
		sendTimeout: DefaultSendTimeout,
		decoderIdle: defaultDecoderIdle,
		setSpeaking: vc.Speaking,
		done:        make(chan struct{}),
	}
	s.ready = func() bool {
		return vc.Status == discordgo.VoiceConnectionStatusReady
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.recvLoop()
	return s
}

// ID returns the guild ID; Discord allows one voice connection per guild.
func (s *Session) ID() string {
	return s.guildID
}

// IsConnected reports whether the voice connection is ready.
func (s *Session) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return s.ready()
}

// OnInboundFrame registers the handler for decoded remote audio.
func (s *Session) OnInboundFrame(handler func(audio.Frame)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

// SendFrame encodes a PCM frame to Opus and sends it to Discord.
func (s *Session) SendFrame(frame audio.Frame) error {
	if !s.IsConnected() {
		return ErrNotReady
	}
	if len(frame) != s.format.FrameBytes() {
		return fmt.Errorf("%w: got %d bytes, want %d", audio.ErrFrameSize, len(frame), s.format.FrameBytes())
	}

	encoder, err := s.encoders.GetOrCreate(s.guildID)
	if err != nil {
		return fmt.Errorf("failed to get encoder: %w", err)
	}
	s.encoded.Store(true)
	packet, err := encodeFrame(encoder, frame)
	if err != nil {
		return err
	}

	if !s.speaking.Load() {
		// Tell Discord we're speaking
		if err := s.setSpeaking(true); err != nil {
			return fmt.Errorf("failed to set speaking: %w", err)
		}
		s.speaking.Store(true)
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case s.vc.OpusSend <- packet:
		return nil
	case <-timer.C:
		return ErrSendTimeout
	case <-s.done:
		return ErrNotReady
	}
}

// recvLoop decodes inbound Opus packets and delivers whole frames from the
// followed speaker.
func (s *Session) recvLoop() {
	defer s.wg.Done()

	decoders := make(map[uint32]*speakerDecoder)
	seen := make(map[uint32]time.Time)
	var (
		active    uint32
		hasActive bool
		lastHeard time.Time
		lastPrune = time.Now()
	)

	for {
		var pkt *discordgo.Packet
		var ok bool
		select {
		case <-s.done:
			return
		case pkt, ok = <-s.vc.OpusRecv:
			if !ok {
				return
			}
		}
		if pkt == nil || len(pkt.Opus) == 0 {
			continue
		}

		now := time.Now()
		if now.Sub(lastPrune) >= s.decoderIdle {
			for ssrc, at := range seen {
				if ssrc != pkt.SSRC && now.Sub(at) >= s.decoderIdle {
					delete(decoders, ssrc)
					delete(seen, ssrc)
				}
			}
			lastPrune = now
			s.decoders.Store(int32(len(decoders)))
		}

		dec, exists := decoders[pkt.SSRC]
		if !exists {
			var err error
			dec, err = newSpeakerDecoder(s.format)
			if err != nil {
				s.logger.WithError(err).Errorf("[%s] Failed to create decoder for ssrc %d", s.guildID, pkt.SSRC)
				continue
			}
			decoders[pkt.SSRC] = dec
			s.decoders.Store(int32(len(decoders)))
		}
		seen[pkt.SSRC] = now

		// Decode every stream to keep decoder state continuous, but only
		// deliver the followed speaker.
		frames, err := dec.decode(pkt.Opus)
		if err != nil {
			s.logger.WithError(err).Debugf("[%s] Opus decode error (ssrc %d)", s.guildID, pkt.SSRC)
			continue
		}

		if hasActive && pkt.SSRC != active && now.Sub(lastHeard) <= speakerHold {
			dec.reset()
			continue
		}
		if !hasActive || pkt.SSRC != active {
			s.logger.Debugf("[%s] Following speaker ssrc %d", s.guildID, pkt.SSRC)
		}
		active, hasActive, lastHeard = pkt.SSRC, true, now

		s.handlerMu.RLock()
		handler := s.handler
		s.handlerMu.RUnlock()
		if handler == nil {
			continue
		}
		for _, frame := range frames {
			handler(frame)
		}
	}
}

// Close stops receiving and releases the guild's encoder if this session
// encoded with it. It does not disconnect the voice connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		if s.speaking.Load() {
			if err := s.setSpeaking(false); err != nil {
				s.logger.WithError(err).Debugf("[%s] Failed to clear speaking state", s.guildID)
			}
		}
		if s.encoded.Load() {
			s.encoders.Remove(s.guildID)
		}
	})
}
