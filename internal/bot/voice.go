package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
	"github.com/ankogit/4duk-voice-bridge/internal/voice"
)

// connectToChannel connects to a voice channel
func (b *Bot) connectToChannel(s *discordgo.Session, guildID, channelID string) (*discordgo.VoiceConnection, error) {
	// Check if already connected and ready
	if vc, exists := s.VoiceConnections[guildID]; exists {
		if vc.Status == discordgo.VoiceConnectionStatusReady {
			// Check if we're in the right channel by checking voice state
			vs, err := s.State.VoiceState(guildID, s.State.User.ID)
			if err == nil && vs != nil && vs.ChannelID == channelID {
				return vc, nil
			}
		}
		b.disconnectVoice(guildID)
	}

	// mute=false, deaf=false: the bridge plays the channel's audio locally
	var vc *discordgo.VoiceConnection
	var err error

	// Create context with timeout for connection
	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()

	// Try connecting up to 3 times with delays
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
			if _, exists := s.VoiceConnections[guildID]; exists {
				b.disconnectVoice(guildID)
				time.Sleep(500 * time.Millisecond)
			}
		}

		// Wrap ChannelVoiceJoin in recover to catch panics from fork
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warnf("[%s] Panic during ChannelVoiceJoin: %v", guildID, r)
					b.disconnectVoice(guildID)
					err = fmt.Errorf("panic during join: %v", r)
				}
			}()
			vc, err = s.ChannelVoiceJoin(ctx, guildID, channelID, false, false)
		}()

		if err == nil && vc != nil {
			break
		}

		b.logger.Warnf("[%s] Voice join attempt %d failed: %v", guildID, attempt+1, err)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel after 3 attempts: %w", err)
	}
	if vc == nil {
		return nil, fmt.Errorf("failed to join voice channel: no connection")
	}

	// Wait for voice connection to be ready
	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if vc.Status == discordgo.VoiceConnectionStatusReady {
				// Wait a bit more for connection to fully stabilize
				time.Sleep(500 * time.Millisecond)
				if vc.Status != discordgo.VoiceConnectionStatusReady {
					continue
				}
				b.logger.Infof("[%s] Connected to voice channel %s", guildID, channelID)
				return vc, nil
			}
		case <-timeout.C:
			b.disconnectVoice(guildID)
			return nil, fmt.Errorf("timeout waiting for voice connection")
		case <-b.ctx.Done():
			b.disconnectVoice(guildID)
			return nil, b.ctx.Err()
		}
	}
}

// disconnectVoice leaves the guild's voice channel, if any.
func (b *Bot) disconnectVoice(guildID string) bool {
	vc, exists := b.session.VoiceConnections[guildID]
	if !exists || vc == nil {
		return false
	}

	// Remove from map first to prevent Kill() panic
	delete(b.session.VoiceConnections, guildID)
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Debugf("[%s] Panic during disconnect (ignored): %v", guildID, r)
			}
		}()
		_ = vc.Disconnect(context.Background())
	}()
	return true
}

// startBridge wraps vc in a voice session and bridges it to the guild's devices.
func (b *Bot) startBridge(vc *discordgo.VoiceConnection, guildID string) error {
	if vc == nil || vc.Status != discordgo.VoiceConnectionStatusReady {
		return fmt.Errorf("voice connection not ready")
	}

	state := b.calls.GetOrCreate(guildID)
	capture, playback := state.Devices(b.config.Audio.CaptureDevice, b.config.Audio.PlaybackDevice)

	if b.bridges.Active(guildID) {
		return bridge.ErrAlreadyActive
	}

	vs := voice.NewSession(vc, guildID, b.config.Audio.Format(), b.encoderPool, b.logger, b.sessionOpts...)
	if err := b.bridges.RequestStart(vs, capture, playback); err != nil {
		// Only the new session is closed; a running bridge keeps its own.
		vs.Close()
		return err
	}

	b.voiceMu.Lock()
	previous := b.voiceSessions[guildID]
	b.voiceSessions[guildID] = vs
	b.voiceMu.Unlock()
	if previous != nil {
		previous.Close()
	}

	b.logger.Infof("[%s] Audio bridge started (capture=%q playback=%q)", guildID, capture, playback)
	return nil
}

// beginStart claims the guild for a call start or reconnect. It reports false
// if another start holds it.
func (b *Bot) beginStart(guildID string) bool {
	b.voiceMu.Lock()
	defer b.voiceMu.Unlock()
	if b.starting[guildID] {
		return false
	}
	b.starting[guildID] = true
	return true
}

func (b *Bot) finishStart(guildID string) {
	b.voiceMu.Lock()
	delete(b.starting, guildID)
	b.voiceMu.Unlock()
}

// closeVoiceSession stops receiving on the guild's voice session.
func (b *Bot) closeVoiceSession(guildID string) {
	b.voiceMu.Lock()
	vs, exists := b.voiceSessions[guildID]
	delete(b.voiceSessions, guildID)
	b.voiceMu.Unlock()

	if exists {
		vs.Close()
	}
}

// closeStaleVoiceSession closes the guild's session unless a newer bridge
// already runs on it.
func (b *Bot) closeStaleVoiceSession(guildID string) {
	b.voiceMu.Lock()
	if b.bridges.Active(guildID) {
		b.voiceMu.Unlock()
		return
	}
	vs, exists := b.voiceSessions[guildID]
	delete(b.voiceSessions, guildID)
	b.voiceMu.Unlock()

	if exists {
		vs.Close()
	}
}

// endCall stops the bridge and leaves the channel. It reports whether the bot
// was in a voice channel.
func (b *Bot) endCall(guildID string) bool {
	state := b.calls.GetOrCreate(guildID)
	state.Reset()

	if err := b.bridges.RequestStop(guildID); err != nil {
		b.logger.WithError(err).Debugf("[%s] No audio bridge to stop", guildID)
	}
	b.closeVoiceSession(guildID)
	return b.disconnectVoice(guildID)
}
