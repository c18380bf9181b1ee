package bot

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
)

// onBridgeTerminated runs when a bridge dies on its own. Session loss is
// retried; hardware failures end the call because the device needs to be
// picked again.
func (b *Bot) onBridgeTerminated(guildID string, err error) {
	b.closeStaleVoiceSession(guildID)

	state, exists := b.calls.Get(guildID)
	if !exists || !state.IsActive() {
		return
	}

	if errors.Is(err, audio.ErrHardwareIO) {
		b.logger.WithError(err).Errorf("[%s] Audio device failed, ending call", guildID)
		state.Reset()
		b.disconnectVoice(guildID)
		return
	}

	b.logger.WithError(err).Warnf("[%s] Voice session lost, scheduling reconnect", guildID)
	b.scheduleReconnect(guildID)
}

func (b *Bot) scheduleReconnect(guildID string) {
	select {
	case <-b.ctx.Done():
		return
	default:
	}

	// One reconnect per guild at a time
	b.voiceMu.Lock()
	if b.reconnecting[guildID] {
		b.voiceMu.Unlock()
		return
	}
	b.reconnecting[guildID] = true
	b.voiceMu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		retry := b.reconnectCall(guildID)

		b.voiceMu.Lock()
		delete(b.reconnecting, guildID)
		b.voiceMu.Unlock()

		if retry {
			b.scheduleReconnect(guildID)
		}
	}()
}

// reconnectCall attempts to rejoin the channel and restart the bridge. It
// reports whether another attempt should follow.
func (b *Bot) reconnectCall(guildID string) bool {
	state, exists := b.calls.Get(guildID)
	if !exists {
		return false
	}

	if !state.IsActive() {
		b.logger.Infof("[%s] Call not active anymore, skipping reconnect", guildID)
		return false
	}
	if b.bridges.Active(guildID) {
		return false
	}

	attempts := state.GetReconnectAttempts()
	channelID := state.GetChannelID()

	if attempts >= b.config.MaxReconnectAttempts {
		b.logger.Errorf("[%s] Reached max reconnect attempts (%d). Giving up", guildID, attempts)
		state.Reset()
		b.disconnectVoice(guildID)
		return false
	}

	if channelID == "" {
		b.logger.Warnf("[%s] No channel recorded to reconnect", guildID)
		return false
	}

	// Check if there are users in the channel before reconnecting
	userCount := b.countUsersInChannel(guildID, channelID)
	if userCount == 0 {
		b.logger.Infof("[%s] No users in channel %s, ending call instead of reconnecting", guildID, channelID)
		b.endCall(guildID)
		return false
	}

	// Calculate backoff
	backoff := time.Duration(1<<uint(attempts)) * b.config.ReconnectBackoffBase
	b.logger.Infof("[%s] Reconnect attempt #%d, sleeping %v before trying", guildID, attempts+1, backoff)

	select {
	case <-time.After(backoff):
	case <-b.ctx.Done():
		return false
	}

	// A user start owns the guild until it finishes
	if !b.beginStart(guildID) {
		return false
	}
	defer b.finishStart(guildID)

	// The call may have been ended or restarted while we slept
	if !state.IsActive() || b.bridges.Active(guildID) {
		return false
	}

	state.IncrementReconnectAttempts()
	b.metrics.RecordReconnectAttempt()

	vc, err := b.connectToChannel(b.session, guildID, channelID)
	if err == nil {
		err = b.startBridge(vc, guildID)
		if errors.Is(err, bridge.ErrAlreadyActive) {
			return false
		}
		if audio.IsDeviceError(err) {
			b.logger.WithError(err).Errorf("[%s] Audio device unavailable after reconnect, ending call", guildID)
			b.endCall(guildID)
			return false
		}
	}
	if err != nil {
		b.logger.WithError(err).Errorf("[%s] Failed to reconnect call", guildID)
		// Schedule another attempt
		return state.IsActive() && state.GetReconnectAttempts() < b.config.MaxReconnectAttempts
	}

	// Reset attempts on success
	state.ResetReconnectAttempts()
	b.logger.Infof("[%s] Call reconnected", guildID)
	return false
}

// voiceCheckLoop periodically checks voice connections
func (b *Bot) voiceCheckLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.VoiceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.checkVoiceConnections()
		}
	}
}

// checkVoiceConnections checks all active calls
func (b *Bot) checkVoiceConnections() {
	for _, guildID := range b.calls.ActiveGuildIDs() {
		state, exists := b.calls.Get(guildID)
		if !exists || !state.IsActive() {
			continue
		}

		channelID := state.GetChannelID()
		if channelID == "" {
			continue
		}

		// End calls nobody is listening to
		userCount := b.countUsersInChannel(guildID, channelID)
		if userCount == 0 {
			b.logger.Infof("[%s] voice_check_loop: no users in channel %s, ending call", guildID, channelID)
			b.endCall(guildID)
			continue
		}

		vc, exists := b.session.VoiceConnections[guildID]
		if !exists || vc == nil || vc.Status != discordgo.VoiceConnectionStatusReady || !b.bridges.Active(guildID) {
			b.logger.Infof("[%s] voice_check_loop: detected dead call -> scheduling reconnect", guildID)
			b.scheduleReconnect(guildID)
		}
	}
}

// countUsersInChannel counts non-bot users in a voice channel
func (b *Bot) countUsersInChannel(guildID, channelID string) int {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		b.logger.WithError(err).Debugf("[%s] Failed to get guild info", guildID)
		return 0
	}

	userCount := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != b.session.State.User.ID {
			// Check if user is a bot
			member, err := b.session.State.Member(guildID, vs.UserID)
			if err != nil {
				member, err = b.session.GuildMember(guildID, vs.UserID)
			}
			if err == nil && member != nil && member.User != nil && !member.User.Bot {
				userCount++
			}
		}
	}

	return userCount
}
