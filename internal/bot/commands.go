package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
)

// handleStartCall handles the "ft start call" command
func (b *Bot) handleStartCall(s *discordgo.Session, m *discordgo.MessageCreate, cmd Command) {
	guildID := m.GuildID
	channelID := m.ChannelID

	// Check if user is in a voice channel
	vs, err := s.State.VoiceState(m.GuildID, m.Author.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		s.ChannelMessageSend(channelID, "You need to be in a voice channel for me to join.")
		return
	}

	if !b.beginStart(guildID) {
		s.ChannelMessageSend(channelID, "A call is already starting. Try again in a moment.")
		return
	}
	defer b.finishStart(guildID)

	if b.bridges.Active(guildID) {
		s.ChannelMessageSend(channelID, "Audio streaming is already running. Use `"+b.config.CommandPrefix+"ft end call` first.")
		return
	}

	state := b.calls.GetOrCreate(guildID)
	if cmd.Capture != "" || cmd.Playback != "" {
		capture, playback := state.Devices(b.config.Audio.CaptureDevice, b.config.Audio.PlaybackDevice)
		if cmd.Capture != "" {
			capture = cmd.Capture
		}
		if cmd.Playback != "" {
			playback = cmd.Playback
		}
		state.SetDevices(capture, playback)
	}
	state.Activate(vs.ChannelID)

	s.ChannelMessageSend(channelID, "Joining your voice channel...")

	vc, err := b.connectToChannel(s, guildID, vs.ChannelID)
	if err != nil {
		b.logger.WithError(err).Errorf("[%s] Failed to connect to channel", guildID)
		state.Reset()
		s.ChannelMessageSend(channelID, fmt.Sprintf("Failed to join the voice channel: %v", err))
		return
	}

	if err := b.startBridge(vc, guildID); err != nil {
		if errors.Is(err, bridge.ErrAlreadyActive) {
			s.ChannelMessageSend(channelID, startErrorMessage(err))
			return
		}
		b.logger.WithError(err).Errorf("[%s] Failed to start audio bridge", guildID)
		state.Reset()
		b.disconnectVoice(guildID)
		s.ChannelMessageSend(channelID, startErrorMessage(err))
		return
	}

	s.ChannelMessageSend(channelID, "Audio streaming started.")
}

// handleEndCall handles the "ft end call" command
func (b *Bot) handleEndCall(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !b.endCall(m.GuildID) {
		s.ChannelMessageSend(m.ChannelID, "I am not currently in a voice channel.")
		return
	}
	s.ChannelMessageSend(m.ChannelID, "Leaving the voice channel and stopping audio streaming.")
}

// handleDevices lists the local sound devices
func (b *Bot) handleDevices(s *discordgo.Session, m *discordgo.MessageCreate) {
	devices, err := b.bridges.Devices()
	if err != nil {
		b.logger.WithError(err).Errorf("[%s] Failed to list audio devices", m.GuildID)
		s.ChannelMessageSend(m.ChannelID, "Failed to list audio devices.")
		return
	}
	s.ChannelMessageSend(m.ChannelID, formatDevices(devices))
}

// handleUse saves the guild's preferred devices
func (b *Bot) handleUse(s *discordgo.Session, m *discordgo.MessageCreate, cmd Command) {
	if err := b.calls.SetDevices(m.GuildID, cmd.Capture, cmd.Playback); err != nil {
		b.logger.WithError(err).Errorf("[%s] Failed to save devices", m.GuildID)
		s.ChannelMessageSend(m.ChannelID, "Failed to save devices.")
		return
	}
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Devices saved: capture **%s**, playback **%s**. They apply to the next call.", cmd.Capture, cmd.Playback))
}

// handleStatus reports the running bridge
func (b *Bot) handleStatus(s *discordgo.Session, m *discordgo.MessageCreate) {
	state := b.calls.GetOrCreate(m.GuildID)
	capture, playback := state.Devices(b.config.Audio.CaptureDevice, b.config.Audio.PlaybackDevice)

	stats, err := b.bridges.Stats(m.GuildID)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("No active call. Devices: capture **%s**, playback **%s**.", capture, playback))
		return
	}
	s.ChannelMessageSend(m.ChannelID, formatStats(stats))
}

func startErrorMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrDeviceNotFound):
		return fmt.Sprintf("Audio device not found: %v", err)
	case errors.Is(err, audio.ErrDeviceOpenFailed):
		return fmt.Sprintf("Failed to open audio device: %v", err)
	case errors.Is(err, bridge.ErrAlreadyActive):
		return "Audio streaming is already running."
	default:
		return fmt.Sprintf("Failed to start audio streaming: %v", err)
	}
}

func formatDevices(devices []audio.DeviceInfo) string {
	if len(devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	sb.WriteString("Audio devices:\n")
	for _, d := range devices {
		fmt.Fprintf(&sb, "`%d` **%s** (in: %d, out: %d", d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels)
		if d.HostAPI != "" {
			fmt.Fprintf(&sb, ", %s", d.HostAPI)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

func formatStats(stats bridge.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Streaming for %s\n", stats.Uptime.Truncate(time.Second))
	for _, p := range []audio.PipelineStats{stats.Capture, stats.Playback} {
		fmt.Fprintf(&sb, "%s **%s**: %s, queue %d/%d, frames %d, dropped %d, silence %d\n",
			p.Direction, p.Device, p.State, p.Queued, p.Capacity, p.Frames, p.Dropped, p.Silence)
	}
	fmt.Fprintf(&sb, "Sent %d frames, received %d frames", stats.Sent, stats.Received)
	return sb.String()
}
