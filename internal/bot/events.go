package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// onReady handles the ready event
func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Infof("Bot ready as %s (ID: %s)", event.User.Username, event.User.ID)

	// Ready fires again after gateway reconnects; one check loop is enough
	b.checkOnce.Do(func() {
		b.wg.Add(1)
		go b.voiceCheckLoop()
	})
}

// onMessageCreate handles message creation events
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from bots
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	cmd, ok := ParseCommand(b.config.CommandPrefix, m.Content)
	if !ok {
		return
	}

	// Handle commands
	switch cmd.Kind {
	case CommandStartCall:
		b.handleStartCall(s, m, cmd)
	case CommandEndCall:
		b.handleEndCall(s, m)
	case CommandDevices:
		b.handleDevices(s, m)
	case CommandUse:
		b.handleUse(s, m, cmd)
	case CommandStatus:
		b.handleStatus(s, m)
	default:
		p := b.config.CommandPrefix
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Invalid command. Use `%sft start call` or `%sft end call`.", p, p))
	}
}
