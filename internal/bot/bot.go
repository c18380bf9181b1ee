package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio"
	"github.com/ankogit/4duk-voice-bridge/internal/bridge"
	"github.com/ankogit/4duk-voice-bridge/internal/callstate"
	"github.com/ankogit/4duk-voice-bridge/internal/config"
	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
	"github.com/ankogit/4duk-voice-bridge/internal/voice"
)

// Bot represents the Discord bot
type Bot struct {
	session     *discordgo.Session
	config      *config.Config
	calls       *callstate.Manager
	bridges     *bridge.Manager
	encoderPool *voice.EncoderPool
	metrics     *metrics.Metrics
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *logrus.Logger

	voiceMu       sync.Mutex
	voiceSessions map[string]*voice.Session
	reconnecting  map[string]bool
	starting      map[string]bool
	sessionOpts   []voice.Option
	checkOnce     sync.Once
}

// New creates a new bot instance bridging voice calls to devices on host.
func New(cfg *config.Config, host audio.Host, m *metrics.Metrics, logger *logrus.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates

	ctx, cancel := context.WithCancel(context.Background())

	format := cfg.Audio.Format()
	bridges := bridge.NewManager(audio.NewRegistry(host), audio.PipelineConfig{
		Format:        format,
		QueueCapacity: cfg.Audio.QueueCapacity,
		Logger:        logger,
	}, logger, m)

	bot := &Bot{
		session:       session,
		config:        cfg,
		calls:         callstate.NewManager(cfg.StateFile, logger),
		bridges:       bridges,
		encoderPool:   voice.NewEncoderPool(format),
		metrics:       m,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		voiceSessions: make(map[string]*voice.Session),
		reconnecting:  make(map[string]bool),
		starting:      make(map[string]bool),
	}
	bridges.OnTerminated(bot.onBridgeTerminated)

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)

	return bot, nil
}

// Start starts the bot
func (b *Bot) Start() error {
	err := b.session.Open()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	b.logger.Info("Bot started successfully")
	return nil
}

// Stop stops the bot gracefully
func (b *Bot) Stop() error {
	b.logger.Info("Shutting down...")

	// Cancel context to stop all goroutines
	b.cancel()

	for _, guildID := range b.calls.ActiveGuildIDs() {
		b.calls.GetOrCreate(guildID).SetActive(false)
	}

	// Release every device before leaving the channels
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.bridges.StopAll(stopCtx); err != nil {
		b.logger.WithError(err).Error("Error stopping audio bridges")
	}

	b.voiceMu.Lock()
	guildIDs := make([]string, 0, len(b.voiceSessions))
	for guildID := range b.voiceSessions {
		guildIDs = append(guildIDs, guildID)
	}
	b.voiceMu.Unlock()
	for _, guildID := range guildIDs {
		b.closeVoiceSession(guildID)
		b.disconnectVoice(guildID)
	}
	b.encoderPool.Clear()

	// Close Discord session
	err := b.session.Close()
	if err != nil {
		b.logger.WithError(err).Error("Error closing Discord session")
	}

	// Wait for all goroutines to finish
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("All goroutines finished")
	case <-time.After(10 * time.Second):
		b.logger.Warn("Timeout waiting for goroutines to finish")
	}

	return nil
}
