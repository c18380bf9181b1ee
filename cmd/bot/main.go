package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankogit/4duk-voice-bridge/internal/audio/portaudio"
	"github.com/ankogit/4duk-voice-bridge/internal/bot"
	"github.com/ankogit/4duk-voice-bridge/internal/config"
	"github.com/ankogit/4duk-voice-bridge/internal/metrics"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	host, err := portaudio.New(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audio host")
	}
	defer host.Close()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	// Run bot with automatic restart on panic
	// This handles panics from discordgo fork
	runBotWithRecovery(cfg, host, m, logger)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	return srv
}

func runBotWithRecovery(cfg *config.Config, host *portaudio.Host, m *metrics.Metrics, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		botChan := make(chan error, 1)
		stopped := make(chan struct{})
		var discordBot *bot.Bot

		// Run bot in goroutine to catch panics
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithField("panic", r).
						WithField("stack", string(debug.Stack())).
						Error("CRITICAL: Panic caught (bug in discordgo fork) - restarting bot")

					// Clean up bot if it exists; this releases the audio devices
					if discordBot != nil {
						func() {
							defer func() {
								if r := recover(); r != nil {
									logger.WithField("panic", r).Error("Panic during bot cleanup, ignoring")
								}
							}()
							_ = discordBot.Stop()
						}()
					}

					botChan <- fmt.Errorf("panic: %v", r)
				}
			}()

			// Create bot
			var err error
			discordBot, err = bot.New(cfg, host, m, logger)
			if err != nil {
				logger.WithError(err).Fatal("Failed to create bot")
			}

			// Start bot
			err = discordBot.Start()
			if err != nil {
				logger.WithError(err).Fatal("Failed to start bot")
			}

			botChan <- nil

			// Wait for interrupt
			<-sigChan

			// Stop gracefully
			err = discordBot.Stop()
			if err != nil {
				logger.WithError(err).Error("Error stopping bot")
			} else {
				logger.Info("Bot stopped successfully")
			}
			close(stopped)
		}()

		// Wait for bot to start or panic
		err := <-botChan
		if err != nil {
			logger.Warnf("Bot crashed, waiting 5 seconds before restart: %v", err)
			time.Sleep(5 * time.Second)
			continue // Restart bot
		}

		// If we get here, bot started successfully
		<-stopped
		return
	}
}
