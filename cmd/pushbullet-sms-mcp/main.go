package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/config"
	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/httpapi"
	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/sms"
)

func main() {
	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		// Missing credential is fatal before any network activity.
		bootstrap.Fatal().Err(err).Msg("configuration invalid")
	}
	logger := newLogger(cfg)

	tokens, err := cfg.TokenSource()
	if err != nil {
		logger.Fatal().Err(err).Msg("credential unavailable")
	}

	store := sms.NewStore(cfg.MaxStored)
	client := sms.NewClient(cfg.APIBaseURL, tokens.Token, nil)
	poll := sms.NewPollChannel(client, store, logger)
	stream := sms.NewStreamChannel(cfg.StreamURL, tokens.Token, cfg.ReconnectDelay, logger)
	engine := sms.NewEngine(sms.EngineOptions{
		Store:                store,
		Stream:               stream,
		Poll:                 poll,
		Logger:               logger,
		CredentialConfigured: tokens.Token() != "",
	})
	waiter := sms.NewWaiter(store, cfg.FreshnessWindow)

	server, err := httpapi.NewServer(engine, waiter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("building tool server failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	go func() {
		if err := tokens.Watch(ctx, logger, engine.BounceStream); err != nil {
			logger.Warn().Err(err).Msg("token file watch unavailable")
		}
	}()

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     server,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: wait_for_sms holds a response open for up to
		// five minutes.
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("env", cfg.Env).Msg("sms bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shut down")
	}
	cancel()
	engine.Stop()
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
