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
	"github.com/rs/zerolog/log"

	"chathub/internal/call"
	"chathub/internal/config"
	"chathub/internal/engine"
	"chathub/internal/hub"
	"chathub/internal/httpserver"
	"chathub/internal/presence"
	"chathub/internal/security"
	"chathub/internal/service"
	"chathub/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	st, err := openStores(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open database")
	}
	defer st.close()

	var cipher service.Cipher
	if cfg.EncryptionKey != "" {
		enc, err := security.NewEncryptor([]byte(cfg.EncryptionKey), cfg.EncryptionLegacyKeys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize encryptor")
		}
		cipher = enc
	} else {
		log.Warn().Msg("encryption_key not set, content is stored in plain text")
	}

	tokens := security.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	connections := hub.New()
	tracker := presence.NewTracker()

	notifier := service.NewNotificationService(st.notifications, tracker, cipher)
	messages := service.NewMessageService(st.messages, st.members, notifier, cipher)
	messages.MaxContentLength = cfg.MaxContentLength
	messages.HistoryLimit = cfg.HistoryLimit

	eng := engine.New(engine.Deps{
		Hub:           connections,
		Presence:      tracker,
		Messages:      messages,
		Notifications: notifier,
		Users:         st.users,
	}, call.WithRingTimeout(cfg.RingTimeout))

	wsHandler := ws.MakeHandler(eng, tokens, st.users, cfg.CORSOrigins, ws.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	router := httpserver.NewRouter(httpserver.Deps{
		CORSOrigins:   cfg.CORSOrigins,
		Tokens:        tokens,
		Users:         st.users,
		Messages:      messages,
		Notifications: notifier,
		Online:        connections,
		WS:            wsHandler,
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Str("db", cfg.DBDriver).Msg("chathub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Debug() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
