package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, game := loadConfig()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	durable, err := setupDurable(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DurableDriver).Msg("failed to set up durable store")
	}
	defer durable.Close()

	services, err := setupServices(ctx, cfg, game, redisClient, durable)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	outcome, err := services.Recovery.EnsureState(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare room state")
	}
	log.Info().
		Str("room_id", cfg.RoomID).
		Str("outcome", string(outcome)).
		Msg("room state ready")

	if err := services.Writer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start snapshot writer")
	}
	if services.Events != nil {
		if err := services.Events.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start event feed")
		}
	}
	go services.Gateway.Start(ctx)

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	services.Engine.Close()
	if err := services.Writer.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}
	if err := services.Writer.Stop(); err != nil {
		log.Error().Err(err).Msg("snapshot writer stop failed")
	}
	if services.Events != nil {
		if err := services.Events.Stop(); err != nil {
			log.Error().Err(err).Msg("event feed stop failed")
		}
		services.Events.Close()
	}

	// Cancel service context to close remaining sockets
	cancel()

	log.Info().Msg("minority server shutdown complete")
}
