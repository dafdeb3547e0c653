package main

import (
	"os"

	"github.com/mcdev12/minority/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogging(cfg *config.Config) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.Level())
}

func loadConfig() (*config.Config, config.Game) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	game, err := config.LoadGame(cfg.GameConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.GameConfigPath).Msg("failed to load game config")
	}
	return cfg, game
}
