package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/persistence"
	"github.com/mcdev12/minority/go/internal/round/recovery"
	"gopkg.in/yaml.v3"
)

// Game holds the tunables loaded from the optional YAML game config.
type Game struct {
	Countdown struct {
		Tiers           []round.CountdownTier `yaml:"tiers"`
		FallbackSeconds int                   `yaml:"fallback_seconds"`
	} `yaml:"countdown"`
	DurableWriteTimeout time.Duration `yaml:"durable_write_timeout"`
	RecoveryBatchSize   int           `yaml:"recovery_batch_size"`
}

// DefaultGame returns the built-in tunables.
func DefaultGame() Game {
	var g Game
	engine := round.DefaultConfig()
	g.Countdown.Tiers = engine.Tiers
	g.Countdown.FallbackSeconds = engine.FallbackSeconds
	g.DurableWriteTimeout = persistence.DefaultWriterConfig().WriteTimeout
	g.RecoveryBatchSize = recovery.DefaultConfig().BatchSize
	return g
}

// LoadGame reads path over the defaults. An empty path returns the defaults.
func LoadGame(path string) (Game, error) {
	g := DefaultGame()
	if path == "" {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Game{}, fmt.Errorf("failed to read game config: %w", err)
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Game{}, fmt.Errorf("failed to parse game config: %w", err)
	}
	if err := g.validate(); err != nil {
		return Game{}, fmt.Errorf("invalid game config %s: %w", path, err)
	}
	return g, nil
}

func (g Game) validate() error {
	prev := 0
	for i, tier := range g.Countdown.Tiers {
		if tier.Seconds <= 0 {
			return fmt.Errorf("tier %d: seconds must be positive", i)
		}
		if tier.MaxSurvivors <= prev {
			return fmt.Errorf("tier %d: max_survivors must be ascending", i)
		}
		prev = tier.MaxSurvivors
	}
	if g.Countdown.FallbackSeconds <= 0 {
		return fmt.Errorf("fallback_seconds must be positive")
	}
	if g.DurableWriteTimeout <= 0 {
		return fmt.Errorf("durable_write_timeout must be positive")
	}
	if g.RecoveryBatchSize <= 0 {
		return fmt.Errorf("recovery_batch_size must be positive")
	}
	return nil
}

// EngineConfig returns the round engine configuration for a room.
func (g Game) EngineConfig(roomID string) round.Config {
	cfg := round.DefaultConfig()
	cfg.RoomID = roomID
	cfg.Tiers = g.Countdown.Tiers
	cfg.FallbackSeconds = g.Countdown.FallbackSeconds
	return cfg
}

// WriterConfig returns the snapshot writer configuration for a room.
func (g Game) WriterConfig(roomID string) persistence.WriterConfig {
	return persistence.WriterConfig{RoomID: roomID, WriteTimeout: g.DurableWriteTimeout}
}

// RecoveryConfig returns the recovery configuration for a room.
func (g Game) RecoveryConfig(roomID string) recovery.Config {
	cfg := recovery.DefaultConfig()
	cfg.RoomID = roomID
	cfg.BatchSize = g.RecoveryBatchSize
	cfg.DurableLimit = g.DurableWriteTimeout
	return cfg
}
