package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/minority/go/internal/config"
	"github.com/mcdev12/minority/go/internal/identity"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/api"
	"github.com/mcdev12/minority/go/internal/round/eventbus"
	"github.com/mcdev12/minority/go/internal/round/gateway"
	"github.com/mcdev12/minority/go/internal/round/persistence"
	"github.com/mcdev12/minority/go/internal/round/recovery"
	"github.com/mcdev12/minority/go/internal/round/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store    *store.RedisStore
	Durable  persistence.Repository
	Writer   *persistence.SnapshotWriter
	Recovery *recovery.Coordinator
	Engine   *round.Engine
	Gateway  *gateway.Service
	API      *api.Handler
	// Events is nil when the JetStream feed is disabled.
	Events *eventbus.Publisher
}

func setupServices(ctx context.Context, cfg *config.Config, game config.Game, client *redis.Client, durable persistence.Repository) (*Services, error) {
	// Wire up dependency injection chain
	// Fast store → Recovery / Snapshot writer → Gateway → Engine → API

	verifier, err := identity.NewVerifier(cfg.JWTSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	fast := store.NewRedisStore(client, cfg.RoomID)
	coordinator := recovery.NewCoordinator(fast, durable, game.RecoveryConfig(cfg.RoomID))
	writer := persistence.NewSnapshotWriter(durable, fast, game.WriterConfig(cfg.RoomID), nil)

	events := setupEventFeed(ctx, cfg)

	deps := gateway.Deps{
		Store:     fast,
		Snapshots: round.NewSnapshotReader(fast),
		Auth:      verifier,
		Recovery:  coordinator,
	}
	broadcasters := round.MultiBroadcaster{}
	if events != nil {
		deps.Extra = events
		broadcasters = append(broadcasters, events)
	}
	gw := gateway.NewService(gateway.DefaultConnectionConfig(), deps)
	broadcasters = append(round.MultiBroadcaster{gw.Broadcaster()}, broadcasters...)

	engine := round.NewEngine(fast, game.EngineConfig(cfg.RoomID),
		round.WithPersister(writer),
		round.WithBroadcaster(broadcasters),
	)
	gw.AcceptAnswers(engine)

	return &Services{
		Store:    fast,
		Durable:  durable,
		Writer:   writer,
		Recovery: coordinator,
		Engine:   engine,
		Gateway:  gw,
		API:      api.NewHandler(engine, coordinator, verifier),
		Events:   events,
	}, nil
}

// setupEventFeed connects the JetStream feed. The feed is optional: a
// connection failure is logged and the server runs without it.
func setupEventFeed(ctx context.Context, cfg *config.Config) *eventbus.Publisher {
	if cfg.NATSURL == "" {
		log.Info().Msg("NATS_URL not set, event feed disabled")
		return nil
	}
	ecfg := eventbus.DefaultConfig()
	ecfg.URL = cfg.NATSURL
	ecfg.RoomID = cfg.RoomID

	publisher, err := eventbus.NewJetStreamPublisher(ctx, ecfg)
	if err != nil {
		log.Error().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to set up event feed, continuing without it")
		return nil
	}
	return publisher
}
