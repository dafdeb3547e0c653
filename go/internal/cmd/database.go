package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/minority/go/internal/config"
	"github.com/mcdev12/minority/go/internal/round/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("connected to redis")
	return client, nil
}

func setupDurable(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	switch cfg.DurableDriver {
	case config.DriverPostgres:
		return setupPostgres(ctx, cfg)
	default:
		repo, err := persistence.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite durable store")
		return repo, nil
	}
}

func setupPostgres(ctx context.Context, cfg *config.Config) (persistence.Repository, error) {
	dbCfg := cfg.Postgres

	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dbCfg.Apply(database)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := persistence.NewPostgresRepository(database)
	if err := repo.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}

	log.Info().
		Str("user", dbCfg.User).
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to postgres durable store")
	return repo, nil
}
