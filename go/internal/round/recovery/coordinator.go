// Package recovery rebuilds the fast store from the durable snapshot after the
// fast store loses its state.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round/persistence"
	"github.com/mcdev12/minority/go/internal/round/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// FastStore is what recovery needs from the live store.
type FastStore interface {
	HasLiveState(ctx context.Context) (bool, error)
	RecoveryDisabled(ctx context.Context) (bool, error)
	InitClean(ctx context.Context) error
	Restore(ctx context.Context, state store.RestoreState, batchSize int) error
}

// SnapshotLoader reads the durable snapshot.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
}

type Config struct {
	RoomID       string
	BatchSize    int
	DurableLimit time.Duration
}

func DefaultConfig() Config {
	return Config{
		RoomID:       "main",
		BatchSize:    500,
		DurableLimit: 5 * time.Second,
	}
}

// Outcome reports which path EnsureState took.
type Outcome string

const (
	OutcomeLive     Outcome = "live"
	OutcomeDisabled Outcome = "disabled"
	OutcomeClean    Outcome = "clean"
	OutcomeRestored Outcome = "restored"
	OutcomeDeferred Outcome = "deferred"
)

// Coordinator makes sure the fast store holds a usable room before a
// connection is admitted. Concurrent callers share one recovery.
type Coordinator struct {
	fast    FastStore
	durable SnapshotLoader
	cfg     Config
	group   singleflight.Group
}

func NewCoordinator(fast FastStore, durable SnapshotLoader, cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.DurableLimit <= 0 {
		cfg.DurableLimit = DefaultConfig().DurableLimit
	}
	return &Coordinator{
		fast:    fast,
		durable: durable,
		cfg:     cfg,
	}
}

// EnsureState returns quickly when live state exists. Otherwise it recovers
// from the durable snapshot, or initializes a clean waiting room when there
// is nothing to restore. Fast store failures are returned; durable store
// failures are logged and leave the room uninitialized so the next call
// retries.
func (c *Coordinator) EnsureState(ctx context.Context) (Outcome, error) {
	live, err := c.fast.HasLiveState(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check live state: %w", err)
	}
	if live {
		return OutcomeLive, nil
	}

	v, err, shared := c.group.Do(c.cfg.RoomID, func() (any, error) {
		return c.recover(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debug().Str("room_id", c.cfg.RoomID).Msg("joined in-flight recovery")
	}
	return v.(Outcome), nil
}

func (c *Coordinator) recover(ctx context.Context) (Outcome, error) {
	live, err := c.fast.HasLiveState(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check live state: %w", err)
	}
	if live {
		return OutcomeLive, nil
	}

	disabled, err := c.fast.RecoveryDisabled(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read recovery flag: %w", err)
	}
	if disabled {
		if err := c.fast.InitClean(ctx); err != nil {
			return "", fmt.Errorf("failed to initialize room: %w", err)
		}
		log.Info().Str("room_id", c.cfg.RoomID).Msg("recovery disabled after reset, initialized clean room")
		return OutcomeDisabled, nil
	}

	snap, err := c.loadSnapshot(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		snap, err = nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", c.cfg.RoomID).Msg("failed to read durable snapshot, recovery deferred")
		return OutcomeDeferred, nil
	}

	if snap == nil || !snap.Started || len(snap.SurvivorEmails) == 0 {
		if err := c.fast.InitClean(ctx); err != nil {
			return "", fmt.Errorf("failed to initialize room: %w", err)
		}
		log.Info().Str("room_id", c.cfg.RoomID).Msg("no started tournament to restore, initialized clean room")
		return OutcomeClean, nil
	}

	state := store.RestoreState{
		Survivors:    snap.SurvivorEmails,
		CurrentRound: snap.CurrentRound,
		Started:      true,
	}
	if err := c.fast.Restore(ctx, state, c.cfg.BatchSize); err != nil {
		return "", fmt.Errorf("failed to restore room: %w", err)
	}

	log.Info().
		Str("room_id", c.cfg.RoomID).
		Int64("round", snap.CurrentRound).
		Int("survivors", len(snap.SurvivorEmails)).
		Msg("restored room from durable snapshot")
	return OutcomeRestored, nil
}

func (c *Coordinator) loadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if c.durable == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DurableLimit)
	defer cancel()
	return c.durable.LoadSnapshot(ctx, c.cfg.RoomID)
}
