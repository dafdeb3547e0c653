// Package persistence keeps the durable copy of the round state: one snapshot
// row per room, rewritten in place, and the terminal result of a tournament.
package persistence

import (
	"context"
	"errors"

	"github.com/mcdev12/minority/go/internal/models"
)

// ErrNotFound is returned when a room has no durable row yet.
var ErrNotFound = errors.New("not found")

// Repository is the durable store behind the snapshot writer and recovery.
type Repository interface {
	Migrate(ctx context.Context) error
	UpsertSnapshot(ctx context.Context, snap models.Snapshot) error
	LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
	SaveResult(ctx context.Context, res models.GameResult) error
	LoadResult(ctx context.Context, roomID string) (*models.GameResult, error)
	Close() error
}
