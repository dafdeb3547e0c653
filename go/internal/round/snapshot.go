package round

import (
	"context"
	"fmt"

	"github.com/mcdev12/minority/go/internal/models"
)

// RoomState is everything BuildRoomSnapshot needs, read from the store.
type RoomState struct {
	Room     models.Room
	Question *models.Question
	Tally    models.Tally
	Counts   models.Counts
	Result   *models.GameResult
}

// BuildRoomSnapshot assembles the canonical room view. Every event and every
// game_state message uses this so payload shapes cannot drift apart.
// The tally is withheld while a round is playing.
func BuildRoomSnapshot(state RoomState) models.RoomSnapshot {
	snap := models.RoomSnapshot{
		Status:       state.Room.Status,
		CurrentRound: state.Room.CurrentRound,
		TimeLeft:     state.Room.TimeLeft,
		Started:      state.Room.Started,
		Counts:       state.Counts,
		TotalPlayers: state.Counts.Total(),
	}
	if state.Question != nil && state.Question.Round == state.Room.CurrentRound {
		q := *state.Question
		snap.Question = &q
	}
	if state.Room.Status != models.RoomStatusPlaying {
		snap.Tally = state.Tally
	}
	if state.Room.Status == models.RoomStatusEnded && state.Result != nil {
		snap.Winner = state.Result.WinnerEmail
		if len(state.Result.TierEmails) > 0 {
			snap.Tier = append([]string(nil), state.Result.TierEmails...)
		}
	}
	return snap
}

// SnapshotStore is the read side of the fast store used to build snapshots.
type SnapshotStore interface {
	Room(ctx context.Context) (models.Room, error)
	Question(ctx context.Context, roundID int64) (*models.Question, error)
	Tally(ctx context.Context, roundID int64) (models.Tally, error)
	Counts(ctx context.Context) (models.Counts, error)
	Result(ctx context.Context) (*models.GameResult, error)
}

// SnapshotReader builds room snapshots straight from the store.
type SnapshotReader struct {
	store SnapshotStore
}

func NewSnapshotReader(store SnapshotStore) *SnapshotReader {
	return &SnapshotReader{store: store}
}

// RoomSnapshot reads the current room state and builds its snapshot.
func (r *SnapshotReader) RoomSnapshot(ctx context.Context) (models.RoomSnapshot, error) {
	room, err := r.store.Room(ctx)
	if err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("failed to read room: %w", err)
	}
	state := RoomState{Room: room}
	if state.Question, err = r.store.Question(ctx, room.CurrentRound); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("failed to read question: %w", err)
	}
	if state.Tally, err = r.store.Tally(ctx, room.CurrentRound); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("failed to read tally: %w", err)
	}
	if state.Counts, err = r.store.Counts(ctx); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("failed to read counts: %w", err)
	}
	if room.Status == models.RoomStatusEnded {
		if state.Result, err = r.store.Result(ctx); err != nil {
			return models.RoomSnapshot{}, fmt.Errorf("failed to read result: %w", err)
		}
	}
	return BuildRoomSnapshot(state), nil
}

// RoomSnapshot builds the snapshot of the engine's room.
func (e *Engine) RoomSnapshot(ctx context.Context) (models.RoomSnapshot, error) {
	return NewSnapshotReader(e.store).RoomSnapshot(ctx)
}
