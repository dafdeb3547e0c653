package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresRepository stores snapshots and results in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertSnapshot(ctx context.Context, snap models.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, survivor_emails, current_round, status, started, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id) DO UPDATE SET
			survivor_emails = EXCLUDED.survivor_emails,
			current_round   = EXCLUDED.current_round,
			status          = EXCLUDED.status,
			started         = EXCLUDED.started,
			updated_at      = EXCLUDED.updated_at`,
		snap.RoomID,
		pq.Array(nonNil(snap.SurvivorEmails)),
		snap.CurrentRound,
		string(snap.Status),
		snap.Started,
		snap.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	snap := models.Snapshot{RoomID: roomID}
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT survivor_emails, current_round, status, started, updated_at
		FROM room_snapshots WHERE room_id = $1`, roomID,
	).Scan(pq.Array(&snap.SurvivorEmails), &snap.CurrentRound, &status, &snap.Started, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.Status = models.RoomStatus(status)
	snap.SurvivorEmails = nonNil(snap.SurvivorEmails)
	return &snap, nil
}

// pgResultTx groups the statements of a terminal write.
type pgResultTx struct {
	tx *sql.Tx
}

func (q *pgResultTx) upsertResult(ctx context.Context, res models.GameResult) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO game_results (room_id, winner_email, tier_emails, final_round, total_rounds, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id) DO UPDATE SET
			winner_email = EXCLUDED.winner_email,
			tier_emails  = EXCLUDED.tier_emails,
			final_round  = EXCLUDED.final_round,
			total_rounds = EXCLUDED.total_rounds,
			ended_at     = EXCLUDED.ended_at`,
		res.RoomID,
		sqlutil.ToSqlString(res.WinnerEmail),
		pq.Array(nonNil(res.TierEmails)),
		res.FinalRound,
		res.TotalRounds,
		res.EndedAt.UTC(),
	)
	return err
}

func (q *pgResultTx) finishSnapshot(ctx context.Context, res models.GameResult) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, survivor_emails, current_round, status, started, updated_at)
		VALUES ($1, $2, $3, 'waiting', TRUE, $4)
		ON CONFLICT (room_id) DO UPDATE SET
			survivor_emails = EXCLUDED.survivor_emails,
			current_round   = EXCLUDED.current_round,
			started         = TRUE,
			updated_at      = EXCLUDED.updated_at`,
		res.RoomID,
		pq.Array(finalists(res)),
		res.FinalRound,
		res.EndedAt.UTC(),
	)
	return err
}

// SaveResult writes the terminal result and aligns the snapshot with the
// finalists in one transaction.
func (r *PostgresRepository) SaveResult(ctx context.Context, res models.GameResult) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *pgResultTx { return &pgResultTx{tx: tx} },
		func(q *pgResultTx) error {
			if err := q.upsertResult(ctx, res); err != nil {
				return err
			}
			return q.finishSnapshot(ctx, res)
		})
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	log.Debug().Str("room_id", res.RoomID).Int64("final_round", res.FinalRound).Msg("game result saved")
	return nil
}

func (r *PostgresRepository) LoadResult(ctx context.Context, roomID string) (*models.GameResult, error) {
	res := models.GameResult{RoomID: roomID}
	var winner sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT winner_email, tier_emails, final_round, total_rounds, ended_at
		FROM game_results WHERE room_id = $1`, roomID,
	).Scan(&winner, pq.Array(&res.TierEmails), &res.FinalRound, &res.TotalRounds, &res.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	res.WinnerEmail = sqlutil.FromSqlStringPtr(winner)
	res.TierEmails = nonNil(res.TierEmails)
	return &res, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// finalists returns the players still standing when the tournament ended.
func finalists(res models.GameResult) []string {
	if res.WinnerEmail != nil {
		return []string{*res.WinnerEmail}
	}
	return nonNil(res.TierEmails)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
