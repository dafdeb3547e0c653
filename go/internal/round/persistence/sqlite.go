package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/sqlutil"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteRepository stores snapshots and results in a local SQLite file.
// Email lists are stored as JSON arrays.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	repo := &SQLiteRepository{db: db}
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertSnapshot(ctx context.Context, snap models.Snapshot) error {
	survivors, err := json.Marshal(nonNil(snap.SurvivorEmails))
	if err != nil {
		return fmt.Errorf("marshal survivors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, survivor_emails, current_round, status, started, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id) DO UPDATE SET
			survivor_emails = excluded.survivor_emails,
			current_round   = excluded.current_round,
			status          = excluded.status,
			started         = excluded.started,
			updated_at      = excluded.updated_at`,
		snap.RoomID,
		string(survivors),
		snap.CurrentRound,
		string(snap.Status),
		boolToInt(snap.Started),
		sqlutil.ToMillis(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	var (
		survivors string
		status    string
		started   int
		updatedAt int64
	)
	snap := models.Snapshot{RoomID: roomID}
	err := r.db.QueryRowContext(ctx, `
		SELECT survivor_emails, current_round, status, started, updated_at
		FROM room_snapshots WHERE room_id = ?`, roomID,
	).Scan(&survivors, &snap.CurrentRound, &status, &started, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(survivors), &snap.SurvivorEmails); err != nil {
		return nil, fmt.Errorf("decode survivors: %w", err)
	}
	snap.SurvivorEmails = nonNil(snap.SurvivorEmails)
	snap.Status = models.RoomStatus(status)
	snap.Started = started != 0
	snap.UpdatedAt = sqlutil.FromMillis(updatedAt)
	return &snap, nil
}

type sqliteResultTx struct {
	tx *sql.Tx
}

func (q *sqliteResultTx) upsertResult(ctx context.Context, res models.GameResult, tier string) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO game_results (room_id, winner_email, tier_emails, final_round, total_rounds, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id) DO UPDATE SET
			winner_email = excluded.winner_email,
			tier_emails  = excluded.tier_emails,
			final_round  = excluded.final_round,
			total_rounds = excluded.total_rounds,
			ended_at     = excluded.ended_at`,
		res.RoomID,
		sqlutil.ToSqlString(res.WinnerEmail),
		tier,
		res.FinalRound,
		res.TotalRounds,
		sqlutil.ToMillis(res.EndedAt),
	)
	return err
}

func (q *sqliteResultTx) finishSnapshot(ctx context.Context, res models.GameResult, survivors string) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, survivor_emails, current_round, status, started, updated_at)
		VALUES (?, ?, ?, 'waiting', 1, ?)
		ON CONFLICT (room_id) DO UPDATE SET
			survivor_emails = excluded.survivor_emails,
			current_round   = excluded.current_round,
			started         = 1,
			updated_at      = excluded.updated_at`,
		res.RoomID,
		survivors,
		res.FinalRound,
		sqlutil.ToMillis(res.EndedAt),
	)
	return err
}

// SaveResult writes the terminal result and aligns the snapshot with the
// finalists in one transaction.
func (r *SQLiteRepository) SaveResult(ctx context.Context, res models.GameResult) error {
	tier, err := json.Marshal(nonNil(res.TierEmails))
	if err != nil {
		return fmt.Errorf("marshal tier: %w", err)
	}
	survivors, err := json.Marshal(finalists(res))
	if err != nil {
		return fmt.Errorf("marshal finalists: %w", err)
	}
	err = sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *sqliteResultTx { return &sqliteResultTx{tx: tx} },
		func(q *sqliteResultTx) error {
			if err := q.upsertResult(ctx, res, string(tier)); err != nil {
				return err
			}
			return q.finishSnapshot(ctx, res, string(survivors))
		})
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadResult(ctx context.Context, roomID string) (*models.GameResult, error) {
	var (
		winner  sql.NullString
		tier    string
		endedAt int64
	)
	res := models.GameResult{RoomID: roomID}
	err := r.db.QueryRowContext(ctx, `
		SELECT winner_email, tier_emails, final_round, total_rounds, ended_at
		FROM game_results WHERE room_id = ?`, roomID,
	).Scan(&winner, &tier, &res.FinalRound, &res.TotalRounds, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	if err := json.Unmarshal([]byte(tier), &res.TierEmails); err != nil {
		return nil, fmt.Errorf("decode tier: %w", err)
	}
	res.TierEmails = nonNil(res.TierEmails)
	res.WinnerEmail = sqlutil.FromSqlStringPtr(winner)
	res.EndedAt = sqlutil.FromMillis(endedAt)
	return &res, nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
