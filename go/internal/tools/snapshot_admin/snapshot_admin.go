package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/minority/go/internal/dbconfig"
)

// snapshot_admin inspects or seeds the durable room snapshot in Postgres,
// for recovery drills.
//
//	snapshot_admin show -room main
//	snapshot_admin seed -room main -round 3 -file survivors.json
//	snapshot_admin seed -room main -round 1 -emails a@x.io,b@x.io
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fail("load db config: %v", err)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fail("failed to connect: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "show":
		fs := flag.NewFlagSet("show", flag.ExitOnError)
		room := fs.String("room", "main", "room id")
		fs.Parse(os.Args[2:])
		if err := show(ctx, pool, *room); err != nil {
			fail("show: %v", err)
		}
	case "seed":
		fs := flag.NewFlagSet("seed", flag.ExitOnError)
		room := fs.String("room", "main", "room id")
		roundID := fs.Int64("round", 1, "round counter to restore")
		file := fs.String("file", "", "JSON array of survivor emails")
		emails := fs.String("emails", "", "comma separated survivor emails")
		fs.Parse(os.Args[2:])

		survivors, err := readSurvivors(*file, *emails)
		if err != nil {
			fail("read survivors: %v", err)
		}
		if err := seed(ctx, pool, *room, *roundID, survivors); err != nil {
			fail("seed: %v", err)
		}
		fmt.Printf("seeded room %s: round %d, %d survivors\n", *room, *roundID, len(survivors))
	default:
		usage()
	}
}

func show(ctx context.Context, pool *pgxpool.Pool, room string) error {
	var (
		survivors []string
		roundID   int64
		status    string
		started   bool
		updatedAt time.Time
	)
	err := pool.QueryRow(ctx, `
        SELECT survivor_emails, current_round, status, started, updated_at
        FROM room_snapshots WHERE room_id = $1
    `, room).Scan(&survivors, &roundID, &status, &started, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		fmt.Printf("no snapshot for room %s\n", room)
	} else if err != nil {
		return err
	} else {
		fmt.Printf("room %s: round %d, status %s, started %t, updated %s\n",
			room, roundID, status, started, updatedAt.Format(time.RFC3339))
		fmt.Printf("  %d survivors\n", len(survivors))
		for _, s := range survivors {
			fmt.Printf("  - %s\n", s)
		}
	}

	var (
		winner     *string
		tier       []string
		finalRound int64
		endedAt    time.Time
	)
	err = pool.QueryRow(ctx, `
        SELECT winner_email, tier_emails, final_round, ended_at
        FROM game_results WHERE room_id = $1
    `, room).Scan(&winner, &tier, &finalRound, &endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case winner != nil:
		fmt.Printf("result: winner %s in round %d (%s)\n", *winner, finalRound, endedAt.Format(time.RFC3339))
	case len(tier) > 0:
		fmt.Printf("result: tie %s in round %d\n", strings.Join(tier, ", "), finalRound)
	default:
		fmt.Printf("result: no survivors after round %d\n", finalRound)
	}
	return nil
}

func seed(ctx context.Context, pool *pgxpool.Pool, room string, roundID int64, survivors []string) error {
	if roundID < 1 {
		return fmt.Errorf("round must be at least 1 for a started tournament")
	}
	if len(survivors) == 0 {
		return fmt.Errorf("at least one survivor is required")
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM game_results WHERE room_id = $1`, room); err != nil {
			return fmt.Errorf("clear result: %w", err)
		}
		_, err := tx.Exec(ctx, `
            INSERT INTO room_snapshots (room_id, survivor_emails, current_round, status, started, updated_at)
            VALUES ($1, $2, $3, 'waiting', TRUE, now())
            ON CONFLICT (room_id) DO UPDATE SET
              survivor_emails = EXCLUDED.survivor_emails,
              current_round   = EXCLUDED.current_round,
              status          = EXCLUDED.status,
              started         = EXCLUDED.started,
              updated_at      = EXCLUDED.updated_at
        `, room, survivors, roundID)
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		return nil
	})
}

func readSurvivors(file, list string) ([]string, error) {
	var raw []string
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
	case list != "":
		raw = strings.Split(list, ",")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: snapshot_admin show|seed [flags]")
	os.Exit(2)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
