package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/rs/zerolog/log"
)

// StateSource is the part of the fast store a snapshot is read from.
type StateSource interface {
	Room(ctx context.Context) (models.Room, error)
	Survivors(ctx context.Context) ([]string, error)
}

type WriterConfig struct {
	RoomID string
	// WriteTimeout bounds every durable write.
	WriteTimeout time.Duration
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		RoomID:       "main",
		WriteTimeout: 5 * time.Second,
	}
}

// SnapshotWriter copies the survivor set and round counter to the durable
// store off the gameplay path. Requests that arrive while a write is in
// flight collapse into a single follow-up write of the latest state.
type SnapshotWriter struct {
	repo   Repository
	source StateSource
	cfg    WriterConfig
	clock  clockwork.Clock

	wakeCh chan struct{}
	// settled is the round of the latest scheduled transition, -1 before any.
	settled atomic.Int64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	results  sync.WaitGroup
}

func NewSnapshotWriter(repo Repository, source StateSource, cfg WriterConfig, clock clockwork.Clock) *SnapshotWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriterConfig().WriteTimeout
	}
	w := &SnapshotWriter{
		repo:     repo,
		source:   source,
		cfg:      cfg,
		clock:    clock,
		wakeCh:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	w.settled.Store(-1)
	return w
}

func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Str("room_id", w.cfg.RoomID).
		Dur("write_timeout", w.cfg.WriteTimeout).
		Msg("snapshot writer started")
	return nil
}

// Stop waits for in-flight result writes, writes a final snapshot if one is
// pending and stops the worker.
func (w *SnapshotWriter) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.results.Wait()

	log.Info().Str("room_id", w.cfg.RoomID).Msg("snapshot writer stopped")
	return nil
}

// ScheduleSnapshot asks for the state after roundID settled to be written.
// It never blocks.
func (w *SnapshotWriter) ScheduleSnapshot(roundID int64) {
	w.settled.Store(roundID)
	select {
	case w.wakeCh <- struct{}{}:
	default:
		// already pending
	}
}

// ScheduleResult writes the terminal result in the background, bounded by the
// write timeout. Failures are logged only.
func (w *SnapshotWriter) ScheduleResult(res models.GameResult) {
	if res.RoomID == "" {
		res.RoomID = w.cfg.RoomID
	}
	w.results.Add(1)
	go func() {
		defer w.results.Done()
		if err := w.SaveResult(context.Background(), res); err != nil {
			log.Error().
				Err(err).
				Str("room_id", res.RoomID).
				Int64("final_round", res.FinalRound).
				Msg("failed to persist game result")
		}
	}()
}

// SaveResult writes the result and gives up after the write timeout. The
// repository call may still complete after ErrDurableWriteTimeout is returned.
func (w *SnapshotWriter) SaveResult(ctx context.Context, res models.GameResult) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.repo.SaveResult(ctx, res) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", round.ErrDurableWriteTimeout, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", round.ErrDurableWriteTimeout, w.cfg.WriteTimeout)
	}
}

// Flush writes the current state synchronously. The recorded round never
// includes a round that has not settled yet.
func (w *SnapshotWriter) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	room, err := w.source.Room(ctx)
	if err != nil {
		return fmt.Errorf("failed to read room: %w", err)
	}
	survivors, err := w.source.Survivors(ctx)
	if err != nil {
		return fmt.Errorf("failed to read survivors: %w", err)
	}

	settled := w.settledRound(room)
	snap := models.Snapshot{
		RoomID:         w.cfg.RoomID,
		SurvivorEmails: survivors,
		CurrentRound:   settled,
		Status:         models.RoomStatusWaiting,
		Started:        room.Started && settled > 0,
		UpdatedAt:      w.clock.Now().UTC(),
	}
	if err := w.repo.UpsertSnapshot(ctx, snap); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", round.ErrDurableWriteTimeout, err)
		}
		return err
	}

	log.Debug().
		Str("room_id", snap.RoomID).
		Int64("round", snap.CurrentRound).
		Int("survivors", len(snap.SurvivorEmails)).
		Bool("started", snap.Started).
		Msg("snapshot written")
	return nil
}

// settledRound is the last round whose eliminations are reflected in the
// survivor set. Survivors only change when a round ends, so a round started
// after the scheduled transition is left out.
func (w *SnapshotWriter) settledRound(room models.Room) int64 {
	current := room.CurrentRound
	if room.Status == models.RoomStatusPlaying && current > 0 {
		current--
	}
	if s := w.settled.Load(); s >= 0 && s < current {
		return s
	}
	return current
}

func (w *SnapshotWriter) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			// Drain a pending request before exiting.
			select {
			case <-w.wakeCh:
				w.write(context.Background())
			default:
			}
			return
		case <-w.wakeCh:
			w.write(ctx)
		}
	}
}

func (w *SnapshotWriter) write(ctx context.Context) {
	if err := w.Flush(ctx); err != nil {
		log.Error().Err(err).Str("room_id", w.cfg.RoomID).Msg("failed to write snapshot")
	}
}
