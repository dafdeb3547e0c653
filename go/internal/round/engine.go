// Package round implements the round-state engine of the minority-rule game:
// room status transitions, the adaptive countdown, answer intake and
// elimination. Live state lives in a shared fast store; the engine only keeps
// the handle of the running countdown.
package round

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is what the engine needs from the fast store. Each call is atomic on
// its own; the engine never relies on atomicity across calls.
type Store interface {
	Room(ctx context.Context) (models.Room, error)
	SetStatus(ctx context.Context, status models.RoomStatus) error
	SetTimeLeft(ctx context.Context, seconds int) error
	IncrRound(ctx context.Context) (int64, error)
	BeginRound(ctx context.Context, q models.Question, timeLeft int) error
	Question(ctx context.Context, roundID int64) (*models.Question, error)
	RecordAnswer(ctx context.Context, roundID int64, email string, option models.Option) (bool, error)
	Answers(ctx context.Context, roundID int64) (map[string]models.Option, error)
	Tally(ctx context.Context, roundID int64) (models.Tally, error)
	SetTally(ctx context.Context, roundID int64, t models.Tally) error
	Survivors(ctx context.Context) ([]string, error)
	SurvivorCount(ctx context.Context) (int, error)
	IsSurvivor(ctx context.Context, email string) (bool, error)
	Eliminate(ctx context.Context, emails []string) ([]string, error)
	Counts(ctx context.Context) (models.Counts, error)
	Finish(ctx context.Context, res models.GameResult) error
	Result(ctx context.Context) (*models.GameResult, error)
	Reset(ctx context.Context) error
}

// Persister receives transitions that must reach the durable store. Both
// calls return immediately; the write happens off the gameplay path.
type Persister interface {
	// ScheduleSnapshot is called after roundID settled, or with 0 after a reset.
	ScheduleSnapshot(roundID int64)
	ScheduleResult(res models.GameResult)
}

type nopPersister struct{}

func (nopPersister) ScheduleSnapshot(roundID int64) {}
func (nopPersister) ScheduleResult(res models.GameResult) {}

// QuestionInput is what an operator supplies to start a round.
type QuestionInput struct {
	Text    string `json:"text"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
}

// RoundOutcome describes what EndRound did.
type RoundOutcome struct {
	Round      int64             `json:"round"`
	Tally      models.Tally      `json:"tally"`
	Majority   *models.Option    `json:"majority,omitempty"`
	Forfeited  []string          `json:"forfeited"`
	OutVoted   []string          `json:"out_voted"`
	Eliminated []string          `json:"eliminated"`
	Survivors  []string          `json:"survivors"`
	Status     models.RoomStatus `json:"status"`
	Winner     *string           `json:"winner,omitempty"`
	Tier       []string          `json:"tier,omitempty"`
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the clock. Tests pass a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithPersister attaches the durable snapshot writer.
func WithPersister(p Persister) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.persister = p
		}
	}
}

// WithBroadcaster attaches the event transport.
func WithBroadcaster(b Broadcaster) EngineOption {
	return func(e *Engine) {
		if b != nil {
			e.broadcaster = b
		}
	}
}

// Engine is the state machine for one room.
//
// Transitions (start, end, reset, countdown ticks) hold mu exclusively.
// Answer submissions hold the read side so they run concurrently with each
// other but never interleave with a transition.
type Engine struct {
	store       Store
	broadcaster Broadcaster
	persister   Persister
	clock       clockwork.Clock
	cfg         Config

	mu        sync.RWMutex
	countdown *countdown
}

// NewEngine creates the engine for a room.
func NewEngine(store Store, cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		broadcaster: nopBroadcaster{},
		persister:   nopPersister{},
		clock:       clockwork.NewRealClock(),
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRound moves the room from waiting to playing with a new question.
func (e *Engine) StartRound(ctx context.Context, in QuestionInput) (models.Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.OptionA = strings.TrimSpace(in.OptionA)
	in.OptionB = strings.TrimSpace(in.OptionB)
	if in.Text == "" || in.OptionA == "" || in.OptionB == "" {
		return models.Question{}, ErrInvalidQuestion
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	room, err := e.store.Room(ctx)
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to read room: %w", err)
	}
	switch room.Status {
	case models.RoomStatusEnded:
		return models.Question{}, ErrGameEnded
	case models.RoomStatusPlaying:
		return models.Question{}, fmt.Errorf("%w: round %d is still playing", ErrInvalidState, room.CurrentRound)
	}

	survivors, err := e.store.SurvivorCount(ctx)
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to count survivors: %w", err)
	}
	if survivors == 0 {
		return models.Question{}, ErrNoSurvivors
	}

	roundID, err := e.store.IncrRound(ctx)
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to advance round: %w", err)
	}

	seconds := e.cfg.CountdownSeconds(survivors)
	q := models.Question{
		Round:     roundID,
		Text:      in.Text,
		OptionA:   in.OptionA,
		OptionB:   in.OptionB,
		StartedAt: e.clock.Now().UTC(),
	}
	if err := e.store.BeginRound(ctx, q, seconds); err != nil {
		return models.Question{}, fmt.Errorf("failed to begin round: %w", err)
	}

	e.replaceCountdown(roundID, q.StartedAt.Add(time.Duration(seconds)*time.Second))

	log.Info().
		Int64("round", roundID).
		Int("survivors", survivors).
		Int("countdown_sec", seconds).
		Msg("round started")

	if !room.Started {
		e.emit(ctx, EventTypeGameStart, GameStartPayload{Players: survivors})
	}
	e.emit(ctx, EventTypeNewQuestion, NewQuestionPayload{Question: q, CountdownSeconds: seconds})

	return q, nil
}

// SubmitAnswer records a survivor's answer for the current round. A later
// submission overwrites an earlier one.
func (e *Engine) SubmitAnswer(ctx context.Context, email string, option models.Option) (int64, error) {
	if option != models.OptionA && option != models.OptionB {
		return 0, ErrInvalidAnswer
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	room, err := e.store.Room(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read room: %w", err)
	}
	if room.Status != models.RoomStatusPlaying {
		return 0, ErrNoActiveRound
	}
	q, err := e.store.Question(ctx, room.CurrentRound)
	if err != nil {
		return 0, fmt.Errorf("failed to read question: %w", err)
	}
	if q == nil {
		return 0, ErrNoActiveRound
	}

	ok, err := e.store.IsSurvivor(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("failed to check survivor: %w", err)
	}
	if !ok {
		return 0, ErrPlayerEliminated
	}

	if _, err := e.store.RecordAnswer(ctx, room.CurrentRound, email, option); err != nil {
		return 0, fmt.Errorf("failed to record answer: %w", err)
	}

	log.Debug().
		Int64("round", room.CurrentRound).
		Str("player", email).
		Str("answer", string(option)).
		Msg("answer recorded")

	return room.CurrentRound, nil
}

// EndRound settles the current round. It returns a nil outcome without error
// when no round is playing, so repeated calls are harmless.
func (e *Engine) EndRound(ctx context.Context) (*RoundOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endRoundLocked(ctx)
}

func (e *Engine) endRoundLocked(ctx context.Context) (*RoundOutcome, error) {
	room, err := e.store.Room(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read room: %w", err)
	}
	if room.Status != models.RoomStatusPlaying {
		return nil, nil
	}
	roundID := room.CurrentRound
	e.cancelCountdown()

	survivors, err := e.store.Survivors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read survivors: %w", err)
	}
	answers, err := e.store.Answers(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers: %w", err)
	}

	settlement := Settle(survivors, answers)
	if _, err := e.store.Eliminate(ctx, settlement.Eliminated()); err != nil {
		return nil, fmt.Errorf("failed to eliminate players: %w", err)
	}
	if err := e.store.SetTally(ctx, roundID, settlement.Tally); err != nil {
		return nil, fmt.Errorf("failed to store tally: %w", err)
	}

	outcome := &RoundOutcome{
		Round:      roundID,
		Tally:      settlement.Tally,
		Majority:   settlement.Majority,
		Forfeited:  nonNil(settlement.Forfeited),
		OutVoted:   nonNil(settlement.OutVoted),
		Eliminated: settlement.Eliminated(),
		Survivors:  nonNil(settlement.Remaining),
	}

	var result *models.GameResult
	switch remaining := len(settlement.Remaining); {
	case remaining == 2:
		outcome.Status = models.RoomStatusEnded
		outcome.Tier = append([]string(nil), settlement.Remaining...)
		result = &models.GameResult{
			RoomID:     e.cfg.RoomID,
			TierEmails: outcome.Tier,
		}
	case remaining <= 1:
		outcome.Status = models.RoomStatusEnded
		if remaining == 1 {
			winner := settlement.Remaining[0]
			outcome.Winner = &winner
		}
		result = &models.GameResult{
			RoomID:      e.cfg.RoomID,
			WinnerEmail: outcome.Winner,
			TierEmails:  []string{},
		}
	default:
		outcome.Status = models.RoomStatusWaiting
	}

	if result != nil {
		result.FinalRound = roundID
		result.TotalRounds = roundID
		result.EndedAt = e.clock.Now().UTC()
		if err := e.store.Finish(ctx, *result); err != nil {
			return nil, fmt.Errorf("failed to finish tournament: %w", err)
		}
	} else {
		if err := e.store.SetStatus(ctx, models.RoomStatusWaiting); err != nil {
			return nil, fmt.Errorf("failed to return room to waiting: %w", err)
		}
		if err := e.store.SetTimeLeft(ctx, 0); err != nil {
			log.Warn().Err(err).Int64("round", roundID).Msg("failed to clear time left")
		}
	}

	log.Info().
		Int64("round", roundID).
		Int("tally_a", settlement.Tally.A).
		Int("tally_b", settlement.Tally.B).
		Int("forfeited", len(settlement.Forfeited)).
		Int("out_voted", len(settlement.OutVoted)).
		Int("survivors", len(settlement.Remaining)).
		Str("status", string(outcome.Status)).
		Msg("round ended")

	e.emit(ctx, EventTypeEliminated, EliminatedPayload{
		Round:      roundID,
		Eliminated: outcome.Eliminated,
		Forfeited:  outcome.Forfeited,
		Majority:   outcome.Majority,
	})

	switch {
	case outcome.Tier != nil:
		e.emit(ctx, EventTypeTie, TiePayload{Round: roundID, Tier: outcome.Tier})
	case outcome.Status == models.RoomStatusEnded:
		e.emit(ctx, EventTypeWinner, WinnerPayload{Round: roundID, Winner: outcome.Winner})
	default:
		e.emit(ctx, EventTypeRoundResult, RoundResultPayload{
			Round:      roundID,
			Tally:      settlement.Tally,
			Majority:   settlement.Majority,
			Survivors:  len(settlement.Remaining),
			Eliminated: len(outcome.Eliminated),
		})
	}

	e.persister.ScheduleSnapshot(roundID)
	if result != nil {
		e.persister.ScheduleResult(*result)
	}
	return outcome, nil
}

// ResetGame wipes the tournament and returns the room to waiting at round 0.
// Automatic recovery stays disabled until the next round starts.
func (e *Engine) ResetGame(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelCountdown()
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}

	log.Info().Str("room_id", e.cfg.RoomID).Msg("game reset")

	e.emit(ctx, EventTypeGameReset, nil)
	e.persister.ScheduleSnapshot(0)
	return nil
}

// Close stops the running countdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelCountdown()
}

// emit builds an event around a fresh room snapshot and hands it to the
// broadcaster. Failures are logged; they never fail the transition.
func (e *Engine) emit(ctx context.Context, eventType EventType, payload any) {
	snap, err := e.RoomSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build room snapshot for event")
		return
	}
	ev, err := NewEvent(eventType, snap, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	e.broadcaster.Broadcast(ev)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
