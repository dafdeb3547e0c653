package round

import "errors"

// Player-facing rejections. These are returned synchronously and carry a
// human-readable message suitable for the caller.
var (
	// ErrNoActiveRound is returned when an answer arrives while no round is playing.
	ErrNoActiveRound = errors.New("no active round")
	// ErrPlayerEliminated is returned when a non-survivor submits an answer.
	ErrPlayerEliminated = errors.New("player is not a survivor")
	// ErrInvalidAnswer is returned for answers other than A or B.
	ErrInvalidAnswer = errors.New("answer must be A or B")
)

// Operator-facing rejections.
var (
	// ErrInvalidState is returned when a transition's precondition does not hold.
	ErrInvalidState = errors.New("invalid room state for this operation")
	// ErrGameEnded is returned for round-mutating calls after the tournament ended.
	ErrGameEnded = errors.New("tournament has ended")
	// ErrNoSurvivors is returned when starting a round with nobody left to play.
	ErrNoSurvivors = errors.New("no survivors to start a round")
	// ErrInvalidQuestion is returned when prompt text or option labels are missing.
	ErrInvalidQuestion = errors.New("question text and both options are required")
)

// Infrastructure failures.
var (
	// ErrStoreUnavailable wraps any failure talking to the fast store.
	ErrStoreUnavailable = errors.New("fast store unavailable")
	// ErrDurableWriteTimeout is logged when a durable write exceeds its bound.
	ErrDurableWriteTimeout = errors.New("durable write timed out")
)
