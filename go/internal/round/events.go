package round

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/minority/go/internal/models"
)

// EventType names an event pushed to connected clients.
type EventType string

const (
	EventTypeNewQuestion       EventType = "new_question"
	EventTypeEliminated        EventType = "eliminated"
	EventTypeRoundResult       EventType = "round_result"
	EventTypeWinner            EventType = "winner"
	EventTypeTie               EventType = "tie"
	EventTypePlayerCountUpdate EventType = "player_count_update"
	EventTypeGameStart         EventType = "game_start"
	EventTypeGameReset         EventType = "game_reset"
	EventTypeGameState         EventType = "game_state"
	EventTypeError             EventType = "error"
)

// Event is the envelope for every message sent to clients. Room always holds
// the canonical room snapshot; Data holds the event-specific payload.
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Room      models.RoomSnapshot `json:"room"`
	Data      json.RawMessage     `json:"data,omitempty"`
}

// NewEvent builds an event around the room snapshot.
func NewEvent(eventType EventType, room models.RoomSnapshot, payload any) (*Event, error) {
	ev := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Room:      room,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		ev.Data = data
	}
	return ev, nil
}

// NewQuestionPayload is the payload for new_question.
type NewQuestionPayload struct {
	Question         models.Question `json:"question"`
	CountdownSeconds int             `json:"countdown_seconds"`
}

// GameStartPayload is the payload for game_start.
type GameStartPayload struct {
	Players int `json:"players"`
}

// EliminatedPayload is the payload for eliminated.
type EliminatedPayload struct {
	Round      int64          `json:"round"`
	Eliminated []string       `json:"eliminated"`
	Forfeited  []string       `json:"forfeited"`
	Majority   *models.Option `json:"majority,omitempty"`
}

// RoundResultPayload is the payload for round_result.
type RoundResultPayload struct {
	Round      int64          `json:"round"`
	Tally      models.Tally   `json:"tally"`
	Majority   *models.Option `json:"majority,omitempty"`
	Survivors  int            `json:"survivors"`
	Eliminated int            `json:"eliminated"`
}

// WinnerPayload is the payload for winner. Winner is nil when nobody survived.
type WinnerPayload struct {
	Round  int64   `json:"round"`
	Winner *string `json:"winner"`
}

// TiePayload is the payload for tie.
type TiePayload struct {
	Round int64    `json:"round"`
	Tier  []string `json:"tier"`
}

// PlayerCountPayload is the payload for player_count_update.
type PlayerCountPayload struct {
	Counts models.Counts `json:"counts"`
}

// GameStatePayload is the per-connection payload for game_state.
type GameStatePayload struct {
	Role       models.Role       `json:"role"`
	Membership models.Membership `json:"membership,omitempty"`
	YourAnswer *models.Option    `json:"your_answer,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
}

// ErrorPayload is sent before a connection is closed by the server.
type ErrorPayload struct {
	Message string `json:"message"`
}
