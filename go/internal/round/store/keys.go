package store

import "fmt"

// keys builds the Redis key names for one room. The room id is wrapped in a
// hash tag so every key of a room lands on the same cluster slot, which the
// multi-key scripts and MULTI blocks rely on.
type keys struct {
	prefix string
}

func newKeys(roomID string) keys {
	return keys{prefix: fmt.Sprintf("minority:{%s}:", roomID)}
}

func (k keys) room() string             { return k.prefix + "room" }
func (k keys) survivors() string        { return k.prefix + "survivors" }
func (k keys) eliminated() string       { return k.prefix + "eliminated" }
func (k keys) online() string           { return k.prefix + "online" }
func (k keys) result() string           { return k.prefix + "result" }
func (k keys) recoveryDisabled() string { return k.prefix + "recovery_disabled" }

func (k keys) question(round int64) string { return fmt.Sprintf("%sround:%d:question", k.prefix, round) }
func (k keys) answers(round int64) string  { return fmt.Sprintf("%sround:%d:answers", k.prefix, round) }
func (k keys) tally(round int64) string    { return fmt.Sprintf("%sround:%d:tally", k.prefix, round) }

// all matches every key of the room.
func (k keys) all() string { return k.prefix + "*" }

// Room hash fields.
const (
	fieldStatus       = "status"
	fieldCurrentRound = "current_round"
	fieldTimeLeft     = "time_left"
	fieldStarted      = "started"
)

// Result hash fields.
const (
	fieldWinner     = "winner"
	fieldTier       = "tier"
	fieldFinalRound = "final_round"
	fieldEndedAt    = "ended_at"
)

// Question hash fields.
const (
	fieldText      = "text"
	fieldOptionA   = "option_a"
	fieldOptionB   = "option_b"
	fieldStartedAt = "started_at"
)
