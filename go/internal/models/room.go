package models

import (
	"strings"
	"time"
)

// RoomStatus defines the status of the game room.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusEnded   RoomStatus = "ended"
)

// Valid reports whether s is one of the known room statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusWaiting, RoomStatusPlaying, RoomStatusEnded:
		return true
	}
	return false
}

// Option is one of the two answers a survivor can pick in a round.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
)

// ParseOption normalizes raw input ("a", " B ") into an Option.
func ParseOption(raw string) (Option, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A":
		return OptionA, true
	case "B":
		return OptionB, true
	}
	return "", false
}

// Other returns the opposite option.
func (o Option) Other() Option {
	if o == OptionA {
		return OptionB
	}
	return OptionA
}

// Room is the singleton game room.
type Room struct {
	Status       RoomStatus `json:"status"`
	CurrentRound int64      `json:"current_round"`
	TimeLeft     int        `json:"time_left"`
	Started      bool       `json:"started"`
}

// Question is the prompt shown for a single round.
type Question struct {
	Round     int64     `json:"round"`
	Text      string    `json:"text"`
	OptionA   string    `json:"option_a"`
	OptionB   string    `json:"option_b"`
	StartedAt time.Time `json:"started_at"`
}

// Tally is the per-round answer count.
type Tally struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Total returns the number of answers counted.
func (t Tally) Total() int {
	return t.A + t.B
}

// Count returns the count for a single option.
func (t Tally) Count(o Option) int {
	if o == OptionA {
		return t.A
	}
	return t.B
}
