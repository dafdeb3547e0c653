package models

import "time"

// Snapshot is the durable, replace-in-place record needed to rebuild
// survivor data after the fast store loses its state.
type Snapshot struct {
	RoomID         string     `json:"room_id"`
	SurvivorEmails []string   `json:"survivor_emails"`
	CurrentRound   int64      `json:"current_round"`
	Status         RoomStatus `json:"status"`
	Started        bool       `json:"started"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// GameResult is the terminal outcome of a tournament.
type GameResult struct {
	RoomID      string    `json:"room_id"`
	WinnerEmail *string   `json:"winner_email,omitempty"`
	TierEmails  []string  `json:"tier_emails"`
	FinalRound  int64     `json:"final_round"`
	TotalRounds int64     `json:"total_rounds"`
	EndedAt     time.Time `json:"ended_at"`
}

// RoomSnapshot is the canonical room view attached to every event.
type RoomSnapshot struct {
	Status       RoomStatus `json:"status"`
	CurrentRound int64      `json:"current_round"`
	TimeLeft     int        `json:"time_left"`
	Started      bool       `json:"started"`
	Question     *Question  `json:"question,omitempty"`
	Tally        Tally      `json:"tally"`
	Counts       Counts     `json:"counts"`
	TotalPlayers int        `json:"total_players"`
	Winner       *string    `json:"winner,omitempty"`
	Tier         []string   `json:"tier,omitempty"`
}
