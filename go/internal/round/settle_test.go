package round

import (
	"reflect"
	"testing"

	"github.com/mcdev12/minority/go/internal/models"
)

func TestSettle(t *testing.T) {
	a, b := models.OptionA, models.OptionB

	tests := []struct {
		name          string
		survivors     []string
		answers       map[string]models.Option
		wantTally     models.Tally
		wantMajority  *models.Option
		wantForfeited []string
		wantOutVoted  []string
		wantRemaining []string
	}{
		{
			name:          "majority eliminated",
			survivors:     []string{"a", "b", "c", "d", "e"},
			answers:       map[string]models.Option{"a": a, "b": a, "c": a, "d": b, "e": b},
			wantTally:     models.Tally{A: 3, B: 2},
			wantMajority:  &a,
			wantOutVoted:  []string{"a", "b", "c"},
			wantRemaining: []string{"d", "e"},
		},
		{
			name:          "forfeits always eliminated",
			survivors:     []string{"a", "b", "c", "d", "e"},
			answers:       map[string]models.Option{"a": a, "b": b, "c": b},
			wantTally:     models.Tally{A: 1, B: 2},
			wantMajority:  &b,
			wantForfeited: []string{"d", "e"},
			wantOutVoted:  []string{"b", "c"},
			wantRemaining: []string{"a"},
		},
		{
			name:          "one side empty eliminates nobody",
			survivors:     []string{"a", "b", "c", "d"},
			answers:       map[string]models.Option{"a": a, "b": a, "c": a, "d": a},
			wantTally:     models.Tally{A: 4, B: 0},
			wantRemaining: []string{"a", "b", "c", "d"},
		},
		{
			name:          "tied counts eliminate nobody",
			survivors:     []string{"a", "b", "c", "d"},
			answers:       map[string]models.Option{"a": a, "b": b, "c": a, "d": b},
			wantTally:     models.Tally{A: 2, B: 2},
			wantRemaining: []string{"a", "b", "c", "d"},
		},
		{
			name:          "tie still eliminates forfeits",
			survivors:     []string{"a", "b", "c"},
			answers:       map[string]models.Option{"a": a, "b": b},
			wantTally:     models.Tally{A: 1, B: 1},
			wantForfeited: []string{"c"},
			wantRemaining: []string{"a", "b"},
		},
		{
			name:          "answers from non-survivors are ignored",
			survivors:     []string{"a", "b", "c"},
			answers:       map[string]models.Option{"a": a, "b": b, "c": b, "x": a, "y": a},
			wantTally:     models.Tally{A: 1, B: 2},
			wantMajority:  &b,
			wantOutVoted:  []string{"b", "c"},
			wantRemaining: []string{"a"},
		},
		{
			name:          "nobody answered",
			survivors:     []string{"a", "b"},
			answers:       map[string]models.Option{},
			wantForfeited: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Settle(tt.survivors, tt.answers)
			if got.Tally != tt.wantTally {
				t.Errorf("Expected tally %+v, got %+v", tt.wantTally, got.Tally)
			}
			switch {
			case tt.wantMajority == nil && got.Majority != nil:
				t.Errorf("Expected no majority, got %s", *got.Majority)
			case tt.wantMajority != nil && (got.Majority == nil || *got.Majority != *tt.wantMajority):
				t.Errorf("Expected majority %s, got %v", *tt.wantMajority, got.Majority)
			}
			if !equalStrings(got.Forfeited, tt.wantForfeited) {
				t.Errorf("Expected forfeited %v, got %v", tt.wantForfeited, got.Forfeited)
			}
			if !equalStrings(got.OutVoted, tt.wantOutVoted) {
				t.Errorf("Expected out-voted %v, got %v", tt.wantOutVoted, got.OutVoted)
			}
			if !equalStrings(got.Remaining, tt.wantRemaining) {
				t.Errorf("Expected remaining %v, got %v", tt.wantRemaining, got.Remaining)
			}
			if got.Tally.Total() > len(tt.survivors) {
				t.Errorf("Tally %d exceeds survivors %d", got.Tally.Total(), len(tt.survivors))
			}
		})
	}
}

func TestSettlementEliminatedOrder(t *testing.T) {
	s := Settlement{Forfeited: []string{"z"}, OutVoted: []string{"a", "b"}}
	want := []string{"z", "a", "b"}
	if got := s.Eliminated(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestCountdownSeconds(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		survivors int
		want      int
	}{
		{1, 15}, {40, 15}, {41, 20}, {75, 20}, {76, 30}, {150, 30}, {151, 40}, {5000, 40},
	}
	for _, tt := range tests {
		if got := cfg.CountdownSeconds(tt.survivors); got != tt.want {
			t.Errorf("CountdownSeconds(%d): expected %d, got %d", tt.survivors, tt.want, got)
		}
	}
}

func TestBuildRoomSnapshot(t *testing.T) {
	winner := "a@example.com"
	q := &models.Question{Round: 3, Text: "cats or dogs", OptionA: "cats", OptionB: "dogs"}

	playing := BuildRoomSnapshot(RoomState{
		Room:     models.Room{Status: models.RoomStatusPlaying, CurrentRound: 3, TimeLeft: 9, Started: true},
		Question: q,
		Tally:    models.Tally{A: 4, B: 1},
		Counts:   models.Counts{Survivors: 5, Eliminated: 2, Online: 6},
	})
	if playing.Question == nil || playing.Question.Text != "cats or dogs" {
		t.Errorf("Expected question in snapshot, got %+v", playing.Question)
	}
	if playing.Tally != (models.Tally{}) {
		t.Errorf("Expected tally hidden while playing, got %+v", playing.Tally)
	}
	if playing.TotalPlayers != 7 {
		t.Errorf("Expected 7 total players, got %d", playing.TotalPlayers)
	}

	ended := BuildRoomSnapshot(RoomState{
		Room:     models.Room{Status: models.RoomStatusEnded, CurrentRound: 3, Started: true},
		Question: q,
		Tally:    models.Tally{A: 1, B: 2},
		Result:   &models.GameResult{WinnerEmail: &winner, TierEmails: []string{}},
	})
	if ended.Tally != (models.Tally{A: 1, B: 2}) {
		t.Errorf("Expected tally revealed after round, got %+v", ended.Tally)
	}
	if ended.Winner == nil || *ended.Winner != winner {
		t.Errorf("Expected winner %s, got %v", winner, ended.Winner)
	}
	if ended.Tier != nil {
		t.Errorf("Expected no tier, got %v", ended.Tier)
	}

	stale := BuildRoomSnapshot(RoomState{
		Room:     models.Room{Status: models.RoomStatusWaiting, CurrentRound: 4},
		Question: q,
	})
	if stale.Question != nil {
		t.Errorf("Expected question from an older round to be dropped, got %+v", stale.Question)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
