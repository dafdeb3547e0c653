package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/store"
	"github.com/redis/go-redis/v9"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*round.Event
}

func (b *recordingBroadcaster) Broadcast(ev *round.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) count(t round.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type reconcilerFixture struct {
	mr          *miniredis.Miniredis
	store       *store.RedisStore
	broadcaster *recordingBroadcaster
	reconciler  *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewRedisStore(client, "main")
	if err := s.InitClean(context.Background()); err != nil {
		t.Fatalf("InitClean failed: %v", err)
	}
	b := &recordingBroadcaster{}
	return &reconcilerFixture{
		mr:          mr,
		store:       s,
		broadcaster: b,
		reconciler:  NewReconciler(s, round.NewSnapshotReader(s), b),
	}
}

func (f *reconcilerFixture) beginRound(t *testing.T, roundID int64) {
	t.Helper()
	q := models.Question{Round: roundID, Text: "q", OptionA: "x", OptionB: "y", StartedAt: time.Now()}
	if _, err := f.store.IncrRound(context.Background()); err != nil {
		t.Fatalf("IncrRound failed: %v", err)
	}
	if err := f.store.BeginRound(context.Background(), q, 15); err != nil {
		t.Fatalf("BeginRound failed: %v", err)
	}
}

func gameState(t *testing.T, adm *Admission) round.GameStatePayload {
	t.Helper()
	if len(adm.Events) == 0 || adm.Events[0].Type != round.EventTypeGameState {
		t.Fatalf("Expected game_state first, got %+v", adm.Events)
	}
	var p round.GameStatePayload
	if err := json.Unmarshal(adm.Events[0].Data, &p); err != nil {
		t.Fatalf("decode game_state: %v", err)
	}
	return p
}

func TestAdmitOperator(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	adm, err := f.reconciler.Admit(ctx, models.Identity{Email: "ops@example.com", IsAdmin: true})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !adm.Admitted || adm.Joined {
		t.Errorf("Expected operator admitted without joining, got %+v", adm)
	}
	if p := gameState(t, adm); p.Role != models.RoleAdmin {
		t.Errorf("Expected admin role, got %s", p.Role)
	}
	if counts, _ := f.store.Counts(ctx); counts.Total() != 0 {
		t.Errorf("Expected operator not counted, got %+v", counts)
	}

	// Operators are admitted even mid-tournament.
	f.beginRound(t, 1)
	adm, _ = f.reconciler.Admit(ctx, models.Identity{Email: "screen@example.com", IsDisplay: true})
	if !adm.Admitted {
		t.Error("Expected display admitted mid-tournament")
	}
}

func TestAdmitNewcomer(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	adm, err := f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !adm.Admitted || !adm.Joined || adm.Membership != models.MembershipSurvivor {
		t.Errorf("Expected newcomer joined as survivor, got %+v", adm)
	}
	if ok, _ := f.store.IsSurvivor(ctx, "a@example.com"); !ok {
		t.Error("Expected newcomer in survivor set")
	}
	counts, _ := f.store.Counts(ctx)
	if counts.Online != 1 {
		t.Errorf("Expected 1 online, got %+v", counts)
	}

	f.reconciler.AnnounceCounts(ctx)
	if f.broadcaster.count(round.EventTypePlayerCountUpdate) != 1 {
		t.Error("Expected a player_count_update broadcast")
	}

	again, _ := f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})
	if again.Joined || again.Membership != models.MembershipSurvivor {
		t.Errorf("Expected reconnect without rejoin, got %+v", again)
	}
}

func TestRejectNewcomerMidTournament(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})
	f.beginRound(t, 1)

	adm, err := f.reconciler.Admit(ctx, models.Identity{Email: "late@example.com"})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if adm.Admitted {
		t.Fatal("Expected newcomer rejected")
	}
	if adm.Reason != RejectMidTournament {
		t.Errorf("Expected rejection message, got %q", adm.Reason)
	}
	if len(adm.Events) != 1 || adm.Events[0].Type != round.EventTypeError {
		t.Errorf("Expected a single error event, got %+v", adm.Events)
	}
	if m, _ := f.store.Membership(ctx, "late@example.com"); m != models.MembershipUnseen {
		t.Errorf("Expected rejected player to stay unseen, got %s", m)
	}
}

func TestAdmitReturningPlayers(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c", "d"} {
		f.reconciler.Admit(ctx, models.Identity{Email: p + "@example.com"})
	}
	f.beginRound(t, 1)
	if _, err := f.store.RecordAnswer(ctx, 1, "a@example.com", models.OptionB); err != nil {
		t.Fatalf("RecordAnswer failed: %v", err)
	}
	if _, err := f.store.Eliminate(ctx, []string{"d@example.com"}); err != nil {
		t.Fatalf("Eliminate failed: %v", err)
	}

	adm, _ := f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})
	p := gameState(t, adm)
	if p.Membership != models.MembershipSurvivor || p.YourAnswer == nil || *p.YourAnswer != models.OptionB {
		t.Errorf("Expected survivor with answer B, got %+v", p)
	}
	if adm.Events[0].Room.Question == nil {
		t.Error("Expected snapshot to carry the current question")
	}

	adm, _ = f.reconciler.Admit(ctx, models.Identity{Email: "b@example.com"})
	if p := gameState(t, adm); p.YourAnswer != nil {
		t.Errorf("Expected no answer yet, got %v", *p.YourAnswer)
	}

	adm, _ = f.reconciler.Admit(ctx, models.Identity{Email: "d@example.com"})
	if !adm.Admitted || adm.Membership != models.MembershipEliminated {
		t.Fatalf("Expected eliminated player admitted, got %+v", adm)
	}
	if len(adm.Events) != 2 || adm.Events[1].Type != round.EventTypeEliminated {
		t.Errorf("Expected game_state then eliminated, got %+v", adm.Events)
	}
}

func TestAdmitFinalists(t *testing.T) {
	tests := []struct {
		name   string
		result models.GameResult
		email  string
		want   models.Membership
		event  round.EventType
	}{
		{
			name:   "winner",
			result: models.GameResult{WinnerEmail: strPtr("a@example.com"), FinalRound: 2},
			email:  "a@example.com",
			want:   models.MembershipWinner,
			event:  round.EventTypeWinner,
		},
		{
			name:   "tied finalist",
			result: models.GameResult{TierEmails: []string{"a@example.com", "b@example.com"}, FinalRound: 2},
			email:  "b@example.com",
			want:   models.MembershipTiedFinalist,
			event:  round.EventTypeTie,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcilerFixture(t)
			ctx := context.Background()
			f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})
			f.reconciler.Admit(ctx, models.Identity{Email: "b@example.com"})
			if err := f.store.Finish(ctx, tt.result); err != nil {
				t.Fatalf("Finish failed: %v", err)
			}

			adm, err := f.reconciler.Admit(ctx, models.Identity{Email: tt.email})
			if err != nil {
				t.Fatalf("Admit failed: %v", err)
			}
			if adm.Membership != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, adm.Membership)
			}
			if len(adm.Events) != 2 || adm.Events[1].Type != tt.event {
				t.Errorf("Expected game_state then %s, got %+v", tt.event, adm.Events)
			}
		})
	}
}

func TestDisconnectKeepsMembership(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.reconciler.Admit(ctx, models.Identity{Email: "a@example.com"})

	f.reconciler.Disconnect(ctx, models.Identity{Email: "a@example.com"})

	counts, _ := f.store.Counts(ctx)
	if counts.Online != 0 || counts.Survivors != 1 {
		t.Errorf("Expected offline survivor, got %+v", counts)
	}
	if f.broadcaster.count(round.EventTypePlayerCountUpdate) != 1 {
		t.Error("Expected counts rebroadcast on disconnect")
	}
}

func TestAdmitFailsOpen(t *testing.T) {
	f := newReconcilerFixture(t)
	f.mr.Close()

	adm, err := f.reconciler.Admit(context.Background(), models.Identity{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Expected degraded admission, got %v", err)
	}
	if !adm.Admitted || !adm.Degraded {
		t.Errorf("Expected degraded admission, got %+v", adm)
	}
	if p := gameState(t, adm); !p.Degraded {
		t.Error("Expected degraded flag in game_state")
	}
}

func strPtr(s string) *string { return &s }
