package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/minority/go/internal/identity"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/store"
	"github.com/redis/go-redis/v9"
)

type wsFixture struct {
	server   *httptest.Server
	store    *store.RedisStore
	engine   *round.Engine
	verifier *identity.Verifier
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewRedisStore(client, "main")
	if err := s.InitClean(context.Background()); err != nil {
		t.Fatalf("InitClean failed: %v", err)
	}
	verifier, err := identity.NewVerifier("test-secret", nil)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	svc := NewService(DefaultConnectionConfig(), Deps{
		Store:     s,
		Snapshots: round.NewSnapshotReader(s),
		Auth:      verifier,
	})
	engine := round.NewEngine(s, round.DefaultConfig(),
		round.WithClock(clockwork.NewFakeClock()),
		round.WithBroadcaster(svc.Broadcaster()),
	)
	t.Cleanup(engine.Close)
	svc.AcceptAnswers(engine)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &wsFixture{server: srv, store: s, engine: engine, verifier: verifier}
}

func (f *wsFixture) dial(t *testing.T, id models.Identity) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/room"
	if id.Email != "" {
		tok, err := f.verifier.Issue(id, time.Hour)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		url += "?token=" + tok
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readUntil reads events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want round.EventType) *round.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var ev round.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type == want {
			return &ev
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := f.dial(t, models.Identity{})
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocketAdmitsAndStreams(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	conn, _, err := f.dial(t, models.Identity{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	ev := readUntil(t, conn, round.EventTypeGameState)
	var p round.GameStatePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode game_state: %v", err)
	}
	if p.Membership != models.MembershipSurvivor || p.Role != models.RolePlayer {
		t.Errorf("Expected player survivor, got %+v", p)
	}
	counts := readUntil(t, conn, round.EventTypePlayerCountUpdate)
	if counts.Room.Counts.Online != 1 {
		t.Errorf("Expected 1 online, got %+v", counts.Room.Counts)
	}

	// No round yet: the answer is refused over the socket.
	if err := conn.WriteJSON(clientMessage{Type: "answer", Answer: "a"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	errEv := readUntil(t, conn, round.EventTypeError)
	var ep round.ErrorPayload
	json.Unmarshal(errEv.Data, &ep)
	if ep.Message != round.ErrNoActiveRound.Error() {
		t.Errorf("Expected %q, got %q", round.ErrNoActiveRound.Error(), ep.Message)
	}

	if _, err := f.engine.StartRound(ctx, round.QuestionInput{Text: "Up or down?", OptionA: "Up", OptionB: "Down"}); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}
	q := readUntil(t, conn, round.EventTypeNewQuestion)
	if q.Room.Question == nil || q.Room.Question.Text != "Up or down?" {
		t.Errorf("Expected question in snapshot, got %+v", q.Room.Question)
	}

	if err := conn.WriteJSON(clientMessage{Type: "answer", Answer: "b"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	waitUntil(t, "answer recorded", func() bool {
		opt, ok, err := f.store.Answer(ctx, 1, "a@example.com")
		return err == nil && ok && opt == models.OptionB
	})

	conn.Close()
	waitUntil(t, "online marker cleared", func() bool {
		c, err := f.store.Counts(ctx)
		return err == nil && c.Online == 0 && c.Survivors == 1
	})
}

func TestWebSocketRejectsLateJoiner(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()
	if _, err := f.store.JoinIfOpen(ctx, "a@example.com"); err != nil {
		t.Fatalf("JoinIfOpen failed: %v", err)
	}
	if _, err := f.engine.StartRound(ctx, round.QuestionInput{Text: "q", OptionA: "x", OptionB: "y"}); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	conn, _, err := f.dial(t, models.Identity{Email: "late@example.com"})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	ev := readUntil(t, conn, round.EventTypeError)
	var p round.ErrorPayload
	json.Unmarshal(ev.Data, &p)
	if p.Message != RejectMidTournament {
		t.Errorf("Expected rejection message, got %q", p.Message)
	}

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("Expected close error, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != RejectMidTournament {
		t.Errorf("Expected policy violation with reason, got %d %q", closeErr.Code, closeErr.Text)
	}
	if m, _ := f.store.Membership(ctx, "late@example.com"); m != models.MembershipUnseen {
		t.Errorf("Expected late joiner to stay unseen, got %s", m)
	}
}

func TestWebSocketOperatorDoesNotJoin(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(t, models.Identity{Email: "ops@example.com", IsAdmin: true})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	ev := readUntil(t, conn, round.EventTypeGameState)
	var p round.GameStatePayload
	json.Unmarshal(ev.Data, &p)
	if p.Role != models.RoleAdmin {
		t.Errorf("Expected admin role, got %s", p.Role)
	}
	if c, _ := f.store.Counts(context.Background()); c.Total() != 0 || c.Online != 0 {
		t.Errorf("Expected operator not counted, got %+v", c)
	}
}
