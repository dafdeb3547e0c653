package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/recovery"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	FromRequest(r *http.Request) (models.Identity, error)
}

// StateEnsurer makes sure the fast store holds a usable room.
type StateEnsurer interface {
	EnsureState(ctx context.Context) (recovery.Outcome, error)
}

// AnswerSubmitter accepts answers sent over the socket.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, email string, option models.Option) (int64, error)
}

// clientMessage is what clients may send over the socket.
type clientMessage struct {
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

// WebSocketHandler admits room connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	reconciler        *Reconciler
	auth              Authenticator
	recovery          StateEnsurer
	answers           AnswerSubmitter
	opTimeout         time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, reconciler *Reconciler, auth Authenticator, recovery StateEnsurer, answers AnswerSubmitter) *WebSocketHandler {
	h := &WebSocketHandler{
		connectionManager: cm,
		reconciler:        reconciler,
		auth:              auth,
		recovery:          recovery,
		answers:           answers,
		opTimeout:         5 * time.Second,
	}
	cm.OnLastClose(h.handleLastClose)
	cm.OnMessage(h.handleClientMessage)
	return h
}

// HandleRoomConnection authenticates, recovers state if needed, admits or
// rejects the player and starts streaming events.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.FromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opTimeout)
	defer cancel()

	if h.recovery != nil {
		if outcome, err := h.recovery.EnsureState(ctx); err != nil {
			log.Error().Err(err).Str("player", id.Email).Msg("state recovery failed, continuing")
		} else if outcome != recovery.OutcomeLive {
			log.Info().Str("outcome", string(outcome)).Msg("room state recovered on connect")
		}
	}

	adm, err := h.reconciler.Admit(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("player", id.Email).Msg("failed to admit connection")
		http.Error(w, "failed to admit connection", http.StatusBadRequest)
		return
	}

	conn, err := h.connectionManager.Upgrade(w, r, id)
	if err != nil {
		log.Error().Err(err).Str("player", id.Email).Msg("failed to upgrade WebSocket connection")
		if adm.Admitted {
			h.reconciler.Disconnect(ctx, id)
		}
		return
	}

	if !adm.Admitted {
		h.connectionManager.Reject(conn, adm.Reason, adm.Events...)
		return
	}

	h.connectionManager.Activate(conn)
	h.connectionManager.SendTo(conn, adm.Events...)
	if !id.IsOperator() && !adm.Degraded {
		h.reconciler.AnnounceCounts(ctx)
	}
}

func (h *WebSocketHandler) handleLastClose(id models.Identity) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
		defer cancel()
		h.reconciler.Disconnect(ctx, id)
	}()
}

func (h *WebSocketHandler) handleClientMessage(conn *Connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "malformed message")
		return
	}
	switch msg.Type {
	case "answer":
		if h.answers == nil || conn.Identity.IsOperator() {
			h.sendError(conn, "answers are not accepted on this connection")
			return
		}
		opt, ok := models.ParseOption(msg.Answer)
		if !ok {
			h.sendError(conn, round.ErrInvalidAnswer.Error())
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
		defer cancel()
		if _, err := h.answers.SubmitAnswer(ctx, conn.Identity.Email, opt); err != nil {
			h.sendError(conn, clientMessageFor(err))
		}
	case "ping":
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("ignoring client message")
	}
}

func (h *WebSocketHandler) sendError(conn *Connection, message string) {
	ev, err := round.NewEvent(round.EventTypeError, models.RoomSnapshot{}, round.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	h.connectionManager.SendTo(conn, ev)
}

func clientMessageFor(err error) string {
	for _, sentinel := range []error{round.ErrNoActiveRound, round.ErrPlayerEliminated, round.ErrInvalidAnswer} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "answer could not be recorded"
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
}
