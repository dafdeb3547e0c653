package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/minority/go/internal/identity"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/mcdev12/minority/go/internal/round/recovery"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies; questions are short.
const maxBodyBytes = 16 << 10

// Engine is the part of round.Engine the request layer drives.
type Engine interface {
	StartRound(ctx context.Context, in round.QuestionInput) (models.Question, error)
	SubmitAnswer(ctx context.Context, email string, option models.Option) (int64, error)
	EndRound(ctx context.Context) (*round.RoundOutcome, error)
	ResetGame(ctx context.Context) error
	RoomSnapshot(ctx context.Context) (models.RoomSnapshot, error)
}

// StateEnsurer recovers the fast store before a request touches it.
type StateEnsurer interface {
	EnsureState(ctx context.Context) (recovery.Outcome, error)
}

// Handler serves the JSON request layer.
type Handler struct {
	engine    Engine
	recovery  StateEnsurer
	verifier  *identity.Verifier
	opTimeout time.Duration
}

func NewHandler(engine Engine, recovery StateEnsurer, verifier *identity.Verifier) *Handler {
	return &Handler{
		engine:    engine,
		recovery:  recovery,
		verifier:  verifier,
		opTimeout: 5 * time.Second,
	}
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Round  int64         `json:"round"`
	Answer models.Option `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the API routes. Every route requires a token.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/admin/round", h.verifier.Middleware(h.operatorOnly(h.handleStartRound)))
	mux.Handle("POST /api/admin/end-round", h.verifier.Middleware(h.operatorOnly(h.handleEndRound)))
	mux.Handle("POST /api/admin/reset", h.verifier.Middleware(h.operatorOnly(h.handleReset)))
	mux.Handle("POST /api/answer", h.verifier.Middleware(http.HandlerFunc(h.handleAnswer)))
	mux.Handle("GET /api/state", h.verifier.Middleware(http.HandlerFunc(h.handleState)))
	log.Info().Msg("round API routes registered")
}

func (h *Handler) operatorOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !id.IsAdmin {
			writeError(w, http.StatusForbidden, "operator role required")
			return
		}
		next(w, r)
	})
}

func (h *Handler) handleStartRound(w http.ResponseWriter, r *http.Request) {
	var in round.QuestionInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := h.prepare(r)
	defer cancel()

	q, err := h.engine.StartRound(ctx, in)
	if err != nil {
		h.writeEngineError(w, "start round", err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	if id.IsOperator() {
		writeError(w, http.StatusForbidden, "operators cannot answer")
		return
	}

	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opt, ok := models.ParseOption(req.Answer)
	if !ok {
		writeError(w, http.StatusBadRequest, round.ErrInvalidAnswer.Error())
		return
	}

	ctx, cancel := h.prepare(r)
	defer cancel()

	roundID, err := h.engine.SubmitAnswer(ctx, id.Email, opt)
	if err != nil {
		h.writeEngineError(w, "submit answer", err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Round: roundID, Answer: opt})
}

func (h *Handler) handleEndRound(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.prepare(r)
	defer cancel()

	outcome, err := h.engine.EndRound(ctx)
	if err != nil {
		h.writeEngineError(w, "end round", err)
		return
	}
	if outcome == nil {
		writeError(w, http.StatusConflict, round.ErrNoActiveRound.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opTimeout)
	defer cancel()

	if err := h.engine.ResetGame(ctx); err != nil {
		h.writeEngineError(w, "reset game", err)
		return
	}
	id, _ := identity.FromContext(r.Context())
	log.Info().Str("operator", id.Email).Msg("game reset by operator")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.prepare(r)
	defer cancel()

	snap, err := h.engine.RoomSnapshot(ctx)
	if err != nil {
		h.writeEngineError(w, "read state", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// prepare bounds the request and makes sure the fast store holds a room.
// Reset does not go through it.
func (h *Handler) prepare(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opTimeout)
	if h.recovery != nil {
		if _, err := h.recovery.EnsureState(ctx); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("state recovery failed before request")
		}
	}
	return ctx, cancel
}

func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("op", op).Msg("request rejected")
	}
	writeError(w, status, messageFor(err, status))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, round.ErrNoActiveRound),
		errors.Is(err, round.ErrInvalidState),
		errors.Is(err, round.ErrGameEnded),
		errors.Is(err, round.ErrNoSurvivors):
		return http.StatusConflict
	case errors.Is(err, round.ErrPlayerEliminated):
		return http.StatusForbidden
	case errors.Is(err, round.ErrInvalidAnswer),
		errors.Is(err, round.ErrInvalidQuestion):
		return http.StatusBadRequest
	case errors.Is(err, round.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error, status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		return round.ErrStoreUnavailable.Error()
	case http.StatusInternalServerError:
		return "internal error"
	}
	for _, sentinel := range []error{
		round.ErrNoActiveRound, round.ErrInvalidState, round.ErrGameEnded, round.ErrNoSurvivors,
		round.ErrPlayerEliminated, round.ErrInvalidAnswer, round.ErrInvalidQuestion,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
