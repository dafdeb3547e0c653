package gateway

import (
	"context"
	"net/http"

	"github.com/mcdev12/minority/go/internal/round"
	"github.com/rs/zerolog/log"
)

// Service is the room gateway: WebSocket admission plus event fan-out.
type Service struct {
	connectionManager *ConnectionManager
	reconciler        *Reconciler
	wsHandler         *WebSocketHandler
}

// Deps are the collaborators the gateway needs from the rest of the server.
type Deps struct {
	Store     MembershipStore
	Snapshots SnapshotSource
	Auth      Authenticator
	Recovery  StateEnsurer
	Answers   AnswerSubmitter
	// Extra receives every broadcast in addition to connected clients.
	Extra round.Broadcaster
}

// NewService creates the room gateway
func NewService(config ConnectionConfig, deps Deps) *Service {
	cm := NewConnectionManager(config)

	var broadcaster round.Broadcaster = cm
	if deps.Extra != nil {
		broadcaster = round.MultiBroadcaster{cm, deps.Extra}
	}
	reconciler := NewReconciler(deps.Store, deps.Snapshots, broadcaster)

	return &Service{
		connectionManager: cm,
		reconciler:        reconciler,
		wsHandler:         NewWebSocketHandler(cm, reconciler, deps.Auth, deps.Recovery, deps.Answers),
	}
}

// AcceptAnswers routes answers sent over the socket to a. Call it before
// serving connections.
func (s *Service) AcceptAnswers(a AnswerSubmitter) {
	s.wsHandler.answers = a
}

// Broadcaster returns the broadcaster the engine should publish through.
func (s *Service) Broadcaster() round.Broadcaster {
	return s.connectionManager
}

// Start runs the broadcast loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting room gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("room gateway stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// ConnectionCount returns the number of open sockets.
func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount()
}
