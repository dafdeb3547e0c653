package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/minority/go/internal/models"
	"github.com/mcdev12/minority/go/internal/round"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages the WebSocket connections of the room
type ConnectionManager struct {
	connections map[*Connection]bool
	// open connections per player email
	perPlayer map[string]int
	mu        sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage

	onLastClose func(models.Identity)
	onMessage   func(*Connection, []byte)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	Identity models.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a queued event. A nil Target means every connection.
type BroadcastMessage struct {
	Event  *round.Event
	Target *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 1000
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		perPlayer:   make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
	}
}

// OnLastClose registers fn to run when a player's last connection closes.
func (cm *ConnectionManager) OnLastClose(fn func(models.Identity)) {
	cm.onLastClose = fn
}

// OnMessage registers fn to handle messages sent by clients.
func (cm *ConnectionManager) OnMessage(fn func(*Connection, []byte)) {
	cm.onMessage = fn
}

// Start processes queued events until ctx is done. All deliveries go through
// this loop so each client sees events in the order they were queued.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades the HTTP request to a WebSocket without registering it.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, id models.Identity) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return &Connection{
		ID:          uuid.New().String(),
		Identity:    id,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}, nil
}

// Activate registers the connection and starts its pumps.
func (cm *ConnectionManager) Activate(conn *Connection) {
	cm.registerConnection(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player", conn.Identity.Email).
		Str("role", string(conn.Identity.Role())).
		Msg("WebSocket connection established")
}

// Reject sends events straight to an unregistered connection, then closes it
// with reason as the close message.
func (cm *ConnectionManager) Reject(conn *Connection, reason string, events ...*round.Event) {
	defer conn.Conn.Close()

	deadline := time.Now().Add(cm.config.WriteTimeout)
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		conn.Conn.SetWriteDeadline(deadline)
		if err := conn.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to write rejection event")
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.Conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to write close message")
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true
	cm.perPlayer[conn.Identity.Email]++

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[conn]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn)
	// Senders hold cm.mu, so no send can race this close.
	close(conn.Send)

	email := conn.Identity.Email
	cm.perPlayer[email]--
	last := cm.perPlayer[email] <= 0
	if last {
		delete(cm.perPlayer, email)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player", email).
		Msg("connection unregistered")

	if last && cm.onLastClose != nil {
		cm.onLastClose(conn.Identity)
	}
}

// Broadcast queues an event for every connection. It never blocks.
func (cm *ConnectionManager) Broadcast(event *round.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event}:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo queues events for one connection, behind anything already queued.
func (cm *ConnectionManager) SendTo(conn *Connection, events ...*round.Event) {
	for _, event := range events {
		select {
		case cm.broadcastCh <- BroadcastMessage{Event: event, Target: conn}:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("event_type", string(event.Type)).
				Msg("broadcast channel full, dropping connection message")
		}
	}
}

// handleBroadcast delivers one queued event. Sends happen under the read lock
// so unregisterConnection cannot close a Send channel mid-delivery.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var delivered int
	var slow []*Connection
	cm.mu.RLock()
	if message.Target != nil {
		if cm.connections[message.Target] {
			delivered++
			if !message.Target.trySend(eventData) {
				slow = append(slow, message.Target)
			}
		}
	} else {
		for conn := range cm.connections {
			delivered++
			if !conn.trySend(eventData) {
				slow = append(slow, conn)
			}
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("player", conn.Identity.Email).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}

	if delivered > 0 {
		log.Debug().
			Str("event_type", string(message.Event.Type)).
			Int("connections", delivered).
			Msg("event broadcasted")
	}
}

// trySend queues data without blocking. Callers must hold cm.mu.
func (c *Connection) trySend(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// ConnectionCount returns the number of open connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if h := c.Manager.onMessage; h != nil {
			h(c, message)
		} else {
			log.Debug().
				Str("connection_id", c.ID).
				Str("player", c.Identity.Email).
				Msg("received client message")
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
