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
	"github.com/rs/zerolog/log"

	"github.com/banool/pictionaryd/internal/events"
	"github.com/banool/pictionaryd/internal/game"
)

// CommandHandler is invoked for every inbound client frame. Implementations
// reply over conn's send channel; returning never closes the socket.
type CommandHandler func(conn *Connection, message []byte)

// ConnectionManager owns the WebSocket connections of all browser tabs
// watching a game, keyed by the game creator address.
type ConnectionManager struct {
	gameConnections map[game.Address]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader

	config ConnectionConfig

	onCommand CommandHandler

	broadcastCh chan BroadcastMessage
}

// Connection represents one browser tab. Player is the local session
// address, empty for spectator tabs.
type Connection struct {
	ID      string
	Player  game.Address
	Game    game.Address
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage routes one envelope to every connection of a game.
type BroadcastMessage struct {
	Game     game.Address
	Envelope events.Envelope
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024, // draw commands carry point batches
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The daemon binds to localhost; the browser front end is the
			// only expected origin.
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
// onCommand handles inbound client frames; nil means frames are dropped.
func NewConnectionManager(config ConnectionConfig, onCommand CommandHandler) *ConnectionManager {
	cm := &ConnectionManager{
		gameConnections: make(map[game.Address]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		onCommand:   onCommand,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}

	return cm
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// pumps. The returned connection is already registered and writable.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, player game.Address, gameAddr game.Address) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Player:      player,
		Game:        gameAddr,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player", string(player)).
		Str("game", string(gameAddr)).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.gameConnections[conn.Game] == nil {
		cm.gameConnections[conn.Game] = make(map[*Connection]bool)
	}
	cm.gameConnections[conn.Game][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("game", string(conn.Game)).
		Int("total_connections", len(cm.gameConnections[conn.Game])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.gameConnections[conn.Game]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(cm.gameConnections, conn.Game)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("player", string(conn.Player)).
				Str("game", string(conn.Game)).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToGame sends an envelope to all connections watching a game.
func (cm *ConnectionManager) BroadcastToGame(gameAddr game.Address, env events.Envelope) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Game: gameAddr, Envelope: env}:
	default:
		log.Warn().Str("game", string(gameAddr)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers an envelope to a single connection, for connect-time
// snapshots and per-command error frames. A full buffer drops the
// connection the same way a slow broadcast consumer is dropped.
func (cm *ConnectionManager) SendTo(conn *Connection, env events.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for send")
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.gameConnections[message.Game]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot under the read lock; writes happen outside it.
	targetConnections := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for broadcast")
		return
	}

	for _, conn := range targetConnections {
		select {
		case conn.Send <- eventData:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player", string(conn.Player)).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Envelope.Type)).
		Str("game", string(message.Game)).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// Stats returns counts of active connections per game.
func (cm *ConnectionManager) Stats() (total int, games map[string]int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	games = make(map[string]int, len(cm.gameConnections))
	for gameAddr, connections := range cm.gameConnections {
		games[string(gameAddr)] = len(connections)
		total += len(connections)
	}
	return total, games
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
			c.LastPing = time.Now()
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
		c.LastPing = time.Now()
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

		if c.Manager.onCommand != nil {
			c.Manager.onCommand(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
