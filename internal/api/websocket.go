package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homebrain/insteon-core/internal/events"
	"github.com/homebrain/insteon-core/internal/infrastructure/config"
	"github.com/homebrain/insteon-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeEvent = "event"
	WSTypeError = "error"

	// defaultSendBuffer is the per-client outbound message buffer size
	// used when the configuration does not set one.
	defaultSendBuffer = 256

	wsBufferSize = 1024
)

// errClientClosed reports a send to a client that has disconnected.
var errClientClosed = errors.New("api: websocket client closed")

// WSMessage is the envelope for every frame exchanged with a client.
// Outbound events carry the pipeline event as Payload; inbound frames
// are limited to application-level pings.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections. Each connected client is attached
// to the event pipeline as a subscriber, so it receives the full event
// stream starting with a ws_connected status snapshot.
type Hub struct {
	cfg      config.WebSocketConfig
	pipeline *events.Pipeline
	logger   *logging.Logger
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
}

// WSClient is one attached WebSocket connection. The closed channel
// gates Send so the pipeline stops delivering after Unregister.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin policy lives in the CORS middleware, not here.
		return true
	},
}

// NewHub creates a hub wired to the given event pipeline.
func NewHub(cfg config.WebSocketConfig, pipeline *events.Pipeline, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and attaches it to the event
// pipeline, which immediately queues a ws_connected snapshot for it.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.pipeline.Attach(client)
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and detaches it from the
// event pipeline. Only the goroutine that wins the map delete closes
// the channels, so concurrent Unregister calls during shutdown cannot
// double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		h.pipeline.Detach(client)
		close(client.closed)
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll detaches and disconnects every client; closing the send
// channels lets their writePump goroutines drain and exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.pipeline.Detach(client)
		close(client.closed)
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection and registers the client.
// Authentication uses the same bearer token as the REST API, accepted
// via the "token" query parameter for browser clients.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeUnauthorized(w, "invalid or missing bearer token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	buffer := s.wsCfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// Send delivers a pipeline event to the client. It implements
// events.Subscriber. A full send buffer drops the event rather than
// blocking the dispatch loop; a closed client returns an error so the
// pipeline detaches it.
func (c *WSClient) Send(ev events.Event) error {
	raw, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: ev.Type,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	c.trySend(raw)
	return nil
}

// trySend queues raw bytes for the client without ever blocking. A full
// buffer means a slow client and the frame is dropped; the recover
// absorbs the send-on-closed-channel panic when the client disconnects
// mid-broadcast.
func (c *WSClient) trySend(raw []byte) {
	defer func() {
		recover() //nolint:errcheck
	}()

	select {
	case c.send <- raw:
	default:
	}
}

// deadlines computes the ping cadence and the read/write grace period
// from the configured second counts.
func deadlines(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second,
		time.Duration(cfg.PongTimeout) * time.Second
}

// readPump consumes inbound frames until the connection drops, feeding
// application-level pings to handleMessage.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := deadlines(cfg)
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any inbound frame counts as liveness, not just protocol pongs;
		// browsers cannot answer protocol-level pings from script.
		//nolint:errcheck
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(frame)
	}
}

// writePump drains the send buffer onto the wire and keeps the
// connection alive with protocol pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := deadlines(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// Hub closed the channel during Unregister.
				//nolint:errcheck
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound frame. The stream is one-way
// apart from application-level pings.
func (c *WSClient) handleMessage(raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendControl(WSMessage{Type: WSTypeError, Payload: map[string]string{"message": "invalid JSON message"}})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendControl(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendControl(WSMessage{
			Type:    WSTypeError,
			ID:      msg.ID,
			Payload: map[string]string{"message": "unknown message type: " + msg.Type},
		})
	}
}

// sendControl queues a control frame, dropping it if the client has
// disconnected or its buffer is full.
func (c *WSClient) sendControl(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case <-c.closed:
		return
	default:
	}

	c.trySend(raw)
}
