package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	id     string
	topics map[MessageType]bool // nil accepts every type
	send   chan Message
	logger *zap.Logger
}

func (c *Client) wants(t MessageType) bool {
	return c.topics == nil || c.topics[t]
}

// stateKey groups message types that describe the same piece of state.
// Only the newest message per key is kept for replay; motion matches are
// momentary and never replayed.
func stateKey(t MessageType) (string, bool) {
	switch t {
	case MessageSnapshot, MessagePresence, MessageRouterStatus:
		return string(t), true
	case MessageStreamOpened, MessageStreamClosed:
		return "camera.stream", true
	default:
		return "", false
	}
}

// replayOrder is the order in which retained state reaches a new client.
var replayOrder = []string{
	string(MessageRouterStatus),
	string(MessageSnapshot),
	string(MessagePresence),
	"camera.stream",
}

// Hub fans bus messages out to connected clients and retains the latest
// router and stream state so a client connecting mid-session starts from
// the current picture rather than waiting for the next change.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	latest  map[string]Message
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		latest:  make(map[string]Message),
		logger:  logger,
	}
}

// Register adds a client and queues the retained state it subscribed to.
// The replay is queued under the hub lock, so it always precedes any
// broadcast the client receives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	replayed := 0
	for _, key := range replayOrder {
		msg, ok := h.latest[key]
		if !ok || !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- msg:
			replayed++
		default:
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected",
		zap.String("client_id", c.id),
		zap.Int("clients", n),
		zap.Int("replayed", replayed),
	)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
}

// Broadcast sends a message to every client subscribed to its type. A
// client whose buffer is full misses the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if key, ok := stateKey(msg.Type); ok {
		h.latest[key] = msg
	}
	for c := range h.clients {
		if !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("client_id", c.id),
				zap.String("type", string(msg.Type)))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		}
	}
}

// readPump drains client frames until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
