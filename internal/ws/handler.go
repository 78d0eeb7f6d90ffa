package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/HerbHall/homewatch/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sendBuffer is the per-client queue length. Snapshots arrive at most
// once per poll interval, so this absorbs minutes of a stalled client.
const sendBuffer = 256

// Handler serves the live event feed over WebSocket.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
	unsubs []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes it to the router
// and camera topics on bus. bus may be nil.
func NewHandler(bus plugin.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:    NewHub(logger),
		logger: logger,
	}
	h.subscribeToEvents(bus)
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEvents)
}

// Close unsubscribes from the bus. Connected clients stay open until they
// leave or the server shuts down.
func (h *Handler) Close() {
	for _, u := range h.unsubs {
		u()
	}
	h.unsubs = nil
}

// handleEvents upgrades the connection and streams bus events. The
// optional topics query parameter is a comma-separated list of message
// types to receive.
//
//	@Summary		Event feed
//	@Description	WebSocket stream of router and camera events as {type, source, timestamp, data}.
//	@Tags			events
//	@Param			topics	query	string	false	"Comma-separated message types"
//	@Success		101
//	@Router			/ws/events [get]
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	topics := parseTopics(r.URL.Query().Get("topics"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The desktop UI connects from a file:// or localhost origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		id:     uuid.NewString(),
		topics: topics,
		send:   make(chan Message, sendBuffer),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func parseTopics(raw string) map[MessageType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[MessageType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[MessageType(t)] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// subscribeToEvents forwards the router and camera topics to all connected
// clients. Payloads are sent as published; their JSON tags define the wire
// format.
func (h *Handler) subscribeToEvents(bus plugin.EventBus) {
	if bus == nil {
		return
	}
	for _, t := range forwarded {
		h.unsubs = append(h.unsubs, bus.Subscribe(string(t), func(_ context.Context, e plugin.Event) {
			h.hub.Broadcast(Message{
				Type:      MessageType(e.Topic),
				Source:    e.Source,
				Timestamp: e.Timestamp,
				Data:      e.Payload,
			})
		}))
	}
	h.logger.Info("subscribed to router and camera events for WebSocket broadcasting",
		zap.Int("topics", len(forwarded)))
}
