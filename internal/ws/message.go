package ws

import (
	"time"

	"github.com/HerbHall/homewatch/internal/camera"
	"github.com/HerbHall/homewatch/internal/router"
)

// MessageType discriminates WebSocket messages. Values equal the bus topic
// the message was built from.
type MessageType string

const (
	MessageSnapshot     MessageType = router.TopicSnapshot
	MessagePresence     MessageType = router.TopicPresence
	MessageRouterStatus MessageType = router.TopicStatus
	MessageStreamOpened MessageType = camera.TopicStreamOpened
	MessageStreamClosed MessageType = camera.TopicStreamClosed
	MessageMotion       MessageType = camera.TopicMotion
)

// forwarded lists the bus topics relayed to clients.
var forwarded = []MessageType{
	MessageSnapshot,
	MessagePresence,
	MessageRouterStatus,
	MessageStreamOpened,
	MessageStreamClosed,
	MessageMotion,
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}
