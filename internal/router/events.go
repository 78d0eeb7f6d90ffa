package router

import (
	"time"

	"github.com/HerbHall/homewatch/pkg/models"
)

// Event topics published by the router module.
const (
	TopicSnapshot = "router.snapshot"
	TopicPresence = "router.presence"
	TopicStatus   = "router.status"
)

// PresenceEvent is the payload for TopicPresence. Changed lists the
// nicknames whose state differs from the previous report.
type PresenceEvent struct {
	Report  models.PresenceReport `json:"report"`
	Changed []models.Presence     `json:"changed,omitempty"`
	Message string                `json:"message,omitempty"`
}

// StatusEvent is the payload for TopicStatus.
type StatusEvent struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	AuthFailed bool      `json:"auth_failed"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
