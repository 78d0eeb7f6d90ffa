package camera

import "time"

// Event topics published by the camera module.
const (
	TopicStreamOpened = "camera.stream.opened"
	TopicStreamClosed = "camera.stream.closed"
	TopicMotion       = "camera.motion"
)

// Reasons a stream was opened.
const (
	ReasonMotion  = "motion"
	ReasonManual  = "manual"
	ReasonStartup = "startup"
)

// StreamEvent is the payload for TopicStreamOpened and TopicStreamClosed.
// Reason is set on open only; Error is set when a session failed.
type StreamEvent struct {
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// MotionEvent is the payload for TopicMotion.
type MotionEvent struct {
	StreamAlive bool      `json:"stream_alive"`
	At          time.Time `json:"at"`
}
