package models

import "time"

// Frame is one complete JPEG image cut from an MJPEG byte stream,
// from the SOI marker through the EOI marker inclusive.
type Frame struct {
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Data       []byte    `json:"-"`
}

// StreamState describes the camera stream session currently owned by the gate.
type StreamState struct {
	SessionID   string    `json:"session_id,omitempty"`
	Alive       bool      `json:"alive"`
	Loading     bool      `json:"loading"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	Frames      uint64    `json:"frames"`
}

// MotionState is the gate's view of the motion probe.
type MotionState struct {
	Enabled      bool      `json:"enabled"`
	LastProbeAt  time.Time `json:"last_probe_at,omitempty"`
	LastMatch    bool      `json:"last_match"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Interacting  bool      `json:"interacting"`
}
