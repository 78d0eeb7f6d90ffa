package fritzbox

import (
	"fmt"
	"time"
)

// ErrorKind classifies authentication failures.
type ErrorKind int

const (
	// ChallengeUnavailable means the challenge endpoint could not be reached
	// or answered with a non-success status.
	ChallengeUnavailable ErrorKind = iota + 1
	// LoginRejected means the router refused the response or the login
	// request itself failed.
	LoginRejected
	// MalformedResponse means a required element was missing from a reply.
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ChallengeUnavailable:
		return "challenge unavailable"
	case LoginRejected:
		return "login rejected"
	case MalformedResponse:
		return "malformed response"
	default:
		return "unknown"
	}
}

// AuthError is returned by Authenticate for every failed login attempt.
type AuthError struct {
	Kind ErrorKind
	Op   string // "challenge" or "login"
	Err  error
	// BlockTime is how long the router refuses further logins, when reported.
	BlockTime time.Duration
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("fritzbox: %s: %s", e.Op, e.Kind)
	if e.BlockTime > 0 {
		msg += fmt.Sprintf(" (blocked for %s)", e.BlockTime)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// PollError is returned when the device list cannot be fetched or decoded.
type PollError struct {
	Status int
	Err    error
}

func (e *PollError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fritzbox: device list: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fritzbox: device list: %v", e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }
