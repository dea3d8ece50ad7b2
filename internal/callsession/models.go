package callsession

import (
	"errors"
	"time"
)

// Status is the widget's position in the call lifecycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusActive     Status = "active"
	// StatusEnding is reserved; end transitions complete synchronously.
	StatusEnding Status = "ending"
	StatusFailed Status = "failed"
)

// CallSession is a point-in-time copy of the widget state.
//
// Invariants:
// - ElapsedSeconds is 0 unless Status is active.
// - LastError is empty while Status is active.
type CallSession struct {
	Status         Status     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	LastError      string     `json:"last_error,omitempty"`
}

// Messages shown to the visitor.
const (
	MessagePermissionDenied = "Please allow microphone access to use the voice assistant"
	MessageStartFailed      = "Failed to start call. Please try again."
)

var (
	// ErrPermissionDenied means the visitor refused microphone access.
	ErrPermissionDenied = errors.New("callsession: microphone permission denied")
	// ErrSessionStart covers every other reason a session could not be established.
	ErrSessionStart = errors.New("callsession: session start failed")
	// ErrConfiguration means the widget cannot be used at all.
	ErrConfiguration = errors.New("callsession: configuration error")
	ErrClosed        = errors.New("callsession: widget closed")
)
