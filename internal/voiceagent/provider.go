package voiceagent

import (
	"context"
	"errors"
	"strings"
)

// Client is the handle to a hosted conversational voice agent.
//
// Rules:
// - Start only initiates a session; success is signaled later via EventCallStart.
// - Stop is fire-and-forget and must be safe to call in any state.
// - On keeps exactly one handler per event kind; a later registration replaces the earlier one.
type Client interface {
	Start(ctx context.Context, assistantID string) error
	Stop()
	On(kind EventKind, h Handler)
}

// Factory creates a Client for a public API key.
type Factory func(publicKey string) (Client, error)

type EventKind string

const (
	EventCallStart EventKind = "call-start"
	EventCallEnd   EventKind = "call-end"
	EventError     EventKind = "error"
)

// Event is an asynchronous signal from the hosted agent.
type Event struct {
	Kind EventKind `json:"type"`

	// Message is set for EventError.
	Message string `json:"message,omitempty"`
}

type Handler func(Event)

var (
	ErrInvalidKey       = errors.New("voiceagent: invalid public key")
	ErrInvalidAssistant = errors.New("voiceagent: assistant id required")
	ErrAlreadyRunning   = errors.New("voiceagent: session already running")
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCallStart, EventCallEnd, EventError:
		return true
	default:
		return false
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, " \t\r\n") {
		return ErrInvalidKey
	}
	return nil
}
