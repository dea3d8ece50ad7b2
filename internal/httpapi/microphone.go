package httpapi

import (
	"context"
	"errors"
	"fmt"

	"voiceai-agency/internal/callsession"
)

const (
	micGranted = "granted"
	micDenied  = "denied"
	micError   = "error"
)

var errMicUnavailable = errors.New("microphone unavailable")

// reportedMicrophone replays the permission outcome the browser already observed.
type reportedMicrophone struct {
	outcome string
}

func (m reportedMicrophone) RequestPermission(context.Context) error {
	switch m.outcome {
	case micGranted:
		return nil
	case micDenied:
		return fmt.Errorf("browser reported NotAllowedError: %w", callsession.ErrPermissionDenied)
	default:
		return errMicUnavailable
	}
}

func microphoneFor(outcome string) (callsession.Microphone, error) {
	switch outcome {
	case micGranted, micDenied, micError:
		return reportedMicrophone{outcome: outcome}, nil
	case "":
		return nil, errors.New("microphone required")
	default:
		return nil, fmt.Errorf("microphone must be one of granted, denied, error, got %q", outcome)
	}
}
