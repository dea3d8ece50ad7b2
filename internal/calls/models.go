package calls

import "time"

// Call is the outcome of one voice session started from a site widget.
//
// Records are written once when the session leaves the live states and are never updated.
// A session that never reached the agent is still recorded (status failed, zero duration)
// so start failures show up in reporting.
type Call struct {
	CallID      string `json:"call_id" db:"call_id"`
	WidgetID    string `json:"widget_id" db:"widget_id"`
	AssistantID string `json:"assistant_id" db:"assistant_id"`

	Status CallStatus `json:"status" db:"status"`

	// DurationSeconds is the connected time shown to the visitor.
	DurationSeconds int `json:"duration" db:"duration"`

	// Error is the message the visitor saw, if any.
	Error string `json:"error,omitempty" db:"error"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

func (s CallStatus) Valid() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}
