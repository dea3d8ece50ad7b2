package callsession

import "fmt"

const (
	LabelStart      = "Start conversation"
	LabelConnecting = "Connecting..."
	LabelInProgress = "Call in progress..."
)

// View is what the page control renders.
type View struct {
	Status   Status `json:"status"`
	Label    string `json:"label"`
	Elapsed  string `json:"elapsed"`
	Error    string `json:"error,omitempty"`
	ShowEnd  bool   `json:"show_end"`
	Disabled bool   `json:"disabled"`
}

// FormatDuration renders seconds as mm:ss. Minutes are not wrapped into hours,
// so values past 5999 produce three or more minute digits.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func viewOf(s CallSession) View {
	v := View{
		Status:  s.Status,
		Label:   LabelStart,
		Elapsed: FormatDuration(s.ElapsedSeconds),
		Error:   s.LastError,
	}
	switch s.Status {
	case StatusRequesting:
		v.Label = LabelConnecting
		v.Disabled = true
	case StatusActive:
		v.Label = LabelInProgress
		v.ShowEnd = true
		v.Disabled = true
	}
	return v
}
