package callsession

import "testing"

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{5, "00:05"},
		{65, "01:05"},
		{125, "02:05"},
		{5999, "99:59"},
		{6000, "100:00"},
		{-3, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.seconds); got != tc.want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestViewOf_Requesting(t *testing.T) {
	v := viewOf(CallSession{Status: StatusRequesting})
	if v.Label != LabelConnecting || !v.Disabled || v.ShowEnd {
		t.Fatalf("unexpected requesting view: %+v", v)
	}
}
