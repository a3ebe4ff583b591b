package types

import "testing"

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{SessionRunning, SessionCompleted, true},
		{SessionRunning, SessionFailed, true},
		{SessionRunning, SessionRunning, false},
		{SessionCompleted, SessionFailed, false},
		{SessionFailed, SessionCompleted, false},
		{SessionStatus("cancelled"), SessionFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: want=%v got=%v", tc.from, tc.to, tc.want, got)
		}
	}
	if SessionRunning.Terminal() {
		t.Fatalf("running terminal: want=false got=true")
	}
	if !SessionFailed.Terminal() {
		t.Fatalf("failed terminal: want=true got=false")
	}
}
