package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	all := []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed}
	allowed := map[[2]TaskStatus]bool{
		{TaskStatusPending, TaskStatusProcessing}:   true,
		{TaskStatusProcessing, TaskStatusCompleted}: true,
		{TaskStatusProcessing, TaskStatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]TaskStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	if TaskStatusPending.IsTerminal() || TaskStatusProcessing.IsTerminal() {
		t.Fatal("pending and processing are not terminal")
	}
	if !TaskStatusCompleted.IsTerminal() || !TaskStatusFailed.IsTerminal() {
		t.Fatal("completed and failed are terminal")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		err  bool
	}{
		{"", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{" LOW ", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidPriority) {
				t.Errorf("ParsePriority(%q): want ErrInvalidPriority, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePriority(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestPriority_Rank(t *testing.T) {
	if !(PriorityHigh.Rank() < PriorityNormal.Rank() && PriorityNormal.Rank() < PriorityLow.Rank()) {
		t.Fatal("want high < normal < low")
	}
}
