package models

import (
	"math/rand"
	"testing"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{EscrowStatusPending, EscrowStatusLocked, true},
		{EscrowStatusLocked, EscrowStatusReleased, true},
		{EscrowStatusLocked, EscrowStatusDisputed, true},
		{EscrowStatusLocked, EscrowStatusExpired, true},
		{EscrowStatusDisputed, EscrowStatusReleased, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},
		{EscrowStatusDisputed, EscrowStatusExpired, true},

		// Invalid transitions
		{EscrowStatusPending, EscrowStatusReleased, false},
		{EscrowStatusPending, EscrowStatusDisputed, false},
		{EscrowStatusPending, EscrowStatusRefunded, false},
		{EscrowStatusLocked, EscrowStatusPending, false},
		{EscrowStatusLocked, EscrowStatusRefunded, false},
		{EscrowStatusDisputed, EscrowStatusLocked, false},
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusReleased, EscrowStatusLocked, false},
		{EscrowStatusRefunded, EscrowStatusReleased, false},
		{EscrowStatusExpired, EscrowStatusLocked, false},
		{"nonexistent", EscrowStatusLocked, false},
		{EscrowStatusLocked, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		EscrowStatusPending, EscrowStatusLocked, EscrowStatusDisputed,
		EscrowStatusReleased, EscrowStatusExpired, EscrowStatusRefunded,
	}

	for _, status := range allStatuses {
		if _, ok := ValidEscrowTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidEscrowTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{EscrowStatusReleased, EscrowStatusExpired, EscrowStatusRefunded}
	for _, status := range terminal {
		if !IsTerminalStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
		if transitions := ValidEscrowTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
	for _, status := range []string{EscrowStatusPending, EscrowStatusLocked, EscrowStatusDisputed} {
		if IsTerminalStatus(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}

// Random walks through the transition map can never escape the defined
// state set or leave a terminal state.
func TestTransitionWalksStayInTable(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for walk := 0; walk < 1000; walk++ {
		status := EscrowStatusPending
		for step := 0; step < 10; step++ {
			next, ok := ValidEscrowTransitions[status]
			if !ok {
				t.Fatalf("walk %d reached unknown status %q", walk, status)
			}
			if len(next) == 0 {
				if !IsTerminalStatus(status) {
					t.Fatalf("status %q has no transitions but is not terminal", status)
				}
				break
			}
			to := next[rng.Intn(len(next))]
			if !IsValidTransition(status, to) {
				t.Fatalf("map lists %q -> %q but IsValidTransition rejects it", status, to)
			}
			status = to
		}
	}
}
