package api

import (
	"testing"
)

// Тесты жизненного цикла запроса. Машина состояний проверяется отдельно
// от сетевого I/O.

func TestRequest_HappyPath(t *testing.T) {
	r := NewRequest("GET", "/orders/")

	for _, to := range []State{StateQueued, StateInFlight, StateSettled} {
		if err := r.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if r.State() != StateSettled {
		t.Errorf("expected settled, got %s", r.State())
	}
}

func TestRequest_AuthRetryPath(t *testing.T) {
	r := NewRequest("GET", "/orders/", WithAuth())

	steps := []State{StateQueued, StateInFlight, StateRetryAuth, StateQueued, StateInFlight, StateSettled}
	for _, to := range steps {
		if err := r.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if !r.AuthRetried() {
		t.Error("auth retry must be marked as used")
	}
}

func TestRequest_SecondAuthRetryForbidden(t *testing.T) {
	r := NewRequest("GET", "/orders/", WithAuth())

	steps := []State{StateQueued, StateInFlight, StateRetryAuth, StateQueued, StateInFlight}
	for _, to := range steps {
		if err := r.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	if err := r.Transition(StateRetryAuth); err == nil {
		t.Fatal("second auth retry must be rejected")
	}
}

func TestRequest_SecondRateRetryForbidden(t *testing.T) {
	r := NewRequest("GET", "/orders/")

	steps := []State{StateQueued, StateInFlight, StateRetryRate, StateQueued, StateInFlight}
	for _, to := range steps {
		if err := r.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	if err := r.Transition(StateRetryRate); err == nil {
		t.Fatal("second rate retry must be rejected")
	}
}

func TestRequest_SettledIsTerminal(t *testing.T) {
	r := NewRequest("GET", "/orders/")

	for _, to := range []State{StateQueued, StateInFlight, StateSettled} {
		if err := r.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	for _, to := range []State{StateQueued, StateInFlight, StateRetryAuth, StateRetryRate, StateSettled} {
		if err := r.Transition(to); err == nil {
			t.Errorf("transition settled -> %s must be rejected", to)
		}
	}
}

func TestRequest_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from []State
		to   State
	}{
		{"created to in_flight", nil, StateInFlight},
		{"created to settled", nil, StateSettled},
		{"queued to retry_auth", []State{StateQueued}, StateRetryAuth},
		{"queued to settled", []State{StateQueued}, StateSettled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest("GET", "/x/")
			for _, s := range tt.from {
				if err := r.Transition(s); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}
			if err := r.Transition(tt.to); err == nil {
				t.Errorf("transition %s -> %s must be rejected", r.State(), tt.to)
			}
		})
	}
}
