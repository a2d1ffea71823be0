package transport

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := NextBackoffDelay(cfg, tt.attempt, nil); got != tt.want {
			t.Errorf("NextBackoffDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestNextBackoffDelay_Jitter(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay %s outside [200ms, 600ms]", got)
		}
	}

	// without a source the midpoint factor applies
	if got := NextBackoffDelay(cfg, 3, nil); got != 200*time.Millisecond {
		t.Errorf("NextBackoffDelay() without rng = %s, want 200ms", got)
	}
}

func TestNextBackoffDelay_Degenerate(t *testing.T) {
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("zero config delay = %s, want 0", got)
	}
	cfg := BackoffConfig{InitialDelay: 50 * time.Millisecond, Multiplier: 0.5}
	if got := NextBackoffDelay(cfg, 4, nil); got != 50*time.Millisecond {
		t.Errorf("multiplier below 1 should not shrink delays, got %s", got)
	}
	unbounded := BackoffConfig{InitialDelay: time.Second, Multiplier: 3}
	if got := NextBackoffDelay(unbounded, 3, nil); got != 9*time.Second {
		t.Errorf("uncapped delay = %s, want 9s", got)
	}
}

func TestDefaultBackoff(t *testing.T) {
	cfg := DefaultBackoff()
	if cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay || cfg.Multiplier < 1 {
		t.Errorf("DefaultBackoff() = %+v", cfg)
	}
}
