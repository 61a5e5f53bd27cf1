package ratelimit

import (
	"testing"
	"time"

	"igmonitor/pkg/config"
)

func newTestController() *Controller {
	cfg := config.DefaultConfig()
	return NewController(&cfg.RateLimit)
}

func TestControllerMultiplierGrowth(t *testing.T) {
	c := newTestController()

	c.OnFailure()
	mult, _, fails := c.Snapshot()
	if mult != 1.5 {
		t.Errorf("Expected multiplier 1.5 after one failure, got %v", mult)
	}
	if fails != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", fails)
	}

	// Growth is capped at the failure ceiling
	for i := 0; i < 10; i++ {
		c.OnFailure()
	}
	mult, _, _ = c.Snapshot()
	if mult != 5 {
		t.Errorf("Expected multiplier capped at 5, got %v", mult)
	}
}

func TestControllerMultiplierDecayAndSnap(t *testing.T) {
	c := newTestController()
	c.OnFailure() // 1.5

	c.OnSuccess() // 1.35
	mult, _, fails := c.Snapshot()
	if mult != 1.35 {
		t.Errorf("Expected multiplier 1.35, got %v", mult)
	}
	if fails != 0 {
		t.Errorf("Expected failure streak reset, got %d", fails)
	}

	// Next decay lands below 1.1 and snaps to 1
	c.OnSuccess()
	mult, _, _ = c.Snapshot()
	if mult != 1 {
		t.Errorf("Expected multiplier snapped to 1, got %v", mult)
	}
}

func TestControllerRateLimited(t *testing.T) {
	c := newTestController()

	cooldown := c.OnRateLimited()
	if cooldown < 30*time.Second || cooldown > 45*time.Second {
		t.Errorf("Expected cooldown in [30s, 45s], got %v", cooldown)
	}
	mult, _, _ := c.Snapshot()
	if mult != 2 {
		t.Errorf("Expected multiplier doubled to 2, got %v", mult)
	}

	// Doubling is capped at the hard ceiling
	for i := 0; i < 5; i++ {
		c.OnRateLimited()
	}
	mult, _, _ = c.Snapshot()
	if mult != 10 {
		t.Errorf("Expected multiplier capped at 10, got %v", mult)
	}
}

func TestControllerDelayBounds(t *testing.T) {
	tests := []struct {
		name      string
		kind      CallKind
		batchSize int
		min       time.Duration
		max       time.Duration
	}{
		{"feed", KindFeed, 0, time.Second, 4 * time.Second},
		{"single item", KindItem, 1, 2500 * time.Millisecond, 5 * time.Second},
		{"small batch", KindBatch, 3, 3 * time.Second, 6 * time.Second},
		{"large batch", KindBatch, 8, 4 * time.Second, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			// First call: progressive multiplier is 1.1
			delay := c.DelayFor(tt.kind, tt.batchSize)
			lo := time.Duration(float64(tt.min) * 1.1)
			hi := time.Duration(float64(tt.max) * 1.1)
			if delay < lo || delay > hi {
				t.Errorf("Expected delay in [%v, %v], got %v", lo, hi, delay)
			}
		})
	}
}

func TestControllerProgressiveCap(t *testing.T) {
	c := newTestController()

	// Burn through enough calls to hit the 2x progressive cap
	for i := 0; i < 15; i++ {
		c.DelayFor(KindFeed, 0)
	}
	for i := 0; i < 50; i++ {
		delay := c.DelayFor(KindFeed, 0)
		if delay > 8*time.Second {
			t.Fatalf("Expected delay capped at 2x window max (8s), got %v", delay)
		}
	}
}

func TestControllerResetCycle(t *testing.T) {
	c := newTestController()

	c.DelayFor(KindFeed, 0)
	c.DelayFor(KindItem, 1)
	previous := c.ResetCycle()
	if previous != 2 {
		t.Errorf("Expected 2 calls in previous cycle, got %d", previous)
	}
	_, count, _ := c.Snapshot()
	if count != 0 {
		t.Errorf("Expected call count reset to 0, got %d", count)
	}
}
