package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"igmonitor/pkg/config"
)

// CallKind identifies what kind of upstream request a delay is budgeted for.
// Larger requests draw from wider delay windows.
type CallKind string

const (
	// KindFeed is a profile feed listing call.
	KindFeed CallKind = "feed"
	// KindItem is a single item resolution call.
	KindItem CallKind = "item"
	// KindBatch is a multi-asset (carousel) resolution call.
	KindBatch CallKind = "batch"
)

// Controller converts every upstream call into an adaptively sized delay.
// It tracks a global error multiplier that grows on failures and decays on
// successes, and a per-cycle call counter that stretches delays as a cycle
// makes more calls. One Controller instance is shared by all upstream calls
// in the process, modeling a single outbound identity.
type Controller struct {
	mu sync.Mutex

	errorMultiplier  float64
	callCount        int
	consecutiveFails int

	growth       float64
	decay        float64
	ceiling      float64
	limitCeiling float64
	cooldownMin  time.Duration
	cooldownMax  time.Duration

	rng *rand.Rand
}

// NewController creates a rate controller from config.
func NewController(cfg *config.RateLimitConfig) *Controller {
	return &Controller{
		errorMultiplier: 1,
		growth:          cfg.ErrorGrowth,
		decay:           cfg.ErrorDecay,
		ceiling:         cfg.ErrorCeiling,
		limitCeiling:    cfg.RateLimitCeiling,
		cooldownMin:     cfg.CooldownMin,
		cooldownMax:     cfg.CooldownMax,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// window returns the base delay window for a call kind and batch size.
func window(kind CallKind, batchSize int) (min, max time.Duration) {
	switch kind {
	case KindBatch:
		switch {
		case batchSize > 5:
			return 4 * time.Second, 8 * time.Second
		case batchSize > 1:
			return 3 * time.Second, 6 * time.Second
		default:
			return 2500 * time.Millisecond, 5 * time.Second
		}
	case KindItem:
		return 2500 * time.Millisecond, 5 * time.Second
	default:
		return 1 * time.Second, 4 * time.Second
	}
}

// DelayFor returns the delay to apply before the next upstream call of the
// given kind. The caller must suspend for the returned duration before
// issuing its request.
func (c *Controller) DelayFor(kind CallKind, batchSize int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callCount++

	// Delays stretch as the cycle makes more calls, capped at 2x.
	progressive := 1 + float64(c.callCount)*0.1
	if progressive > 2 {
		progressive = 2
	}

	min, max := window(kind, batchSize)
	scale := progressive * c.errorMultiplier
	scaledMin := time.Duration(float64(min) * scale)
	scaledMax := time.Duration(float64(max) * scale)

	if scaledMax <= scaledMin {
		return scaledMin
	}
	return scaledMin + time.Duration(c.rng.Int63n(int64(scaledMax-scaledMin)))
}

// OnSuccess decays the error multiplier toward 1.
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails = 0
	c.errorMultiplier *= c.decay
	if c.errorMultiplier < 1.1 {
		c.errorMultiplier = 1
	}
}

// OnFailure grows the error multiplier, capped at the failure ceiling.
func (c *Controller) OnFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++
	c.errorMultiplier *= c.growth
	if c.errorMultiplier > c.ceiling {
		c.errorMultiplier = c.ceiling
	}
}

// OnRateLimited doubles the error multiplier up to the hard ceiling and
// returns a long cooldown to wait out the upstream block. Rate limit
// responses are a harder stop than ordinary failures.
func (c *Controller) OnRateLimited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++
	c.errorMultiplier *= 2
	if c.errorMultiplier > c.limitCeiling {
		c.errorMultiplier = c.limitCeiling
	}

	if c.cooldownMax <= c.cooldownMin {
		return c.cooldownMin
	}
	return c.cooldownMin + time.Duration(c.rng.Int63n(int64(c.cooldownMax-c.cooldownMin)))
}

// ResetCycle resets the per-cycle call counter. Called at the start of every
// poll cycle so the progressive multiplier does not carry across cycles.
func (c *Controller) ResetCycle() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.callCount
	c.callCount = 0
	return previous
}

// Snapshot reports the current rate state for stats and health surfaces.
func (c *Controller) Snapshot() (errorMultiplier float64, callCount, consecutiveFailures int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMultiplier, c.callCount, c.consecutiveFails
}
