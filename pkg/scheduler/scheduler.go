package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"igmonitor/pkg/cleanup"
	"igmonitor/pkg/config"
	"igmonitor/pkg/logger"
)

// State is the scheduler lifecycle. Exactly one timer exists while
// SCHEDULED; none while STOPPED or RUNNING.
type State int

const (
	StateStopped State = iota
	StateScheduled
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// CycleFunc runs one poll cycle and reports how many new items it found.
type CycleFunc func(ctx context.Context) (newItems int, err error)

// Scheduler drives poll cycles on an adaptive interval: an active target is
// polled more often, a quiet one less. A failed cycle gets one short retry;
// if the retry also fails, scheduling falls back to the normal interval
// rather than retrying again, so failures never tighten the loop.
type Scheduler struct {
	cfg   *config.PollerConfig
	queue *cleanup.Queue
	cycle CycleFunc
	log   logger.Logger

	mu         sync.Mutex
	state      State
	timer      *time.Timer
	firstCycle bool
	retrying   bool
	lastRun    time.Time
	nextRun    time.Time
	cycles     int

	ctx    context.Context
	cancel context.CancelFunc

	rng *rand.Rand
	now func() time.Time
}

// New creates a stopped scheduler. queue may be nil when no cleanup queue
// needs to be drained before cycles.
func New(cfg *config.PollerConfig, queue *cleanup.Queue, cycle CycleFunc, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		cfg:        cfg,
		queue:      queue,
		cycle:      cycle,
		log:        log,
		firstCycle: true,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// Start begins polling with an immediate first cycle. Calling Start while
// already scheduled or running is a no-op.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		s.log.Debug("scheduler already active, ignoring start")
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.firstCycle = true
	s.retrying = false
	s.scheduleLocked(0)
	s.log.Info("scheduler started")
	return true
}

// Stop cancels the pending timer only. A cycle already in flight runs to
// completion, keeping the cache commit ordering intact, but does not
// schedule a successor. The cycle context stays live; process shutdown
// cancels it through the parent.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateStopped
	s.log.Info("scheduler stopped")
	return true
}

// TriggerNow cancels the pending timer and runs a cycle immediately.
// Returns false when the scheduler is stopped or a cycle is running.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScheduled {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.scheduleLocked(0)
	return true
}

// TimerPending reports whether a future cycle is guaranteed: either a timer
// is armed or a cycle is running and will arm one. The health supervisor
// uses this to detect a wedged scheduler.
func (s *Scheduler) TimerPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateScheduled || s.state == StateRunning
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status describes the scheduler for the operator surface.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]interface{}{
		"state":  s.state.String(),
		"cycles": s.cycles,
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.UTC().Format(time.RFC3339)
	}
	if s.state == StateScheduled && !s.nextRun.IsZero() {
		status["next_run"] = s.nextRun.UTC().Format(time.RFC3339)
	}
	return status
}

// ComputeInterval maps cycle activity to the next delay. The first cycle
// after a start always gets the base interval: everything looks new on a
// cold cache, so its count says nothing about real activity.
func (s *Scheduler) ComputeInterval(newItems int, firstCycle bool) time.Duration {
	base := time.Duration(s.cfg.BaseIntervalMinutes) * time.Minute
	if !firstCycle {
		switch {
		case newItems >= s.cfg.HighThreshold:
			base = time.Duration(s.cfg.HighIntervalMinutes) * time.Minute
		case newItems == 0:
			base = time.Duration(s.cfg.LowIntervalMinutes) * time.Minute
		}
	}

	jitterRange := time.Duration(s.cfg.JitterMinutes) * time.Minute
	jitter := time.Duration(s.rng.Int63n(int64(2*jitterRange+1))) - jitterRange
	interval := base + jitter
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// scheduleLocked arms the single timer. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.state = StateScheduled
	s.nextRun = s.now().Add(delay)
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != StateScheduled {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.timer = nil
	ctx := s.ctx
	first := s.firstCycle
	s.mu.Unlock()

	if s.queue != nil && s.queue.Active() {
		s.log.Info("cleanup in progress, waiting before poll cycle")
		if err := s.queue.Wait(ctx); err != nil {
			s.log.WithError(err).Warn("wait for cleanup interrupted")
			return
		}
	}

	newItems, err := s.cycle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
	s.cycles++
	if s.state != StateRunning {
		// Stopped mid-cycle.
		return
	}

	if err != nil {
		if ctx.Err() != nil {
			s.state = StateStopped
			return
		}
		if !s.retrying {
			s.retrying = true
			s.log.WithError(err).WithField("retry_in", s.cfg.FailureRetry.String()).Warn("poll cycle failed, scheduling retry")
			s.scheduleLocked(s.cfg.FailureRetry)
			return
		}
		// Retry failed too. Back off to the normal cadence.
		s.retrying = false
		interval := s.ComputeInterval(0, first)
		s.log.WithError(err).WithField("next_in", interval.String()).Error("retry cycle failed, resuming normal schedule")
		s.scheduleLocked(interval)
		return
	}

	s.retrying = false
	s.firstCycle = false
	interval := s.ComputeInterval(newItems, first)
	s.log.InfoWithFields("poll cycle complete", map[string]interface{}{
		"new_items": newItems,
		"next_in":   interval.String(),
	})
	s.scheduleLocked(interval)
}
