package health

import (
	"context"
	"sync"
	"time"

	"igmonitor/pkg/config"
	"igmonitor/pkg/logger"
)

// Check probes one liveness condition. A non-nil error means unhealthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Supervisor periodically runs liveness checks and restarts the monitored
// service after a run of consecutive failures. One healthy pass resets the
// counter, so only a sustained wedge triggers a restart.
type Supervisor struct {
	cfg     *config.HealthConfig
	checks  []Check
	restart func(ctx context.Context) error
	log     logger.Logger

	mu        sync.Mutex
	failures  int
	restarts  int
	lastCheck time.Time
	lastError string
}

// NewSupervisor wires the checks to a restart hook. restart is invoked
// after the failure threshold is crossed, following the configured delay.
func NewSupervisor(cfg *config.HealthConfig, checks []Check, restart func(ctx context.Context) error, log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Supervisor{cfg: cfg, checks: checks, restart: restart, log: log}
}

// Run blocks until ctx is cancelled, probing on the configured interval.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Healthy reports whether the last pass found every check passing.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures == 0
}

// Status describes supervisor state for the operator surface.
func (s *Supervisor) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]interface{}{
		"healthy":              s.failures == 0,
		"consecutive_failures": s.failures,
		"restarts":             s.restarts,
	}
	if !s.lastCheck.IsZero() {
		status["last_check"] = s.lastCheck.UTC().Format(time.RFC3339)
	}
	if s.lastError != "" {
		status["last_error"] = s.lastError
	}
	return status
}

func (s *Supervisor) runOnce(ctx context.Context) {
	var failed string
	var probeErr error
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			failed = check.Name
			probeErr = err
			break
		}
	}

	s.mu.Lock()
	s.lastCheck = time.Now()
	if probeErr == nil {
		if s.failures > 0 {
			s.log.WithField("previous_failures", s.failures).Info("health recovered")
		}
		s.failures = 0
		s.lastError = ""
		s.mu.Unlock()
		return
	}

	s.failures++
	s.lastError = failed + ": " + probeErr.Error()
	failures := s.failures
	s.mu.Unlock()

	s.log.WarnWithFields("health check failed", map[string]interface{}{
		"check":                failed,
		"error":                probeErr.Error(),
		"consecutive_failures": failures,
	})

	if failures < s.cfg.FailureThreshold {
		return
	}

	s.log.WithField("delay", s.cfg.RestartDelay.String()).Error("failure threshold crossed, restarting service")
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.RestartDelay):
	}

	if err := s.restart(ctx); err != nil {
		s.log.WithError(err).Error("restart failed")
		return
	}

	s.mu.Lock()
	s.failures = 0
	s.lastError = ""
	s.restarts++
	s.mu.Unlock()
	s.log.Info("service restarted by supervisor")
}
