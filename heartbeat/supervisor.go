// Package heartbeat implements the Heartbeat Supervisor (C3): a
// periodic health tick over every registered component, with error
// and recovery counters surfaced both to the audit trail and to
// Prometheus.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// Status is one component's self-reported health.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// ComponentHealth is what a registered component reports on each tick.
type ComponentHealth struct {
	Status Status
	Detail string
}

// HealthChecker is implemented by anything the supervisor watches.
type HealthChecker interface {
	HealthCheck(ctx context.Context) ComponentHealth
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) ComponentHealth

func (f HealthCheckerFunc) HealthCheck(ctx context.Context) ComponentHealth { return f(ctx) }

// RecoveryEvent records one recovery action, retained in a bounded
// ring (default 100, per spec.md §4.3).
type RecoveryEvent struct {
	Timestamp time.Time
	Component string
	Kind      string
	Detail    string
}

// Snapshot is a point-in-time health report (spec.md §3 HealthSnapshot).
type Snapshot struct {
	Timestamp   time.Time
	Uptime      time.Duration
	Components  map[string]ComponentHealth
	ErrorCounts map[string]int
	Recoveries  []RecoveryEvent
}

// AuditFunc emits an audit event without importing the audit package
// directly.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// Supervisor owns the periodic tick and error/recovery bookkeeping.
type Supervisor struct {
	mu          sync.RWMutex
	components  map[string]HealthChecker
	errorCounts map[string]int
	recoveries  []RecoveryEvent
	maxRecovery int

	period  time.Duration
	startAt time.Time
	logger  core.Logger
	metrics *telemetry.Metrics
	auditor AuditFunc

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a Supervisor with the given tick period.
func New(period time.Duration, logger core.Logger, metrics *telemetry.Metrics, auditor AuditFunc) *Supervisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if period <= 0 {
		period = 60 * time.Second
	}
	return &Supervisor{
		components:  make(map[string]HealthChecker),
		errorCounts: make(map[string]int),
		maxRecovery: 100,
		period:      period,
		startAt:     time.Now(),
		logger:      logger,
		metrics:     metrics,
		auditor:     auditor,
	}
}

// Register adds (or replaces) a watched component.
func (s *Supervisor) Register(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = checker
}

// Unregister removes a watched component.
func (s *Supervisor) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.components, name)
}

// RecordError increments a component's error counter outside the
// regular tick — called directly by components when they notice a
// failure, per spec.md §4.3's `record_error`.
func (s *Supervisor) RecordError(ctx context.Context, component, detail string) {
	s.mu.Lock()
	s.errorCounts[component]++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ComponentErrors.WithLabelValues(component).Inc()
	}
	s.logger.WarnWithContext(ctx, "heartbeat: component error recorded", map[string]interface{}{
		"component": component, "detail": detail,
	})
}

// RecordRecovery appends a recovery event to the bounded ring and
// writes a dedicated recovery audit line, per spec.md §4.3.
func (s *Supervisor) RecordRecovery(ctx context.Context, component, kind, detail string) {
	event := RecoveryEvent{Timestamp: time.Now().UTC(), Component: component, Kind: kind, Detail: detail}

	s.mu.Lock()
	s.recoveries = append(s.recoveries, event)
	if len(s.recoveries) > s.maxRecovery {
		s.recoveries = s.recoveries[len(s.recoveries)-s.maxRecovery:]
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Recoveries.WithLabelValues(component, kind).Inc()
	}
	if s.auditor != nil {
		s.auditor(ctx, "recovery", detail, map[string]interface{}{"component": component, "kind": kind})
	}
}

// Run starts the periodic tick loop and blocks until ctx is canceled.
// A panic or error inside one tick is itself a recoverable event per
// spec.md §4.3: the loop re-enters after a short backoff rather than
// dying.
func (s *Supervisor) Run(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	defer close(s.doneCh)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickSafely(ctx)
		}
	}
}

func (s *Supervisor) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithContext(ctx, "heartbeat: tick panicked, re-entering after backoff", map[string]interface{}{"panic": r})
			time.Sleep(time.Second)
		}
	}()
	s.tick(ctx)
}

func (s *Supervisor) tick(ctx context.Context) {
	snap := s.Check(ctx)

	for name, h := range snap.Components {
		value := 0.0
		if h.Status == StatusHealthy {
			value = 1.0
		}
		if s.metrics != nil {
			s.metrics.ComponentHealth.WithLabelValues(name).Set(value)
		}
	}
	if s.metrics != nil {
		s.metrics.HeartbeatTicks.Inc()
	}
	if s.auditor != nil {
		s.auditor(ctx, "heartbeat_tick", "periodic health snapshot", map[string]interface{}{
			"components": len(snap.Components),
		})
	}
}

// Check produces a Snapshot on demand without waiting for the next
// tick. It never caches its result, per spec.md §3 ("never cached").
func (s *Supervisor) Check(ctx context.Context) Snapshot {
	s.mu.RLock()
	components := make(map[string]HealthChecker, len(s.components))
	for k, v := range s.components {
		components[k] = v
	}
	s.mu.RUnlock()

	health := make(map[string]ComponentHealth, len(components))
	for name, checker := range components {
		health[name] = checker.HealthCheck(ctx)
	}

	s.mu.RLock()
	errCounts := make(map[string]int, len(s.errorCounts))
	for k, v := range s.errorCounts {
		errCounts[k] = v
	}
	recoveries := append([]RecoveryEvent(nil), s.recoveries...)
	s.mu.RUnlock()

	return Snapshot{
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.startAt),
		Components:  health,
		ErrorCounts: errCounts,
		Recoveries:  recoveries,
	}
}

// Stop ends a running Run loop. Idempotent.
func (s *Supervisor) Stop() {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
		}
	})
}
