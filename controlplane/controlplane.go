// Package controlplane implements the Control Plane (C9): ordered
// startup/shutdown of every other component, idempotent emergency
// stop, and an on-demand metrics snapshot with a bounded history ring.
package controlplane

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/heartbeat"
	"github.com/usephedm/aurora-pro-ai/reasoning"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// Subsystem is the uniform lifecycle every component exposes to the
// Control Plane. Start/Stop must be idempotent and safe to call from
// a goroutine pool (emergency_stop fans out concurrently).
type Subsystem struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Snapshot is the Control Plane's on-demand system+component health
// view (spec.md §4.9).
type Snapshot struct {
	Timestamp      time.Time                          `json:"timestamp"`
	GoroutineCount int                                `json:"goroutine_count"`
	MemAllocBytes  uint64                             `json:"mem_alloc_bytes"`
	Components     map[string]heartbeat.ComponentHealth `json:"components"`
}

// ControlPlane owns startup/shutdown ordering and emergency stop.
type ControlPlane struct {
	mu          sync.Mutex
	subsystems  []Subsystem
	started     bool
	stopped     bool
	logger      core.Logger
	metrics     *telemetry.Metrics
	reasoner    *reasoning.Stream
	supervisor  *heartbeat.Supervisor
	slackClient *slack.Client
	slackChan   string

	historyMu   sync.Mutex
	history     []Snapshot
	historySize int
}

// New constructs a Control Plane. slackToken/slackChannel are optional;
// when empty, emergency-stop notifications are skipped (spec.md §4.9
// only requires broadcasting to reasoning subscribers, Slack is an
// enrichment this module adds — see DESIGN.md).
func New(logger core.Logger, metrics *telemetry.Metrics, reasoner *reasoning.Stream, supervisor *heartbeat.Supervisor, slackToken, slackChannel string) *ControlPlane {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	cp := &ControlPlane{
		logger:      logger,
		metrics:     metrics,
		reasoner:    reasoner,
		supervisor:  supervisor,
		slackChan:   slackChannel,
		historySize: 300, // 5 minutes at 1s granularity
	}
	if slackToken != "" {
		cp.slackClient = slack.New(slackToken)
	}
	return cp
}

// Register appends a subsystem to the startup order. Subsystems start
// in registration order and stop in reverse (spec.md §4.9: "Policy →
// Audit → Cache → Heartbeat → LLM Router → Executor subsystems → Input
// Queue → Plugin Host → Reasoning Stream → Planner → Broker").
func (cp *ControlPlane) Register(s Subsystem) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.subsystems = append(cp.subsystems, s)
}

// Start runs every registered subsystem's Start in order, aborting and
// unwinding on the first failure.
func (cp *ControlPlane) Start(ctx context.Context) error {
	cp.mu.Lock()
	if cp.started {
		cp.mu.Unlock()
		return &core.FrameworkError{Op: "controlplane.Start", Kind: "controlplane", Err: core.ErrAlreadyStarted}
	}
	subsystems := append([]Subsystem(nil), cp.subsystems...)
	cp.mu.Unlock()

	started := make([]Subsystem, 0, len(subsystems))
	for _, s := range subsystems {
		if s.Start == nil {
			continue
		}
		if err := s.Start(ctx); err != nil {
			cp.logger.Error("controlplane: startup failed, unwinding", map[string]interface{}{"subsystem": s.Name, "error": err.Error()})
			for i := len(started) - 1; i >= 0; i-- {
				if started[i].Stop != nil {
					_ = started[i].Stop(ctx)
				}
			}
			return fmt.Errorf("controlplane: %s failed to start: %w", s.Name, err)
		}
		started = append(started, s)
	}

	cp.mu.Lock()
	cp.started = true
	cp.mu.Unlock()
	return nil
}

// Shutdown stops every subsystem in reverse registration order.
func (cp *ControlPlane) Shutdown(ctx context.Context) {
	cp.mu.Lock()
	subsystems := append([]Subsystem(nil), cp.subsystems...)
	cp.mu.Unlock()

	for i := len(subsystems) - 1; i >= 0; i-- {
		if subsystems[i].Stop == nil {
			continue
		}
		if err := subsystems[i].Stop(ctx); err != nil {
			cp.logger.Warn("controlplane: shutdown error", map[string]interface{}{"subsystem": subsystems[i].Name, "error": err.Error()})
		}
	}
}

// IsStopped reports whether emergency_stop has fired and not yet been
// cleared by Restart.
func (cp *ControlPlane) IsStopped() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.stopped
}

// EmergencyStop is idempotent: the first call broadcasts to every
// reasoning subscriber and concurrently stops every subsystem,
// awaiting all; subsequent calls are a no-op (spec.md §4.9).
func (cp *ControlPlane) EmergencyStop(ctx context.Context, reason string) error {
	cp.mu.Lock()
	if cp.stopped {
		cp.mu.Unlock()
		return nil
	}
	cp.stopped = true
	subsystems := append([]Subsystem(nil), cp.subsystems...)
	cp.mu.Unlock()

	if cp.reasoner != nil {
		cp.reasoner.Broadcast("controlplane", "emergency_stop: "+reason)
	}
	if cp.metrics != nil {
		cp.metrics.EmergencyStops.Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subsystems {
		s := s
		if s.Stop == nil {
			continue
		}
		g.Go(func() error {
			return s.Stop(gctx)
		})
	}
	err := g.Wait()

	cp.notifySlack(ctx, reason)
	return err
}

// Restart clears the emergency-stop flag and re-runs startup.
func (cp *ControlPlane) Restart(ctx context.Context) error {
	cp.mu.Lock()
	cp.stopped = false
	cp.started = false
	cp.mu.Unlock()
	return cp.Start(ctx)
}

func (cp *ControlPlane) notifySlack(ctx context.Context, reason string) {
	if cp.slackClient == nil || cp.slackChan == "" {
		return
	}
	_, _, err := cp.slackClient.PostMessageContext(ctx, cp.slackChan, slack.MsgOptionText("aurora emergency stop: "+reason, false))
	if err != nil {
		cp.logger.Warn("controlplane: slack notification failed", map[string]interface{}{"error": err.Error()})
	}
}

// Snapshot gathers one-second-granularity system stats plus
// per-component health into a single object and records it into the
// bounded history ring.
func (cp *ControlPlane) Snapshot(ctx context.Context) Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	components := map[string]heartbeat.ComponentHealth{}
	if cp.supervisor != nil {
		components = cp.supervisor.Check(ctx).Components
	}

	snap := Snapshot{
		Timestamp:      time.Now().UTC(),
		GoroutineCount: runtime.NumGoroutine(),
		MemAllocBytes:  memStats.Alloc,
		Components:     components,
	}

	cp.historyMu.Lock()
	cp.history = append(cp.history, snap)
	if len(cp.history) > cp.historySize {
		cp.history = cp.history[len(cp.history)-cp.historySize:]
	}
	cp.historyMu.Unlock()

	return snap
}

// History returns the bounded time-series of prior snapshots.
func (cp *ControlPlane) History() []Snapshot {
	cp.historyMu.Lock()
	defer cp.historyMu.Unlock()
	return append([]Snapshot(nil), cp.history...)
}
