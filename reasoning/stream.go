// Package reasoning implements the Reasoning Stream (C8): an
// append-only ring of reasoning steps, grouped into per-context
// spans, fanned out to subscribers.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usephedm/aurora-pro-ai/core"
)

// Level mirrors spec.md §3's ReasoningStep level enum.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// ContextStatus mirrors spec.md §3's ReasoningContext status enum.
type ContextStatus string

const (
	ContextActive    ContextStatus = "active"
	ContextCompleted ContextStatus = "completed"
	ContextFailed    ContextStatus = "failed"
	ContextCancelled ContextStatus = "cancelled"
)

// Step is one immutable reasoning record.
type Step struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Level         Level                  `json:"level"`
	Component     string                 `json:"component"`
	Thought       string                 `json:"thought"`
	Confidence    float64                `json:"confidence"`
	Alternatives  []string               `json:"alternatives,omitempty"`
	DataSources   []string               `json:"data_sources,omitempty"`
	Rationale     string                 `json:"rationale,omitempty"`
	NextSteps     []string               `json:"next_steps,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ContextID     string                 `json:"context_id,omitempty"`
}

// Ctx is a named span of reasoning steps bracketed by Begin/End.
type Ctx struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Status      ContextStatus `json:"status"`
	Steps       []Step        `json:"steps"`
}

// StepOption customizes an added Step beyond the required fields.
type StepOption func(*Step)

func WithConfidence(c float64) StepOption    { return func(s *Step) { s.Confidence = c } }
func WithAlternatives(alts []string) StepOption { return func(s *Step) { s.Alternatives = alts } }
func WithDataSources(sources []string) StepOption {
	return func(s *Step) { s.DataSources = sources }
}
func WithRationale(r string) StepOption  { return func(s *Step) { s.Rationale = r } }
func WithNextSteps(n []string) StepOption { return func(s *Step) { s.NextSteps = n } }
func WithMetadata(m map[string]interface{}) StepOption {
	return func(s *Step) { s.Metadata = m }
}
func WithContext(contextID string) StepOption { return func(s *Step) { s.ContextID = contextID } }

// Subscriber is a bounded channel receiving every new Step. On
// overflow the subscriber is dropped, per spec.md §4.8.
type Subscriber struct {
	ch chan Step
}

// Stream is the Reasoning Stream. Safe for concurrent use.
type Stream struct {
	mu           sync.Mutex
	ring         []Step
	ringSize     int
	contexts     map[string]*Ctx
	defaultCtx   string
	subscribers  map[*Subscriber]struct{}
	consoleLevel Level
	logger       core.Logger
	dataDir      string
	lastTime     map[string]time.Time // per-context monotonicity guard
}

// New constructs a Stream with the given ring capacity.
func New(ringSize int, dataDir string, logger core.Logger) *Stream {
	if ringSize <= 0 {
		ringSize = 1000
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Stream{
		ringSize:    ringSize,
		contexts:    make(map[string]*Ctx),
		subscribers: make(map[*Subscriber]struct{}),
		lastTime:    make(map[string]time.Time),
		dataDir:     filepath.Join(dataDir, "logs", "reasoning_contexts"),
		logger:      logger,
	}
}

// BeginContext starts a new reasoning context and returns its id. If
// no context is currently designated default, this one becomes it —
// spec.md §3: "at most one 'active' context is designated as the
// implicit default."
func (s *Stream) BeginContext(description string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.contexts[id] = &Ctx{
		ID:          id,
		Description: description,
		StartedAt:   time.Now().UTC(),
		Status:      ContextActive,
	}
	if s.defaultCtx == "" {
		s.defaultCtx = id
	}
	return id
}

// EndContext closes a context with a terminal status and persists it
// to disk as JSON.
func (s *Stream) EndContext(contextID string, status ContextStatus) error {
	s.mu.Lock()
	ctxVal, ok := s.contexts[contextID]
	if !ok {
		s.mu.Unlock()
		return &core.FrameworkError{Op: "reasoning.EndContext", Kind: "reasoning", ID: contextID, Err: core.ErrNotFound}
	}
	now := time.Now().UTC()
	ctxVal.EndedAt = &now
	ctxVal.Status = status
	if s.defaultCtx == contextID {
		s.defaultCtx = ""
	}
	snapshot := *ctxVal
	snapshot.Steps = append([]Step(nil), ctxVal.Steps...)
	s.mu.Unlock()

	return s.persist(snapshot)
}

func (s *Stream) persist(ctxVal Ctx) error {
	if s.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		s.logger.Warn("reasoning: failed to create context directory", map[string]interface{}{"error": err.Error()})
		return err
	}
	enc, err := json.MarshalIndent(ctxVal, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dataDir, ctxVal.ID+".json")
	return os.WriteFile(path, enc, 0o644)
}

// AddStep appends a step to the ring, to its context (if any or the
// implicit default), and fans it out to subscribers.
func (s *Stream) AddStep(ctx context.Context, component, thought string, level Level, opts ...StepOption) Step {
	step := Step{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: component,
		Thought:   thought,
	}
	for _, opt := range opts {
		opt(&step)
	}
	if step.ContextID == "" {
		step.ContextID = s.implicitDefault()
	}

	s.mu.Lock()
	if step.ContextID != "" {
		if last, ok := s.lastTime[step.ContextID]; ok && !step.Timestamp.After(last) {
			step.Timestamp = last.Add(time.Nanosecond)
		}
		s.lastTime[step.ContextID] = step.Timestamp
	}

	s.ring = append(s.ring, step)
	if len(s.ring) > s.ringSize {
		s.ring = s.ring[len(s.ring)-s.ringSize:]
	}
	if c, ok := s.contexts[step.ContextID]; ok {
		c.Steps = append(c.Steps, step)
	}
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	consoleLevel := s.consoleLevel
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- step:
		default:
			s.dropSubscriber(sub)
		}
	}

	if levelRank[step.Level] >= levelRank[consoleLevel] {
		s.logger.InfoWithContext(ctx, fmt.Sprintf("[%s] %s", component, thought), map[string]interface{}{
			"level": step.Level, "confidence": step.Confidence,
		})
	}

	return step
}

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarning: 2, LevelError: 3, LevelCritical: 4}

// SetConsoleLevel filters which steps are also echoed to the logger.
func (s *Stream) SetConsoleLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consoleLevel = level
}

func (s *Stream) implicitDefault() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultCtx
}

// Subscribe registers a bounded-capacity subscriber channel.
func (s *Stream) Subscribe(capacity int) (*Subscriber, func()) {
	if capacity <= 0 {
		capacity = 64
	}
	sub := &Subscriber{ch: make(chan Step, capacity)}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	return sub, func() { s.dropSubscriber(sub) }
}

// Chan exposes the subscriber's receive-only channel.
func (s *Subscriber) Chan() <-chan Step { return s.ch }

func (s *Stream) dropSubscriber(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub.ch)
	}
}

// Broadcast pushes an out-of-band event (e.g. emergency_stop) to
// every subscriber at critical level. Like any step added without an
// explicit context, it is attached to the implicit default context
// when one is active.
func (s *Stream) Broadcast(component, thought string) {
	s.AddStep(context.Background(), component, thought, LevelCritical)
}

// Recent returns up to n most recent ring steps, newest last.
func (s *Stream) Recent(n int) []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]Step, n)
	copy(out, s.ring[len(s.ring)-n:])
	return out
}

// ContextSnapshot returns a copy of a context's current state.
func (s *Stream) ContextSnapshot(contextID string) (Ctx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[contextID]
	if !ok {
		return Ctx{}, false
	}
	snap := *c
	snap.Steps = append([]Step(nil), c.Steps...)
	return snap, true
}
