// Package policy implements the Policy Gate (C1): the single source
// of truth for whether a capability is permitted. Every privileged
// call elsewhere in Aurora Pro funnels through Gate.Require before it
// has any side effect.
package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"gopkg.in/yaml.v3"

	"github.com/usephedm/aurora-pro-ai/core"
)

// Document is the on-disk policy file shape (spec.md §6): a master
// flag plus a per-capability feature map.
type Document struct {
	OperatorEnabled bool            `yaml:"operator_enabled"`
	Features        map[string]bool `yaml:"features"`
}

// regoModule is a tiny compiled authorization rule: a capability is
// allowed iff the master flag and its own feature flag are both true.
// Using a real policy engine (rather than two `if` statements) is
// deliberate here — it's the part of the system whose entire job is
// "evaluate a boolean policy", so OPA's rego is the idiomatic tool
// rather than hand-rolled logic, and it leaves room for richer rules
// (e.g. time-of-day windows) without changing the Gate's public API.
const regoModule = `
package aurora.policy

default allow = false

allow {
	input.operator_enabled == true
	input.features[input.capability] == true
}
`

// AuditFunc is how the Gate reports a policy-parse failure, so it
// doesn't need to import the audit package directly (breaking the
// C1→C2 dependency direction spec.md §9 asks us to avoid baking in as
// ownership).
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// Gate is the Policy Gate. It is safe for concurrent use; Refresh may
// run concurrently with Authorized/Require.
type Gate struct {
	mu       sync.RWMutex
	doc      Document
	path     string
	query    rego.PreparedEvalQuery
	logger   core.Logger
	auditor  AuditFunc
	watching bool
	stopCh   chan struct{}
}

// New constructs a Gate. It loads path once synchronously so the
// returned Gate is immediately usable; call Watch to pick up later
// edits.
func New(path string, logger core.Logger, auditor AuditFunc) (*Gate, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	g := &Gate{path: path, logger: logger, auditor: auditor}

	prepared, err := rego.New(
		rego.Query("data.aurora.policy.allow"),
		rego.Module("aurora_policy.rego", regoModule),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego module: %w", err)
	}
	g.query = prepared

	g.Refresh(context.Background())
	return g, nil
}

// Refresh reloads the policy file. A parse failure degrades to a
// fully-denied policy (operator_enabled=false) and an audit event —
// spec.md §4.1: "the system must remain runnable but minimally
// capable."
func (g *Gate) Refresh(ctx context.Context) {
	doc, err := loadDocument(g.path)
	if err != nil {
		g.logger.WarnWithContext(ctx, "policy: failed to load policy file, defaulting to fully denied", map[string]interface{}{
			"path":  g.path,
			"error": err.Error(),
		})
		if g.auditor != nil {
			g.auditor(ctx, "policy_load_failed", err.Error(), map[string]interface{}{"path": g.path})
		}
		doc = Document{OperatorEnabled: false, Features: map[string]bool{}}
	}

	g.mu.Lock()
	g.doc = doc
	g.mu.Unlock()
}

func loadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read policy file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parse policy file: %w", err)
	}
	if doc.Features == nil {
		doc.Features = map[string]bool{}
	}
	return doc, nil
}

// Authorized reports whether capability is currently permitted.
// Unknown capability names default to false (deny) because the rego
// feature lookup on a missing key evaluates to undefined, which OPA
// treats as not-true. The Gate never caches this answer across calls,
// per spec.md §4.1.
func (g *Gate) Authorized(ctx context.Context, capability string) bool {
	g.mu.RLock()
	doc := g.doc
	g.mu.RUnlock()

	input := map[string]interface{}{
		"operator_enabled": doc.OperatorEnabled,
		"features":         doc.Features,
		"capability":       capability,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		g.logger.ErrorWithContext(ctx, "policy: evaluation error, denying by default", map[string]interface{}{
			"capability": capability,
			"error":      fmt.Sprint(err),
		})
		return false
	}

	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed
}

// Require raises core.ErrPermissionDenied when capability is not
// authorized. Callers should call this before any side effect.
func (g *Gate) Require(ctx context.Context, capability string) error {
	if g.Authorized(ctx, capability) {
		return nil
	}
	if g.auditor != nil {
		g.auditor(ctx, "authorization_denied", "capability not permitted", map[string]interface{}{
			"capability": capability,
			"operator":   core.OperatorIDFromContext(ctx),
		})
	}
	return &core.FrameworkError{
		Op: "policy.Require", Kind: "policy", ID: capability,
		Err: core.ErrPermissionDenied,
	}
}

// Snapshot returns the currently loaded document, for status/debug
// endpoints; it is a copy and safe to mutate by the caller.
func (g *Gate) Snapshot() Document {
	g.mu.RLock()
	defer g.mu.RUnlock()
	features := make(map[string]bool, len(g.doc.Features))
	for k, v := range g.doc.Features {
		features[k] = v
	}
	return Document{OperatorEnabled: g.doc.OperatorEnabled, Features: features}
}
