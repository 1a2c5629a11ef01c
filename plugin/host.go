// Package plugin implements the Plugin Host (C11): manifest-driven
// loading and unloading of user extensions, with per-call resource
// caps enforced best-effort via OS primitives.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/usephedm/aurora-pro-ai/core"
)

// Manifest describes one extension bundle, loaded from
// <bundle-dir>/manifest.yaml.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Entry       string   `yaml:"entry"`
	Permissions []string `yaml:"permissions"`
}

// Lifecycle is implemented by a loaded entry module. setup/teardown
// are optional in the sense that a missing symbol is tolerated.
type Lifecycle interface {
	Setup() error
	Teardown() error
}

// Loaded is a registered, active plugin.
type Loaded struct {
	Manifest Manifest
	Handle   *plugin.Plugin
	Symbols  Lifecycle
}

// GateFunc authorizes plugin-system use without importing the policy
// package directly.
type GateFunc func(ctx context.Context, capability string) error

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// Host owns the plugin registry.
type Host struct {
	mu       sync.Mutex
	bundles  map[string]*Loaded
	bundleDir string
	logger   core.Logger
	gate     GateFunc
	auditor  AuditFunc
	limits   ResourceLimits
}

// ResourceLimits caps each plugin call. Zero means "no limit."
type ResourceLimits struct {
	CPUSeconds uint64
	MemoryBytes uint64
}

// New constructs a Host rooted at bundleDir.
func New(bundleDir string, logger core.Logger, gate GateFunc, auditor AuditFunc, limits ResourceLimits) *Host {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Host{
		bundles:   make(map[string]*Loaded),
		bundleDir: bundleDir,
		logger:    logger,
		gate:      gate,
		auditor:   auditor,
		limits:    limits,
	}
}

// Load parses a bundle's manifest, opens its entry module, and calls
// Setup() if the module implements Lifecycle.
func (h *Host) Load(ctx context.Context, bundleName string) error {
	if h.gate != nil {
		if err := h.gate(ctx, "plugin_system"); err != nil {
			return err
		}
	}

	dir := filepath.Join(h.bundleDir, bundleName)
	manifestPath := filepath.Join(dir, "manifest.yaml")

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("plugin: reading manifest for %q: %w", bundleName, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("plugin: parsing manifest for %q: %w", bundleName, err)
	}

	entryPath := filepath.Join(dir, m.Entry)
	handle, err := plugin.Open(entryPath)
	if err != nil {
		return fmt.Errorf("plugin: opening entry module for %q: %w", bundleName, err)
	}

	loaded := &Loaded{Manifest: m, Handle: handle}

	if sym, lookupErr := handle.Lookup("Plugin"); lookupErr == nil {
		if lc, ok := sym.(Lifecycle); ok {
			loaded.Symbols = lc
			if err := runWithLimits(h.limits, lc.Setup); err != nil {
				return fmt.Errorf("plugin: setup for %q failed: %w", bundleName, err)
			}
		}
	}

	h.mu.Lock()
	h.bundles[bundleName] = loaded
	h.mu.Unlock()

	if h.auditor != nil {
		h.auditor(ctx, "plugin_loaded", bundleName, map[string]interface{}{"version": m.Version, "permissions": m.Permissions})
	}
	return nil
}

// Unload calls Teardown() (if implemented) and drops the bundle from
// the registry.
func (h *Host) Unload(ctx context.Context, bundleName string) error {
	h.mu.Lock()
	loaded, ok := h.bundles[bundleName]
	if ok {
		delete(h.bundles, bundleName)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("plugin: %q is not loaded", bundleName)
	}

	if loaded.Symbols != nil {
		if err := runWithLimits(h.limits, loaded.Symbols.Teardown); err != nil {
			h.logger.WarnWithContext(ctx, "plugin: teardown failed", map[string]interface{}{"bundle": bundleName, "error": err.Error()})
		}
	}

	if h.auditor != nil {
		h.auditor(ctx, "plugin_unloaded", bundleName, nil)
	}
	return nil
}

// HasPermission reports whether a loaded bundle's manifest declares a
// permission. Enforcement of what the permission actually allows
// happens at the Policy Gate when the plugin invokes a core API.
func (h *Host) HasPermission(bundleName, permission string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	loaded, ok := h.bundles[bundleName]
	if !ok {
		return false
	}
	for _, p := range loaded.Manifest.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// LoadedBundles reports the set of currently-loaded bundle names.
func (h *Host) LoadedBundles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	return names
}

// runWithLimits applies the configured resource caps for the duration
// of fn. On platforms without rlimit support this is a documented
// no-op, per spec.md §9 open question (d).
func runWithLimits(limits ResourceLimits, fn func() error) error {
	restore, err := applyLimits(limits)
	if err != nil {
		return err
	}
	defer restore()
	return fn()
}

var _ = runtime.GOOS // the limiter files are selected by build constraints, not by this value
