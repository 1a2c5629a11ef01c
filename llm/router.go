package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/resilience"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// AuditFunc emits an audit event without importing the audit package.
type AuditFunc func(ctx context.Context, action, message string, metadata map[string]interface{})

// Router is the LLM Router (C5).
type Router struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	specs       map[string]ProviderSpec
	breakers    map[string]*resilience.CircuitBreaker
	stats       map[string]*Stats
	preferences map[TaskClass][]string
	fallback    []string

	statsPath string
	logger    core.Logger
	metrics   *telemetry.Metrics
	auditor   AuditFunc
}

// New constructs a Router and loads persisted stats from statsPath if
// present (corruption tolerates a reset to zeros, per spec.md §4.5).
func New(statsPath string, logger core.Logger, metrics *telemetry.Metrics, auditor AuditFunc) *Router {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	r := &Router{
		providers:   make(map[string]Provider),
		specs:       make(map[string]ProviderSpec),
		breakers:    make(map[string]*resilience.CircuitBreaker),
		stats:       make(map[string]*Stats),
		preferences: make(map[TaskClass][]string),
		statsPath:   statsPath,
		logger:      logger,
		metrics:     metrics,
		auditor:     auditor,
	}
	r.loadStats()
	return r
}

// RegisterHTTPProvider builds and registers one of the built-in HTTP-
// contract providers (Anthropic/OpenAI/Google/Ollama, per spec.md §6;
// Bedrock goes through Register instead) from a spec alone, so callers outside this package
// never need to name the unexported httpProvider type.
func (r *Router) RegisterHTTPProvider(spec ProviderSpec) {
	r.Register(spec, newHTTPProvider(spec, r.logger))
}

// Register adds a provider to the router's registry.
func (r *Router) Register(spec ProviderSpec, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[spec.Name] = provider
	r.specs[spec.Name] = spec
	if _, ok := r.stats[spec.Name]; !ok {
		r.stats[spec.Name] = &Stats{}
	}
	if _, ok := r.breakers[spec.Name]; !ok {
		r.breakers[spec.Name] = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(spec.Name))
	}
}

// SetPreferences configures the ordered provider list for a task
// class.
func (r *Router) SetPreferences(class TaskClass, providerNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[class] = providerNames
}

// SetFallbackChain configures the fixed fallback order used by
// Generate when the selected provider fails transport/protocol.
func (r *Router) SetFallbackChain(providerNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = providerNames
}

func (r *Router) preferenceList(class TaskClass) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list, ok := r.preferences[class]; ok && len(list) > 0 {
		return list
	}
	return r.preferences[TaskReasoning]
}

// Select implements spec.md §4.5's selection algorithm.
func (r *Router) Select(class TaskClass, maxCost float64, maxLatency time.Duration) (string, error) {
	candidates := r.preferenceList(class)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range candidates {
		stats, ok := r.stats[name]
		if !ok {
			continue
		}
		if maxCost > 0 && stats.avgCost() > maxCost {
			continue
		}
		if maxLatency > 0 && stats.avgLatency() > maxLatency {
			continue
		}
		if stats.Requests >= 10 && stats.errorRate() > 0.5 {
			continue
		}
		if breaker, ok := r.breakers[name]; ok && !breaker.CanExecute() {
			continue
		}
		return name, nil
	}

	// Last resort: cheapest local (Ollama-family) provider.
	var cheapest string
	var cheapestCost float64 = -1
	for name, spec := range r.specs {
		if spec.Family != FamilyOllama {
			continue
		}
		if cheapestCost < 0 || spec.InputCostPer1K < cheapestCost {
			cheapest = name
			cheapestCost = spec.InputCostPer1K
		}
	}
	if cheapest != "" {
		return cheapest, nil
	}

	return "", &core.FrameworkError{Op: "llm.Select", Kind: "resource", Err: core.ErrResource, Message: "no surviving provider for task class"}
}

// Generate dispatches a request, falling back through the configured
// fallback chain on transport/protocol failure (spec.md §4.5).
func (r *Router) Generate(ctx context.Context, req Request) Response {
	class := req.TaskClass
	if class == "" {
		class = TaskReasoning
	}

	name := req.Preferred
	if name == "" {
		selected, err := r.Select(class, req.MaxCost, req.MaxLatency)
		if err != nil {
			return Response{Error: err.Error(), Timestamp: time.Now().UTC()}
		}
		name = selected
	}

	resp, err := r.invoke(ctx, name, req)
	if err == nil {
		return resp
	}

	originalErr := err
	originalProvider := name

	chain := r.fallbackChain()
	for _, candidate := range chain {
		if candidate == originalProvider {
			continue
		}
		resp, err = r.invoke(ctx, candidate, req)
		if err == nil {
			if resp.Metadata == nil {
				resp.Metadata = map[string]interface{}{}
			}
			resp.Metadata["fallback_from"] = originalProvider
			resp.Metadata["fallback_reason"] = originalErr.Error()
			return resp
		}
	}

	return Response{
		Provider:  originalProvider,
		Error:     originalErr.Error(),
		Timestamp: time.Now().UTC(),
	}
}

func (r *Router) fallbackChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallback...)
}

func (r *Router) invoke(ctx context.Context, name string, req Request) (Response, error) {
	r.mu.RLock()
	provider, ok := r.providers[name]
	breaker := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return Response{}, fmt.Errorf("llm: unknown provider %q", name)
	}

	resp, err := provider.Generate(ctx, req)

	r.mu.Lock()
	stats := r.stats[name]
	if stats == nil {
		stats = &Stats{}
		r.stats[name] = stats
	}
	stats.Requests++
	stats.LastUsed = time.Now().UTC()
	if err != nil {
		stats.Errors++
	} else {
		stats.Successes++
		stats.TotalTokens += int64(resp.InputTokens + resp.OutputTokens)
		stats.TotalCostUSD += resp.CostUSD
		stats.TotalLatencyMS += resp.LatencyMS
	}
	r.mu.Unlock()

	if breaker != nil {
		if err != nil {
			breaker.RecordFailure(err)
		} else {
			breaker.RecordSuccess()
		}
	}
	if r.metrics != nil {
		r.metrics.ProviderRequests.WithLabelValues(name).Inc()
		if err != nil {
			r.metrics.ProviderErrors.WithLabelValues(name).Inc()
		} else {
			r.metrics.ProviderLatency.WithLabelValues(name).Observe(float64(resp.LatencyMS))
		}
	}
	if r.auditor != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.auditor(ctx, "llm_request", name, map[string]interface{}{"status": status, "task_class": req.TaskClass})
	}

	return resp, err
}

// Vote fans out to providers in parallel and returns the consensus
// response: the longest-common-prefix majority on the first 100
// characters, tie-broken by arrival order (spec.md §4.5).
func (r *Router) Vote(ctx context.Context, req Request, providerNames []string) Response {
	type result struct {
		order int
		resp  Response
		err   error
	}

	results := make(chan result, len(providerNames))
	for i, name := range providerNames {
		go func(i int, name string) {
			resp, err := r.invoke(ctx, name, req)
			results <- result{order: i, resp: resp, err: err}
		}(i, name)
	}

	collected := make([]result, 0, len(providerNames))
	for range providerNames {
		collected = append(collected, <-results)
	}

	var successes []Response
	for _, c := range collected {
		if c.err == nil {
			successes = append(successes, c.resp)
		}
	}
	if len(successes) == 0 {
		return Response{Error: "all providers failed", Timestamp: time.Now().UTC()}
	}

	return longestCommonPrefixConsensus(successes)
}

func longestCommonPrefixConsensus(responses []Response) Response {
	prefixes := make([]string, len(responses))
	for i, r := range responses {
		text := r.Text
		if len(text) > 100 {
			text = text[:100]
		}
		prefixes[i] = text
	}

	counts := make(map[string]int)
	order := make(map[string]int)
	for i, p := range prefixes {
		counts[p]++
		if _, seen := order[p]; !seen {
			order[p] = i
		}
	}

	best := ""
	bestCount := -1
	bestOrder := len(responses)
	for p, c := range counts {
		if c > bestCount || (c == bestCount && order[p] < bestOrder) {
			best = p
			bestCount = c
			bestOrder = order[p]
		}
	}

	for i, p := range prefixes {
		if p == best {
			return responses[i]
		}
	}
	return responses[0]
}

// persistedStats is the on-disk shape of Router.stats.
type persistedStats map[string]*Stats

// Persist writes the current provider statistics to disk (spec.md
// §4.5: "persisted on shutdown, loaded at startup").
func (r *Router) Persist() error {
	if r.statsPath == "" {
		return nil
	}
	r.mu.RLock()
	snapshot := make(persistedStats, len(r.stats))
	for k, v := range r.stats {
		copyVal := *v
		snapshot[k] = &copyVal
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(r.statsPath), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.statsPath, raw, 0o644)
}

func (r *Router) loadStats() {
	if r.statsPath == "" {
		return
	}
	raw, err := os.ReadFile(r.statsPath)
	if err != nil {
		return
	}
	var loaded persistedStats
	if err := json.Unmarshal(raw, &loaded); err != nil {
		r.logger.Warn("llm: provider stats file corrupt, resetting to zero", map[string]interface{}{"error": err.Error()})
		return
	}
	r.mu.Lock()
	for k, v := range loaded {
		r.stats[k] = v
	}
	r.mu.Unlock()
}

// StatsSnapshot returns a copy of one provider's stats.
func (r *Router) StatsSnapshot(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[name]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// ParseCLICommandEnv builds the `<AGENT>_CLI_CMD`-style env var name
// for a given agent tag (spec.md §6), e.g. "claude" → "CLAUDE_CLI_CMD".
func ParseCLICommandEnv(agent string) string {
	return strings.ToUpper(agent) + "_CLI_CMD"
}
