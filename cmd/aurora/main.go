// Command aurora wires every Aurora Pro component into one process:
// Policy Gate, Audit Sink, Cache Tiering, Heartbeat Supervisor, LLM
// Router, Action Executor, Input Queue, Plugin Host, Reasoning
// Stream, Autonomous Planner, and CLI Task Broker, registered with
// the Control Plane in spec.md §4.9's startup order and shut down in
// reverse on SIGINT/SIGTERM.
//
// There is no HTTP server here: the request/response adapter, the
// dashboards, and the evidence store are out-of-scope external
// collaborators (spec.md §1) referenced by contract only.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/usephedm/aurora-pro-ai/action"
	"github.com/usephedm/aurora-pro-ai/audit"
	"github.com/usephedm/aurora-pro-ai/broker"
	"github.com/usephedm/aurora-pro-ai/cache"
	"github.com/usephedm/aurora-pro-ai/controlplane"
	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/heartbeat"
	"github.com/usephedm/aurora-pro-ai/input"
	"github.com/usephedm/aurora-pro-ai/llm"
	"github.com/usephedm/aurora-pro-ai/planner"
	"github.com/usephedm/aurora-pro-ai/plugin"
	"github.com/usephedm/aurora-pro-ai/policy"
	"github.com/usephedm/aurora-pro-ai/reasoning"
	"github.com/usephedm/aurora-pro-ai/telemetry"
)

// noopActuator logs requested hardware actions instead of performing
// them. Mouse/keyboard/screen automation has no concrete driver in
// this module (spec.md Non-goals: "does not implement its own
// browser engine or OCR kernel") — an operator deployment supplies a
// real input.Actuator for its OS.
type noopActuator struct {
	logger core.Logger
}

func (a noopActuator) Perform(ctx context.Context, kind input.Kind, parameters map[string]interface{}) error {
	a.logger.Warn("input: no actuator configured, action dropped", map[string]interface{}{"kind": string(kind)})
	return nil
}

func main() {
	cfg := core.NewConfig(core.WithLogger(telemetry.NewStructuredLogger("", "")))
	logger := cfg.Logger
	metrics := telemetry.NewMetrics()

	auditSink := audit.New(cfg.DataRoot+"/audit", logger)
	auditFn := auditSink.Record

	gate, err := policy.New(cfg.PolicyFile, logger, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("policy", "system", action, message, meta)
	})
	if err != nil {
		log.Fatalf("aurora: failed to load policy gate: %v", err)
	}

	tieredCache := cache.New(cache.Config{
		MemoryLimitBytes: cfg.CacheMemoryBytes,
		DiskDir:          cfg.CacheDiskDir,
		RemoteAddr:       cfg.CacheRemoteAddr,
	}, logger, metrics)

	supervisor := heartbeat.New(cfg.HeartbeatPeriod, logger, metrics, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("heartbeat", "system", action, message, meta)
	})

	router := llm.New(cfg.DataRoot+"/llm_stats.json", logger, metrics, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("llm", "system", action, message, meta)
	})
	registerConfiguredProviders(router, cfg)
	router.SetFallbackChain([]string{"ollama-local"})

	generate := func(ctx context.Context, prompt string) (string, error) {
		resp := router.Generate(ctx, llm.Request{Prompt: prompt, TaskClass: llm.TaskReasoning})
		if resp.Error != "" {
			return "", core.NewError("llm.Generate", "provider", core.ErrResource)
		}
		return resp.Text, nil
	}

	gateFn := func(ctx context.Context, capability string) error {
		return gate.Require(ctx, capability)
	}

	actuator := noopActuator{logger: logger}
	inputQueue := input.New(actuator, gateFn, logger, metrics, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("input", "system", action, message, meta)
	})
	supervisor.Register("input.queue", inputQueue)

	judge := func(ctx context.Context, condition string, history []string) (bool, string, error) {
		resp := router.Generate(ctx, llm.Request{
			TaskClass: llm.TaskAnalysis,
			Prompt:    "Did the following history satisfy this condition? Condition: " + condition + "\nHistory:\n" + strings.Join(history, "\n") + "\nAnswer yes or no, then a brief reason.",
		})
		if resp.Error != "" {
			return false, resp.Error, nil
		}
		ok := strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Text)), "yes")
		return ok, resp.Text, nil
	}

	executor := action.New(action.Config{
		InputQueue:    inputQueue,
		Judge:         judge,
		Pages:         tieredCache,
		ScreenshotDir: cfg.DataRoot + "/screenshots",
		Gate:          gateFn,
	}, logger, metrics, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("action", "system", action, message, meta)
	})

	pluginHost := plugin.New(cfg.DataRoot+"/plugins", logger, gateFn, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("plugin", "system", action, message, meta)
	}, plugin.ResourceLimits{CPUSeconds: 30, MemoryBytes: 512 * 1024 * 1024})

	reasoner := reasoning.New(cfg.ReasoningRingSize, cfg.DataRoot+"/reasoning", logger)

	autoPlanner := planner.New(generate, executor, reasoner, logger, func(ctx context.Context, action, message string, meta map[string]interface{}) {
		auditFn("planner", "system", action, message, meta)
	}, cfg.DataRoot+"/workflows")
	autoPlanner.SetActionBudget(cfg.PlannerActionBudget)

	cliBroker := broker.New(func(agent string) []string {
		return core.SplitCommandTemplate(os.Getenv(strings.ToUpper(agent) + "_CLI_CMD"))
	}, cfg.DataRoot, logger, metrics, func(ctx context.Context, subsystem, actor, action, message string, meta map[string]interface{}) {
		auditFn(subsystem, actor, action, message, meta)
	})

	cp := controlplane.New(logger, metrics, reasoner, supervisor, cfg.SlackWebhook, "")

	cp.Register(controlplane.Subsystem{
		Name:  "policy",
		Start: func(ctx context.Context) error { gate.Refresh(ctx); return nil },
	})
	cp.Register(controlplane.Subsystem{
		Name: "audit",
		Stop: func(ctx context.Context) error { return auditSink.Close() },
	})
	cp.Register(controlplane.Subsystem{
		Name: "cache",
		Stop: func(ctx context.Context) error { return tieredCache.Close() },
	})
	cp.Register(controlplane.Subsystem{
		Name: "heartbeat",
		Start: func(ctx context.Context) error {
			go supervisor.Run(ctx)
			return nil
		},
		Stop: func(ctx context.Context) error { supervisor.Stop(); return nil },
	})
	cp.Register(controlplane.Subsystem{
		Name: "llm",
		Stop: func(ctx context.Context) error { return router.Persist() },
	})
	cp.Register(controlplane.Subsystem{Name: "action"})
	cp.Register(controlplane.Subsystem{
		Name: "input",
		Start: func(ctx context.Context) error {
			go inputQueue.Run(ctx)
			return nil
		},
	})
	cp.Register(controlplane.Subsystem{
		Name: "plugin",
		Start: func(ctx context.Context) error {
			for _, bundle := range configuredPluginBundles() {
				if err := pluginHost.Load(ctx, bundle); err != nil {
					logger.Warn("plugin: failed to load bundle at startup", map[string]interface{}{"bundle": bundle, "error": err.Error()})
				}
			}
			return nil
		},
		Stop: func(ctx context.Context) error {
			for _, bundle := range pluginHost.LoadedBundles() {
				_ = pluginHost.Unload(ctx, bundle)
			}
			return nil
		},
	})
	cp.Register(controlplane.Subsystem{Name: "reasoning"})
	cp.Register(controlplane.Subsystem{Name: "planner"})
	cp.Register(controlplane.Subsystem{
		Name: "broker",
		Start: func(ctx context.Context) error {
			for _, agent := range configuredAgents() {
				go cliBroker.RunAgent(ctx, agent)
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := cp.Start(ctx); err != nil {
		log.Fatalf("aurora: startup failed: %v", err)
	}
	logger.Info("aurora: all subsystems started", nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("aurora: shutting down gracefully", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	cancel()
	cp.Shutdown(shutdownCtx)
}

// registerConfiguredProviders wires the HTTP-contract providers whose
// API keys are present in Config; Ollama is always registered since
// it needs no key (spec.md §6).
func registerConfiguredProviders(router *llm.Router, cfg *core.Config) {
	router.RegisterHTTPProvider(llm.ProviderSpec{
		Name: "ollama-local", Family: llm.FamilyOllama, BaseURL: cfg.OllamaBaseURL, Model: "llama3",
	})
	if cfg.AnthropicAPIKey != "" {
		router.RegisterHTTPProvider(llm.ProviderSpec{
			Name: "anthropic-claude", Family: llm.FamilyAnthropic, Model: "claude-3-5-sonnet-20241022",
			APIKeyEnv: "ANTHROPIC_API_KEY", InputCostPer1K: 0.003, OutputCostPer1K: 0.015,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		router.RegisterHTTPProvider(llm.ProviderSpec{
			Name: "openai-gpt4o", Family: llm.FamilyOpenAI, Model: "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY", InputCostPer1K: 0.0025, OutputCostPer1K: 0.01,
		})
	}
	if cfg.GoogleAPIKey != "" {
		router.RegisterHTTPProvider(llm.ProviderSpec{
			Name: "google-gemini", Family: llm.FamilyGoogle, Model: "gemini-1.5-pro",
			APIKeyEnv: "GOOGLE_API_KEY", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005,
		})
	}
	registerBedrockProvider(router, cfg)
	router.SetPreferences(llm.TaskReasoning, []string{"anthropic-claude", "openai-gpt4o", "bedrock-claude", "ollama-local"})
	router.SetPreferences(llm.TaskCodeGeneration, []string{"anthropic-claude", "openai-gpt4o", "ollama-local"})
	router.SetPreferences(llm.TaskCLICommand, []string{"ollama-local"})
}

// configuredPluginBundles reads the comma-separated AURORA_PLUGINS
// environment variable naming which bundles under the plugin host's
// root directory to load at startup.
func configuredPluginBundles() []string {
	raw := os.Getenv("AURORA_PLUGINS")
	if raw == "" {
		return nil
	}
	var bundles []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			bundles = append(bundles, b)
		}
	}
	return bundles
}

// configuredAgents reads the comma-separated AURORA_AGENTS
// environment variable naming which CLI agents the broker should run
// a worker loop for (e.g. "claude,codex,aider").
func configuredAgents() []string {
	raw := os.Getenv("AURORA_AGENTS")
	if raw == "" {
		return nil
	}
	var agents []string
	for _, a := range strings.Split(raw, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			agents = append(agents, a)
		}
	}
	return agents
}
