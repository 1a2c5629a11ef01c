// Package llm implements the LLM Router (C5): a multi-provider
// dispatcher with task-class preferences, a fallback chain, and
// cost/latency/error bookkeeping per provider.
package llm

import "time"

// TaskClass is the closed set of workload categories a request may be
// tagged with (spec.md §3 LLMRequest).
type TaskClass string

const (
	TaskReasoning      TaskClass = "reasoning"
	TaskCodeGeneration TaskClass = "code_generation"
	TaskCodeReview     TaskClass = "code_review"
	TaskAnalysis       TaskClass = "analysis"
	TaskConversation   TaskClass = "conversation"
	TaskSummarization  TaskClass = "summarization"
	TaskCLICommand     TaskClass = "cli_command"
	TaskLongContext    TaskClass = "long_context"
	TaskMath           TaskClass = "math"
)

// Family groups providers that share an HTTP contract (spec.md §6).
// Per spec.md §9 open question (b), the provider set itself is a
// configuration artifact (ProviderSpec table below), not a closed Go
// enum of vendor names — Family is the only truly closed axis, since
// it determines which wire contract a provider speaks.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
	FamilyGoogle    Family = "google"
	FamilyOllama    Family = "ollama"
	FamilyBedrock   Family = "bedrock"
	FamilyCodeCLI   Family = "code_cli"
)

// ProviderSpec is one configured backend. Providers are registered
// with the router one ProviderSpec at a time (Register or
// RegisterHTTPProvider) rather than picked by a hardcoded switch, so
// providers (including ones with vendor typos or discontinued version
// strings) are added, renamed, or retired by changing the specs passed
// at registration.
type ProviderSpec struct {
	Name              string
	Family            Family
	BaseURL           string
	Model             string
	APIKeyEnv         string
	InputCostPer1K    float64
	OutputCostPer1K   float64
}

// Request mirrors spec.md §3's LLMRequest.
type Request struct {
	Prompt         string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	TaskClass      TaskClass
	Preferred      string
	MaxCost        float64
	MaxLatency     time.Duration
}

// Response mirrors spec.md §3's LLMResponse.
type Response struct {
	Provider     string
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
	CostUSD      float64
	Timestamp    time.Time
	Error        string
	Metadata     map[string]interface{}
}

// Stats is the persisted per-provider bookkeeping record (spec.md §3
// ProviderStats).
type Stats struct {
	Requests        int64     `json:"requests"`
	Successes       int64     `json:"successes"`
	Errors          int64     `json:"errors"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	TotalLatencyMS  int64     `json:"total_latency_ms"`
	LastUsed        time.Time `json:"last_used"`
	QualityScore    float64   `json:"quality_score"`
}

func (s Stats) avgCost() float64 {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalCostUSD / float64(s.Requests)
}

func (s Stats) avgLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencyMS/s.Requests) * time.Millisecond
}

func (s Stats) errorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests)
}

// EstimateTokens is the whitespace-token × 1.3 fallback used when a
// provider response carries no usage field (spec.md §4.5).
func EstimateTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !isSpace && !inWord {
			count++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return int(float64(count) * 1.3)
}
