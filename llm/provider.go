package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/usephedm/aurora-pro-ai/core"
)

// Provider is the uniform capability the router and planner converse
// through, per spec.md §9's "dynamic dispatch and duck typing" note:
// a tagged method table rather than an inheritance hierarchy.
type Provider interface {
	Name() string
	Family() Family
	Generate(ctx context.Context, req Request) (Response, error)
}

// httpProvider speaks one of the three HTTP-contract families
// (Anthropic, OpenAI, Google) or the Ollama-family contract, all
// documented in spec.md §6. One struct, one method table per family,
// dispatched through a small switch rather than separate types —
// the wire shapes differ but the lifecycle (build request, POST,
// parse response) does not.
type httpProvider struct {
	spec   ProviderSpec
	client *http.Client
	logger core.Logger
}

func newHTTPProvider(spec ProviderSpec, logger core.Logger) *httpProvider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &httpProvider{
		spec:   spec,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

func (p *httpProvider) Name() string   { return p.spec.Name }
func (p *httpProvider) Family() Family  { return p.spec.Family }

func (p *httpProvider) apiKey() string {
	if p.spec.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.spec.APIKeyEnv)
}

func (p *httpProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	var text string
	var inTok, outTok int
	var err error

	switch p.spec.Family {
	case FamilyAnthropic:
		text, inTok, outTok, err = p.generateAnthropic(ctx, req)
	case FamilyOpenAI:
		text, inTok, outTok, err = p.generateOpenAI(ctx, req)
	case FamilyGoogle:
		text, inTok, outTok, err = p.generateGoogle(ctx, req)
	case FamilyOllama:
		text, inTok, outTok, err = p.generateOllama(ctx, req)
	default:
		return Response{}, fmt.Errorf("llm: unsupported family %q for http provider %q", p.spec.Family, p.spec.Name)
	}

	latency := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", p.spec.Name, err)
	}

	if inTok == 0 {
		inTok = EstimateTokens(req.Prompt)
	}
	if outTok == 0 {
		outTok = EstimateTokens(text)
	}

	cost := (float64(inTok)/1000)*p.spec.InputCostPer1K + (float64(outTok)/1000)*p.spec.OutputCostPer1K

	return Response{
		Provider:     p.spec.Name,
		Text:         text,
		InputTokens:  inTok,
		OutputTokens: outTok,
		LatencyMS:    latency.Milliseconds(),
		CostUSD:      cost,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (p *httpProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// --- Anthropic-family: POST /v1/messages ---

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	Messages    []anthropicMessage  `json:"messages"`
	System      string              `json:"system,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (p *httpProvider) generateAnthropic(ctx context.Context, req Request) (string, int, int, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:       p.spec.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:      req.SystemPrompt,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", 0, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.spec.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey())
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.do(httpReq)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, 0, err
	}
	var text string
	for _, c := range parsed.Content {
		text += c.Text
	}
	return text, parsed.Usage.InputTokens, parsed.Usage.OutputTokens, nil
}

// --- OpenAI-family: POST /v1/chat/completions ---

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (p *httpProvider) generateOpenAI(ctx context.Context, req Request) (string, int, int, error) {
	messages := []openAIMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := openAIRequest{
		Model:       p.spec.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", 0, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.spec.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey())

	resp, err := p.do(httpReq)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, 0, err
	}
	if len(parsed.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}

// --- Google-family: POST .../generateContent?key=... ---

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents         []googleContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (p *httpProvider) generateGoogle(ctx context.Context, req Request) (string, int, int, error) {
	body := googleRequest{Contents: []googleContent{{Parts: []googlePart{{Text: req.Prompt}}}}}
	body.GenerationConfig.Temperature = req.Temperature

	raw, err := json.Marshal(body)
	if err != nil {
		return "", 0, 0, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.spec.BaseURL, p.spec.Model, p.apiKey())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.do(httpReq)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	var parsed googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, 0, err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", 0, 0, fmt.Errorf("no candidates in response")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, 0, 0, nil
}

// --- Ollama-family: POST /api/generate ---

type ollamaRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type ollamaResponse struct {
	Response       string `json:"response"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

func (p *httpProvider) generateOllama(ctx context.Context, req Request) (string, int, int, error) {
	body := ollamaRequest{Model: p.spec.Model, Prompt: req.Prompt, Temperature: req.Temperature, Stream: false}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", 0, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.spec.BaseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.do(httpReq)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, 0, err
	}
	return parsed.Response, parsed.PromptEvalCount, parsed.EvalCount, nil
}
