package llm

import (
	"context"
	"time"
)

// codeCLIProvider dispatches a generate() call through the CLI Task
// Broker instead of an HTTP contract, fulfilling spec.md §4.5's "code
// CLI shim" family member. It polls the broker-owned task until
// terminal, since the Provider interface is call/response shaped.
type codeCLIProvider struct {
	name    string
	agent   string
	submit  func(ctx context.Context, prompt string, timeoutSec int) (status func() (text string, errText string, done bool), err error)
}

// NewCodeCLIProvider adapts a submit/poll closure supplied by whatever
// owns the broker into a Provider. Kept decoupled from broker.Broker's
// concrete type so llm has no import-time dependency on broker.
func NewCodeCLIProvider(name, agent string, submit func(ctx context.Context, prompt string, timeoutSec int) (status func() (text string, errText string, done bool), err error)) Provider {
	return &codeCLIProvider{name: name, agent: agent, submit: submit}
}

func (p *codeCLIProvider) Name() string  { return p.name }
func (p *codeCLIProvider) Family() Family { return FamilyCodeCLI }

func (p *codeCLIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	poll, err := p.submit(ctx, req.Prompt, 300)
	if err != nil {
		return Response{}, err
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-ticker.C:
			text, errText, done := poll()
			if !done {
				continue
			}
			latency := time.Since(start)
			if errText != "" {
				return Response{}, fmtErrorf(errText)
			}
			return Response{
				Provider:     p.name,
				Text:         text,
				InputTokens:  EstimateTokens(req.Prompt),
				OutputTokens: EstimateTokens(text),
				LatencyMS:    latency.Milliseconds(),
				Timestamp:    time.Now().UTC(),
			}, nil
		}
	}
}

func fmtErrorf(msg string) error {
	return codeCLIError(msg)
}

type codeCLIError string

func (e codeCLIError) Error() string { return string(e) }
