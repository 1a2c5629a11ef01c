//go:build bedrock

package main

import (
	"context"
	"os"

	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/llm"
)

// registerBedrockProvider wires the AWS Bedrock family into router
// when the binary is built with the "bedrock" tag (opt-in: most
// deployments never touch AWS, so the SDK's weight stays out of the
// default build).
func registerBedrockProvider(router *llm.Router, cfg *core.Config) {
	region := os.Getenv("AWS_REGION")
	provider, err := llm.NewBedrockProviderFromEnv(context.Background(), llm.ProviderSpec{
		Name: "bedrock-claude", Family: llm.FamilyBedrock, Model: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		InputCostPer1K: 0.003, OutputCostPer1K: 0.015,
	}, region, cfg.Logger)
	if err != nil {
		cfg.Logger.Warn("llm: bedrock provider unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	router.Register(llm.ProviderSpec{Name: "bedrock-claude", Family: llm.FamilyBedrock}, provider)
}
