//go:build !bedrock

package main

import (
	"github.com/usephedm/aurora-pro-ai/core"
	"github.com/usephedm/aurora-pro-ai/llm"
)

// registerBedrockProvider is a no-op in the default build; build with
// -tags bedrock to pull in the AWS SDK and register it for real.
func registerBedrockProvider(router *llm.Router, cfg *core.Config) {}
