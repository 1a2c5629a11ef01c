//go:build bedrock

package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/usephedm/aurora-pro-ai/core"
)

// LoadAWSConfig resolves an aws.Config for Bedrock the same way the
// default credential chain does: explicit static credentials if
// AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY are set, otherwise IAM role,
// env vars, or ~/.aws/credentials via config.LoadDefaultConfig.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
		sessionToken := os.Getenv("AWS_SESSION_TOKEN")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("llm: failed to load aws config: %w", err)
	}
	return cfg, nil
}

// NewBedrockProviderFromEnv resolves an aws.Config via LoadAWSConfig
// and constructs a Provider from it, so a caller that only has a spec
// and a region never needs to touch the AWS SDK's config types
// directly.
func NewBedrockProviderFromEnv(ctx context.Context, spec ProviderSpec, region string, logger core.Logger) (Provider, error) {
	cfg, err := LoadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewBedrockProvider(spec, cfg, logger), nil
}

// bedrockProvider fulfils the Bedrock family via the Converse API,
// the same call shape AWS recommends for cross-model chat requests.
// Built only with the "bedrock" tag, mirroring the optional-dependency
// pattern used for this same provider family upstream: most
// deployments never touch AWS, so the SDK's weight is opt-in.
type bedrockProvider struct {
	spec   ProviderSpec
	client *bedrockruntime.Client
	logger core.Logger
}

// NewBedrockProvider constructs a Provider backed by AWS Bedrock
// Runtime. cfg is an already-resolved aws.Config (credentials,
// region). NewBedrockProvider itself reads no environment variables;
// LoadAWSConfig and NewBedrockProviderFromEnv resolve a config from
// the AWS_* variables for callers that want that.
func NewBedrockProvider(spec ProviderSpec, cfg aws.Config, logger core.Logger) Provider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &bedrockProvider{
		spec:   spec,
		client: bedrockruntime.NewFromConfig(cfg),
		logger: logger,
	}
}

func (p *bedrockProvider) Name() string   { return p.spec.Name }
func (p *bedrockProvider) Family() Family  { return FamilyBedrock }

func (p *bedrockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	messages := []types.Message{
		{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: req.Prompt},
			},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.spec.Model),
		Messages: messages,
	}

	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	inferenceConfig := &types.InferenceConfiguration{}
	configSet := false
	if req.MaxTokens > 0 {
		inferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
		configSet = true
	}
	if req.Temperature > 0 {
		inferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
		configSet = true
	}
	if configSet {
		input.InferenceConfig = inferenceConfig
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("bedrock converse error: %w", err)
	}
	if output.Output == nil {
		return Response{}, fmt.Errorf("no output in bedrock response")
	}

	var text string
	switch v := output.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	default:
		return Response{}, fmt.Errorf("unexpected output type from bedrock")
	}

	inTok, outTok := 0, 0
	if output.Usage != nil {
		if output.Usage.InputTokens != nil {
			inTok = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			outTok = int(*output.Usage.OutputTokens)
		}
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
		LatencyMS:    time.Since(start).Milliseconds(),
		CostUSD:      cost,
		Timestamp:    time.Now().UTC(),
	}, nil
}
