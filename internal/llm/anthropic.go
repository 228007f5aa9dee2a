package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// AnthropicClient implements Completer against the Anthropic API, either
// directly or through AWS Bedrock.
type AnthropicClient struct {
	inner anthropic.Client
	model anthropic.Model
}

// AnthropicConfig contains configuration for creating an AnthropicClient.
type AnthropicConfig struct {
	// Model is the default model when a request names none.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// NewAnthropicClient creates a completion client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &AnthropicClient{
		inner: anthropic.NewClient(opts...),
		model: model,
	}, nil
}

// Complete implements Completer.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := c.model
	if req.Model != "" {
		model = c.translateModel(anthropic.Model(req.Model))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	return Response{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// Model returns the configured default model name.
func (c *AnthropicClient) Model() string {
	return string(c.model)
}

// translateModel translates a dynamically provided model name for Bedrock
// when this client is configured for it.
func (c *AnthropicClient) translateModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(c.model), "us.anthropic") {
		return translateModelForBedrock(model)
	}
	return model
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219: "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}
