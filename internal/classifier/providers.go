package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
)

// Model is a provider-agnostic text completion endpoint.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrNotConfigured is returned when no provider or API key is set.
var ErrNotConfigured = errors.New("language model is not configured")

var errEmptyCompletion = errors.New("model returned no text")

// NewModel builds the provider named in cfg. It returns ErrNotConfigured when
// classification is disabled.
func NewModel(cfg config.ModelConfig) (Model, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case "anthropic":
		return newAnthropicModel(cfg), nil
	case "openai", "glm":
		return newOpenAICompatibleModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

type anthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicModel(cfg config.ModelConfig) *anthropicModel {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicModel{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (m *anthropicModel) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errEmptyCompletion
	}
	return sb.String(), nil
}

// openAICompatibleModel serves OpenAI and any endpoint speaking the same chat API (GLM).
type openAICompatibleModel struct {
	llm       llms.Model
	maxTokens int
}

func newOpenAICompatibleModel(cfg config.ModelConfig) (*openAICompatibleModel, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}
	return &openAICompatibleModel{llm: llm, maxTokens: cfg.MaxTokens}, nil
}

func (m *openAICompatibleModel) Complete(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt, llms.WithMaxTokens(m.maxTokens))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}
