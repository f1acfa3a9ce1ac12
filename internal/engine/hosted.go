package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// HostedEngine sends chat requests to an OpenAI-compatible API such as
// OpenRouter. It has no embedding or model management endpoints; retrieval
// keeps using the local engine.
type HostedEngine struct {
	client *openai.Client
	model  string
	keySet bool
}

// NewHostedEngine creates a HostedEngine for baseURL. The client's own retry
// loop is disabled; callers retry through resilience.Retry.
func NewHostedEngine(baseURL, apiKey, model string) *HostedEngine {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HostedEngine{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
		model:  model,
		keySet: apiKey != "",
	}
}

func (e *HostedEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	if model == "" {
		model = e.model
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.F(model),
		Messages:    openai.F(msgs),
		Temperature: openai.F(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.F(int64(opts.MaxTokens))
	}
	if opts.Schema != nil {
		params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			})
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("hosted chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("hosted chat: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *HostedEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, fmt.Errorf("hosted embed: %w", ErrUnsupported)
}

// IsRunning reports whether an API key is configured. The hosted API is not
// probed.
func (e *HostedEngine) IsRunning(_ context.Context) bool {
	return e.keySet
}

func (e *HostedEngine) ListModels(_ context.Context) ([]string, error) {
	return []string{e.model}, nil
}

func (e *HostedEngine) HasModel(_ context.Context, name string) bool {
	return name == e.model
}

func (e *HostedEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("hosted pull %s: %w", name, ErrUnsupported)
}
