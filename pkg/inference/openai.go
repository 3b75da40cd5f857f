package inference

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI is a Provider backed by the go-openai SDK. It is typically the
// hosted fallback behind a local Client in a Chain.
type OpenAI struct {
	client *openai.Client
	config *Config
	logger *slog.Logger
}

// NewOpenAI creates a go-openai backed provider.
func NewOpenAI(opts ...Option) *OpenAI {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.openai.com/v1"
	cfg.Model = openai.GPT4oMini
	cfg.Apply(opts...)

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	oc.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
		logger: cfg.Logger.With("component", "inference.openai"),
	}
}

// Chat calls CreateChatCompletion and returns the first choice.
func (o *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]openai.ChatCompletionMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
	}
	if creq.Model == "" {
		creq.Model = o.config.Model
	}
	if creq.MaxTokens == 0 {
		creq.MaxTokens = o.config.MaxTokens
	}
	if creq.Temperature == 0 {
		creq.Temperature = float32(o.config.Temperature)
	}
	for i, m := range req.Messages {
		creq.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, o.convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, WrapError(providerOpenAI, ErrNoChoices)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health lists models to verify connectivity and the API key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.convertError(err)
	}
	return nil
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Close is a no-op; the shared transport owns idle connections.
func (o *OpenAI) Close() error {
	return nil
}

// convertError maps SDK errors onto APIError so IsRetryable works across providers.
func (o *OpenAI) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   providerOpenAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

var _ Provider = (*OpenAI)(nil)
