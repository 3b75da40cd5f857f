package inference

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>...</think> blocks emitted by reasoning
// models, plus an unterminated trailing block.
func StripReasoning(text string) string {
	text = reasoningBlock.ReplaceAllString(text, "")
	if i := strings.Index(text, "<think>"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Responder maps one transcript to one spoken reply. Each call is a single
// user-role message with no history.
type Responder struct {
	provider       Provider
	model          string
	maxTokens      int
	stripReasoning bool
	logger         *slog.Logger
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderModel overrides the provider's default model.
func WithResponderModel(model string) ResponderOption {
	return func(r *Responder) { r.model = model }
}

// WithResponderMaxTokens caps the reply length.
func WithResponderMaxTokens(n int) ResponderOption {
	return func(r *Responder) { r.maxTokens = n }
}

// WithStripReasoning toggles removal of <think> blocks. Default on.
func WithStripReasoning(on bool) ResponderOption {
	return func(r *Responder) { r.stripReasoning = on }
}

// WithResponderLogger sets the structured logger.
func WithResponderLogger(l *slog.Logger) ResponderOption {
	return func(r *Responder) { r.logger = l }
}

// NewResponder wraps a provider.
func NewResponder(p Provider, opts ...ResponderOption) *Responder {
	r := &Responder{
		provider:       p,
		stripReasoning: true,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "inference.responder")
	return r
}

// Generate returns the reply text for prompt.
func (r *Responder) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := r.provider.Chat(ctx, &ChatRequest{
		Messages:  []Message{NewUserMessage(prompt)},
		Model:     r.model,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(resp.Message.Content)
	if r.stripReasoning {
		reply = StripReasoning(reply)
	}
	if reply == "" {
		return "", WrapError(r.provider.Name(), ErrEmptyReply)
	}

	r.logger.Debug("reply generated",
		"provider", r.provider.Name(),
		"model", resp.Model,
		"latency_ms", resp.LatencyMs,
		"tokens", resp.Usage.TotalTokens,
	)
	return reply, nil
}
