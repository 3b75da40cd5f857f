// Package inference turns a transcript into a reply through an
// OpenAI-compatible chat completions endpoint.
//
// The package keeps chat completions behind a single Provider interface so
// LM Studio, Ollama, vLLM, llama.cpp server and OpenAI itself are
// interchangeable, and a Chain can fall back from a local server to a
// hosted one.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL("http://localhost:1234/v1"),
//	    inference.WithModel("llama-3.2-3b-instruct"),
//	)
//	defer client.Close()
//
//	responder := inference.NewResponder(client)
//	reply, _ := responder.Generate(ctx, "what time is it in Tokyo")
package inference

import "context"

// Provider is the unified chat interface.
// All implementations must satisfy this interface.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
