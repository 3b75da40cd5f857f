package transcribe

import (
	"log/slog"
	"time"
)

// Config holds transcription backend configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Connection
	BaseURL string // OpenAI-compatible API base URL
	APIKey  string // optional for local servers

	// Request
	Model    string
	Language string // ISO-639-1, empty lets the server detect
	Prompt   string

	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the transcriber.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://api.openai.com/v1", "http://localhost:8000/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets the spoken language hint.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithPrompt sets a decoding prompt (vocabulary hints).
func WithPrompt(prompt string) Option {
	return func(c *Config) { c.Prompt = prompt }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns defaults for a Whisper-compatible server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "https://api.openai.com/v1",
		Model:    "whisper-1",
		Language: "en",
		Timeout:  60 * time.Second,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
