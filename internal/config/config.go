// Package config loads voiceloop settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
)

// Environment variables read by Load.
const (
	EnvConfigPath   = "VOICELOOP_CONFIG"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvChatURL      = "VOICELOOP_CHAT_URL"
	EnvChatModel    = "VOICELOOP_CHAT_MODEL"
	EnvSTTURL       = "VOICELOOP_STT_URL"
	EnvSTTModel     = "VOICELOOP_STT_MODEL"
	EnvGoogleKey    = "GOOGLE_API_KEY"
	EnvTTSProvider  = "VOICELOOP_TTS_PROVIDER"
	EnvLanguage     = "VOICELOOP_LANGUAGE"
	EnvLogLevel     = "VOICELOOP_LOG_LEVEL"
	EnvHTTPAddr     = "VOICELOOP_HTTP_ADDR"
	DefaultEnvFile  = ".env"
	DefaultHTTPAddr = "127.0.0.1:8089"
)

// Chat providers.
const (
	ChatClient = "client" // plain chat-completions HTTP client
	ChatOpenAI = "openai" // go-openai SDK
)

// TTS providers.
const (
	TTSGoogle = "google"
	TTSOpenAI = "openai"
	TTSMock   = "mock"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Audio      audioio.Config   `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Segment    segment.Config   `yaml:"segment"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Chat       ChatConfig       `yaml:"chat"`
	TTS        TTSConfig        `yaml:"tts"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Session    SessionConfig    `yaml:"session"`
	Web        WebConfig        `yaml:"web"`
}

// VADConfig tunes the voice activity classifier.
type VADConfig struct {
	// Sensitivity 0 (permissive) to 3 (strict).
	Sensitivity int `yaml:"sensitivity"`
	// ThresholdDBFS overrides the level floor of the sensitivity profile when non-zero.
	ThresholdDBFS float64 `yaml:"threshold_dbfs"`
}

// TranscribeConfig selects the speech-to-text backend and transcript filters.
type TranscribeConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Prompt   string        `yaml:"prompt"`
	Timeout  time.Duration `yaml:"timeout"`

	// Transcripts starting with one of these are dropped as recognizer noise.
	ArtifactPrefixes []string `yaml:"artifact_prefixes"`
	// Regular expressions for the same purpose.
	ArtifactPatterns []string `yaml:"artifact_patterns"`
}

// ChatConfig selects the response backend.
type ChatConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	// StripReasoning removes <think> blocks before the reply is spoken.
	StripReasoning bool `yaml:"strip_reasoning"`

	// FallbackOpenAI adds the OpenAI API behind the primary when a key is set.
	FallbackOpenAI bool `yaml:"fallback_openai"`
}

// TTSConfig selects the speech output backend.
type TTSConfig struct {
	Provider        string        `yaml:"provider"`
	Fallback        string        `yaml:"fallback"`
	APIKey          string        `yaml:"api_key"`
	CredentialsFile string        `yaml:"credentials_file"`
	Voice           string        `yaml:"voice"`
	Model           string        `yaml:"model"`
	SpeakingRate    float64       `yaml:"speaking_rate"`
	Language        string        `yaml:"language"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PlaybackConfig tunes the speaker output.
type PlaybackConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	Buffer     time.Duration `yaml:"buffer"`
}

// SessionConfig tunes the controller.
type SessionConfig struct {
	StartRecording bool `yaml:"start_recording"`
	History        int  `yaml:"history"`
	Keyboard       bool `yaml:"keyboard"`
}

// WebConfig controls the HTTP surface. An empty Addr disables it.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio:    audioio.DefaultConfig(),
		VAD:      VADConfig{Sensitivity: 3},
		Segment:  segment.DefaultConfig(),
		Transcribe: TranscribeConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "whisper-1",
			Language:         "en",
			Timeout:          60 * time.Second,
			ArtifactPrefixes: []string{"Subtitle Editor"},
		},
		Chat: ChatConfig{
			Provider:       ChatClient,
			BaseURL:        "http://localhost:1234/v1",
			Model:          "local-model",
			MaxTokens:      512,
			Temperature:    0.7,
			Timeout:        60 * time.Second,
			StripReasoning: true,
		},
		TTS: TTSConfig{
			Provider:     TTSGoogle,
			SpeakingRate: 1.0,
			Language:     "en",
			Timeout:      30 * time.Second,
		},
		Playback: PlaybackConfig{
			SampleRate: 44100,
			Buffer:     50 * time.Millisecond,
		},
		Session: SessionConfig{
			History:  100,
			Keyboard: true,
		},
		Web: WebConfig{Addr: DefaultHTTPAddr},
	}
}

// Load builds the configuration. The .env files (DefaultEnvFile when none
// are given) are loaded first and never override variables already set.
// path falls back to $VOICELOOP_CONFIG; a missing file means defaults.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if key := os.Getenv(EnvOpenAIKey); key != "" {
		if c.Transcribe.APIKey == "" {
			c.Transcribe.APIKey = key
		}
		if c.Chat.APIKey == "" {
			c.Chat.APIKey = key
		}
		if c.TTS.Provider == TTSOpenAI && c.TTS.APIKey == "" {
			c.TTS.APIKey = key
		}
	}
	setString(&c.Chat.BaseURL, EnvChatURL)
	setString(&c.Chat.Model, EnvChatModel)
	setString(&c.Transcribe.BaseURL, EnvSTTURL)
	setString(&c.Transcribe.Model, EnvSTTModel)
	setString(&c.TTS.Provider, EnvTTSProvider)
	if key := os.Getenv(EnvGoogleKey); key != "" && c.TTS.Provider == TTSGoogle {
		c.TTS.APIKey = key
	}
	if lang := os.Getenv(EnvLanguage); lang != "" {
		c.Transcribe.Language = lang
		c.TTS.Language = lang
	}
	setString(&c.LogLevel, EnvLogLevel)
	if addr, ok := os.LookupEnv(EnvHTTPAddr); ok {
		c.Web.Addr = addr
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// OpenAIKey returns the key for OpenAI-backed fallbacks.
func (c *Config) OpenAIKey() string {
	return os.Getenv(EnvOpenAIKey)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("config: audio: %w", err)
	}
	if c.VAD.Sensitivity < 0 || c.VAD.Sensitivity > 3 {
		return fmt.Errorf("config: vad: sensitivity must be 0-3, got %d", c.VAD.Sensitivity)
	}
	if err := c.Segment.Validate(); err != nil {
		return fmt.Errorf("config: segment: %w", err)
	}
	if strings.TrimSpace(c.Transcribe.BaseURL) == "" {
		return errors.New("config: transcribe: base_url is required")
	}
	switch c.Chat.Provider {
	case ChatClient, ChatOpenAI:
	default:
		return fmt.Errorf("config: chat: unknown provider %q", c.Chat.Provider)
	}
	if c.Chat.Provider == ChatClient && strings.TrimSpace(c.Chat.BaseURL) == "" {
		return errors.New("config: chat: base_url is required")
	}
	if !validTTS(c.TTS.Provider) {
		return fmt.Errorf("config: tts: unknown provider %q", c.TTS.Provider)
	}
	if c.TTS.Fallback != "" && !validTTS(c.TTS.Fallback) {
		return fmt.Errorf("config: tts: unknown fallback %q", c.TTS.Fallback)
	}
	if c.TTS.SpeakingRate <= 0 {
		return fmt.Errorf("config: tts: speaking_rate must be positive, got %v", c.TTS.SpeakingRate)
	}
	if c.Playback.SampleRate <= 0 {
		return fmt.Errorf("config: playback: sample_rate must be positive, got %d", c.Playback.SampleRate)
	}
	return nil
}

func validTTS(p string) bool {
	switch p {
	case TTSGoogle, TTSOpenAI, TTSMock:
		return true
	}
	return false
}

// Redacted returns a copy with secrets masked, for printing.
func (c *Config) Redacted() *Config {
	out := *c
	out.Transcribe.APIKey = mask(c.Transcribe.APIKey)
	out.Chat.APIKey = mask(c.Chat.APIKey)
	out.TTS.APIKey = mask(c.TTS.APIKey)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-2:]
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
