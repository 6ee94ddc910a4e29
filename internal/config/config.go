// Package config provides the configuration schema and loader for the
// Mayday voice bridge.
package config

// LogLevel controls log verbosity for the Mayday server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendMode selects the speech-AI backend for bridged calls.
type BackendMode string

const (
	// ModeRealtime holds one continuous speech-to-speech connection per call.
	ModeRealtime BackendMode = "realtime"

	// ModePipeline runs silence-triggered transcription, dialogue and
	// synthesis per turn.
	ModePipeline BackendMode = "pipeline"
)

// IsValid reports whether m is a recognised backend mode.
func (m BackendMode) IsValid() bool {
	return m == ModeRealtime || m == ModePipeline
}

// Config is the root configuration structure for Mayday.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Providers ProvidersConfig `yaml:"providers"`
	Cases     CasesConfig     `yaml:"cases"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicHost is the externally reachable host of this server, used to
	// build the wss:// stream URL handed to the telephony provider
	// (e.g., "mayday.example.com").
	PublicHost string `yaml:"public_host"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TelephonyConfig holds the Twilio REST credentials used for the
// out-of-band end-call operation.
type TelephonyConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
}

// BridgeConfig selects and tunes the speech-AI backend.
type BridgeConfig struct {
	// Mode selects the backend variant.
	Mode BackendMode `yaml:"mode"`

	// Greeting overrides the pipeline backend's opening line.
	Greeting string `yaml:"greeting"`

	// ClosingLine overrides the line spoken after a case is created.
	ClosingLine string `yaml:"closing_line"`

	// EchoCooldownMs overrides the echo-suppression window. Zero keeps
	// the default.
	EchoCooldownMs int `yaml:"echo_cooldown_ms"`
}

// ProvidersConfig holds per-provider credentials and model selections.
type ProvidersConfig struct {
	// OpenAI backs the realtime session and Whisper transcription.
	OpenAI ProviderEntry `yaml:"openai"`

	// ElevenLabs backs the pipeline variant's speech synthesis.
	ElevenLabs ProviderEntry `yaml:"elevenlabs"`

	// LLM backs the pipeline variant's dialogue model.
	LLM LLMEntry `yaml:"llm"`

	// Geocoding is the Google Geocoding API key. Optional; without it
	// locations stay unresolved text.
	Geocoding ProviderEntry `yaml:"geocoding"`
}

// ProviderEntry is the common configuration block shared by providers.
type ProviderEntry struct {
	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice selects a provider-specific voice identifier.
	Voice string `yaml:"voice"`
}

// LLMEntry selects the dialogue model for the pipeline backend.
type LLMEntry struct {
	// Name selects the any-llm-go provider (e.g., "gemini", "openai",
	// "anthropic", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier (e.g., "gemini-2.0-flash").
	Model string `yaml:"model"`
}

// CasesConfig holds settings for the case persistence store.
type CasesConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the case store.
	// Empty disables persistence; tool invocations are then rejected.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BackendReady reports whether the selected backend mode has the
// credentials it needs. The voice webhook answers with a static spoken
// fallback instead of a stream when this is false, so a misconfigured
// deployment never leaves a caller in silence.
func (c *Config) BackendReady() bool {
	switch c.Bridge.Mode {
	case ModeRealtime:
		return c.Providers.OpenAI.APIKey != ""
	case ModePipeline:
		return c.Providers.OpenAI.APIKey != "" &&
			c.Providers.ElevenLabs.APIKey != "" &&
			c.Providers.LLM.APIKey != "" && c.Providers.LLM.Model != ""
	}
	return false
}
