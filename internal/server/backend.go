package server

import (
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/nordlicht-labs/mayday/internal/agent"
	"github.com/nordlicht-labs/mayday/internal/bridge"
	"github.com/nordlicht-labs/mayday/internal/bridge/pipeline"
	"github.com/nordlicht-labs/mayday/internal/bridge/realtime"
	"github.com/nordlicht-labs/mayday/internal/config"
	"github.com/nordlicht-labs/mayday/internal/geo"
	"github.com/nordlicht-labs/mayday/internal/observe"
	"github.com/nordlicht-labs/mayday/internal/resilience"
	"github.com/nordlicht-labs/mayday/pkg/provider/stt/whisper"
	"github.com/nordlicht-labs/mayday/pkg/provider/tts/elevenlabs"
)

// configFactory returns the BackendFactory for the configured bridge mode.
// Provider credentials are validated lazily per call: the webhook already
// consulted [config.Config.BackendReady], so a factory error here means
// the configuration changed underneath a live deployment.
func configFactory(cfg *config.Config, log *slog.Logger, metrics *observe.Metrics) BackendFactory {
	switch cfg.Bridge.Mode {
	case config.ModeRealtime:
		return func() (bridge.Backend, error) {
			return realtimeBackend(cfg, log), nil
		}
	case config.ModePipeline:
		return func() (bridge.Backend, error) {
			return pipelineBackend(cfg, log, metrics)
		}
	default:
		return func() (bridge.Backend, error) {
			return nil, fmt.Errorf("server: unknown bridge mode %q", cfg.Bridge.Mode)
		}
	}
}

func realtimeBackend(cfg *config.Config, log *slog.Logger) *realtime.Backend {
	opts := []realtime.Option{realtime.WithLogger(log)}
	entry := cfg.Providers.OpenAI
	if entry.Model != "" {
		opts = append(opts, realtime.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, realtime.WithBaseURL(entry.BaseURL))
	}
	if entry.Voice != "" {
		opts = append(opts, realtime.WithVoice(entry.Voice))
	}
	return realtime.New(entry.APIKey, opts...)
}

func pipelineBackend(cfg *config.Config, log *slog.Logger, metrics *observe.Metrics) (*pipeline.Backend, error) {
	var sttOpts []whisper.Option
	if cfg.Providers.OpenAI.Model != "" {
		sttOpts = append(sttOpts, whisper.WithModel(cfg.Providers.OpenAI.Model))
	}
	if cfg.Providers.OpenAI.BaseURL != "" {
		sttOpts = append(sttOpts, whisper.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
	}
	sttP, err := whisper.New(cfg.Providers.OpenAI.APIKey, sttOpts...)
	if err != nil {
		return nil, fmt.Errorf("server: create whisper provider: %w", err)
	}

	var ttsOpts []elevenlabs.Option
	if cfg.Providers.ElevenLabs.Model != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithModel(cfg.Providers.ElevenLabs.Model))
	}
	if cfg.Providers.ElevenLabs.Voice != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithVoice(cfg.Providers.ElevenLabs.Voice))
	}
	if cfg.Providers.ElevenLabs.BaseURL != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithBaseURL(cfg.Providers.ElevenLabs.BaseURL))
	}
	ttsP, err := elevenlabs.New(cfg.Providers.ElevenLabs.APIKey, ttsOpts...)
	if err != nil {
		return nil, fmt.Errorf("server: create elevenlabs provider: %w", err)
	}

	llmBackend, err := llmBackendFor(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}

	var geocoder geo.Geocoder
	if cfg.Providers.Geocoding.APIKey != "" {
		gopts := []geo.Option{}
		if cfg.Providers.Geocoding.BaseURL != "" {
			gopts = append(gopts, geo.WithEndpoint(cfg.Providers.Geocoding.BaseURL))
		}
		geocoder = geo.NewGoogle(cfg.Providers.Geocoding.APIKey, gopts...)
	}

	dialogue, err := agent.New(llmBackend, cfg.Providers.LLM.Model, geocoder, log)
	if err != nil {
		return nil, fmt.Errorf("server: create dialogue agent: %w", err)
	}

	// Circuit breakers keep a failing provider from being hammered on
	// every turn of every live call.
	transcriber := resilience.NewSTT("whisper", sttP, resilience.BreakerConfig{})
	synth := resilience.NewTTS("elevenlabs", ttsP, resilience.BreakerConfig{})
	converser := resilience.NewDialogue(cfg.Providers.LLM.Name, dialogue, resilience.BreakerConfig{})

	pOpts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithMetrics(metrics),
	}
	if cfg.Bridge.Greeting != "" {
		pOpts = append(pOpts, pipeline.WithGreeting(cfg.Bridge.Greeting))
	}
	if cfg.Bridge.ClosingLine != "" {
		pOpts = append(pOpts, pipeline.WithClosingLine(cfg.Bridge.ClosingLine))
	}
	return pipeline.New(transcriber, synth, converser, pOpts...)
}

// llmBackendFor constructs the any-llm-go provider named in the config.
func llmBackendFor(entry config.LLMEntry) (anyllmlib.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(entry.Name) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	case "mistral":
		backend, err = mistral.New(opts...)
	case "groq":
		backend, err = groq.New(opts...)
	default:
		return nil, fmt.Errorf("server: unsupported llm provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", entry.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("server: create %q llm backend: %w", entry.Name, err)
	}
	return backend, nil
}
