package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// Missing backend credentials are a warning, not an error: the server
// still starts and the voice webhook answers with the static spoken
// fallback (see [Config.BackendReady]).
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("server.listen_addr is required"))
	}
	if cfg.Server.PublicHost == "" {
		errs = append(errs, fmt.Errorf("server.public_host is required to build the stream URL"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
		errs = append(errs, fmt.Errorf("telephony.account_sid and telephony.auth_token are required"))
	}

	if cfg.Bridge.Mode == "" {
		errs = append(errs, fmt.Errorf("bridge.mode is required; valid values: realtime, pipeline"))
	} else if !cfg.Bridge.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("bridge.mode %q is invalid; valid values: realtime, pipeline", cfg.Bridge.Mode))
	}
	if cfg.Bridge.EchoCooldownMs < 0 {
		errs = append(errs, fmt.Errorf("bridge.echo_cooldown_ms must not be negative"))
	}

	if cfg.Bridge.Mode.IsValid() && !cfg.BackendReady() {
		slog.Warn("selected backend is missing credentials; callers will hear the static fallback",
			"mode", cfg.Bridge.Mode,
		)
	}
	if cfg.Cases.PostgresDSN == "" {
		slog.Warn("cases.postgres_dsn is empty; case creation will be rejected")
	}

	return errors.Join(errs...)
}
