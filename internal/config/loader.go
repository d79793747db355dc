package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"translate":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"tts":        {"edge"},
	"transcript": {"youtube"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("transcript", cfg.Providers.Transcript.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.Translate.Name == "" && cfg.Providers.LLM.Name == "" {
		slog.Warn("no translate or llm provider configured; only same-language dubs will work")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no tts provider configured; segment synthesis will fail")
	}

	// Cache
	if cfg.Cache.PrefetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("cache.prefetch_concurrency %d must not be negative", cfg.Cache.PrefetchConcurrency))
	}

	// Sessions
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must not be negative", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.IdleTTLMinutes < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_ttl_minutes %d must not be negative", cfg.Sessions.IdleTTLMinutes))
	}

	// Embeddings ↔ QA dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.QA.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but qa.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.QA.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("qa.postgres_dsn is set but providers.embeddings is not configured"))
	}
	if cfg.QA.PostgresDSN == "" && cfg.Providers.Embeddings.Name != "" {
		slog.Warn("qa.postgres_dsn is empty; transcript question answering will not be available")
	}

	// Voice overrides
	for lang, voice := range cfg.Voices {
		if lang == "" {
			errs = append(errs, errors.New("voices contains an empty language code"))
		}
		if voice == "" {
			errs = append(errs, fmt.Errorf("voices[%q] has an empty voice identifier", lang))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
