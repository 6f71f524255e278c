package config

import (
	"bytes"
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
	"llm": {"openai", "groq", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile", "mock"},
	"stt": {"deepgram", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout %s must not be negative", cfg.Server.IdleTimeout))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"server.log_max_size_mb", cfg.Server.LogMaxSizeMB},
		{"server.log_max_backups", cfg.Server.LogMaxBackups},
		{"server.log_max_age_days", cfg.Server.LogMaxAgeDays},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.STTFallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallback[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.LLMFallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallback[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.STTFallback) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallback requires providers.stt"))
	}
	if len(cfg.Providers.LLMFallback) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}

	// Engine
	if cfg.Engine.MinPreviewChars < 0 {
		errs = append(errs, fmt.Errorf("engine.min_preview_chars %d must not be negative", cfg.Engine.MinPreviewChars))
	}
	if cfg.Engine.KeywordBoostLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.keyword_boost_limit %d must not be negative", cfg.Engine.KeywordBoostLimit))
	}
	for phrase, target := range cfg.Engine.ManualMappings {
		if phrase == "" || target == "" {
			errs = append(errs, fmt.Errorf("engine.manual_mappings entry %q: %q needs both phrase and field", phrase, target))
		}
	}

	// Mapper
	if cfg.Mapper.Timeout < 0 {
		errs = append(errs, fmt.Errorf("mapper.timeout %s must not be negative", cfg.Mapper.Timeout))
	}
	if cfg.Mapper.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("mapper.cache_ttl %s must not be negative", cfg.Mapper.CacheTTL))
	}
	b := cfg.Mapper.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("mapper.breaker values must not be negative"))
	}

	if cfg.Mapper.Enabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("config: mapper.enabled without providers.llm; free-text mapping stays off")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("config: providers.stt is empty; clients must send transcripts instead of audio")
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
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
