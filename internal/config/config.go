// Package config provides the configuration schema, loader, file watcher and
// provider registry for the dictaform server.
package config

import "time"

// LogLevel controls log verbosity.
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

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Engine    EngineConfig    `yaml:"engine"`
	Mapper    MapperConfig    `yaml:"mapper"`
}

// ServerConfig holds network, session and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, receives a copy of the log output. The file is
	// rotated by size.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins are host patterns accepted for WebSocket upgrades in
	// addition to same-origin requests. "*" accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxSessions caps concurrent dictation sessions. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout closes a session that received no message for this long.
	// 0 disables the timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation serves each
// network collaborator. Names are looked up in the [Registry].
type ProvidersConfig struct {
	// STT streams client audio to a speech recogniser. Optional: clients may
	// send transcripts themselves.
	STT ProviderEntry `yaml:"stt"`

	// STTFallback lists providers tried in order when STT fails.
	STTFallback []ProviderEntry `yaml:"stt_fallback"`

	// LLM backs the free-text mapper. Optional.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback lists providers tried in order when LLM fails.
	LLMFallback []ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. It may
	// reference the environment, e.g. "${DEEPGRAM_API_KEY}".
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// EngineConfig tunes the dictation engine.
type EngineConfig struct {
	// MinPreviewChars is the minimum accumulated length that produces an
	// update. Default: 5.
	MinPreviewChars int `yaml:"min_preview_chars"`

	// FinalizeWords replace the default words that close the active field.
	FinalizeWords []string `yaml:"finalize_words"`

	// CatalogFile is an extra catalog YAML document merged onto the
	// embedded catalog.
	CatalogFile string `yaml:"catalog_file"`

	// ManualMappings add explicit phrase to field mappings to every form.
	ManualMappings map[string]string `yaml:"manual_mappings"`

	// PhoneticCorrection rewrites misheard vocabulary in final transcripts
	// before they reach the engine.
	PhoneticCorrection bool `yaml:"phonetic_correction"`

	// KeywordBoostLimit caps the recognition hints sent to the STT provider.
	// Default: 100.
	KeywordBoostLimit int `yaml:"keyword_boost_limit"`
}

// MapperConfig tunes the LLM free-text mapper.
type MapperConfig struct {
	// Enabled turns the mapper on. It also needs providers.llm.
	Enabled bool `yaml:"enabled"`

	Timeout time.Duration `yaml:"timeout"`

	// CacheSize bounds the answer cache. Negative disables caching.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	// PromptsFile replaces the embedded prompt set.
	PromptsFile string `yaml:"prompts_file"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors the circuit breaker knobs. Zero values select the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8000"
	DefaultMinPreviewChars   = 5
	DefaultKeywordBoostLimit = 100
	DefaultMapperTimeout     = 4 * time.Second
	DefaultMapperCacheSize   = 256
	DefaultMapperCacheTTL    = 10 * time.Minute
	DefaultLogMaxSizeMB      = 50
	DefaultLogMaxBackups     = 5
	DefaultLogMaxAgeDays     = 14
)

// ApplyDefaults fills zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogMaxSizeMB == 0 {
		cfg.Server.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Server.LogMaxBackups == 0 {
		cfg.Server.LogMaxBackups = DefaultLogMaxBackups
	}
	if cfg.Server.LogMaxAgeDays == 0 {
		cfg.Server.LogMaxAgeDays = DefaultLogMaxAgeDays
	}
	if cfg.Engine.MinPreviewChars == 0 {
		cfg.Engine.MinPreviewChars = DefaultMinPreviewChars
	}
	if cfg.Engine.KeywordBoostLimit == 0 {
		cfg.Engine.KeywordBoostLimit = DefaultKeywordBoostLimit
	}
	if cfg.Mapper.Timeout == 0 {
		cfg.Mapper.Timeout = DefaultMapperTimeout
	}
	if cfg.Mapper.CacheSize == 0 {
		cfg.Mapper.CacheSize = DefaultMapperCacheSize
	}
	if cfg.Mapper.CacheTTL == 0 {
		cfg.Mapper.CacheTTL = DefaultMapperCacheTTL
	}
}
