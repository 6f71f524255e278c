// Command dictaform is the entry point for the dictaform voice-to-form server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/dictaform/internal/app"
	"github.com/MrWong99/dictaform/internal/config"
	"github.com/MrWong99/dictaform/internal/observe"
	"github.com/MrWong99/dictaform/internal/resilience"
	"github.com/MrWong99/dictaform/pkg/provider/llm"
	"github.com/MrWong99/dictaform/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/dictaform/pkg/provider/llm/mock"
	"github.com/MrWong99/dictaform/pkg/provider/llm/openai"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
	"github.com/MrWong99/dictaform/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/dictaform/pkg/provider/stt/mock"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dictaform: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dictaform: %v\n", err)
		}
		return 1
	}

	// The log level is swapped on hot reload.
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger, closeLog := newLogger(&level, cfg.Server)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("dictaform starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers, app.WithTelemetry(tel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if err := application.ApplyConfig(new, d); err != nil {
			slog.Error("failed to apply config change", "err", err)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMBackends share the same pattern: optional APIKey + optional BaseURL.
var anyLLMBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai also serves any OpenAI-compatible endpoint through BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if mode, ok := entry.Options["json_mode"].(bool); ok && !mode {
			opts = append(opts, openai.WithoutJSONMode())
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// mock answers every prompt with no mappings. For local development.
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{
			ModelName:        entry.Model,
			CompleteResponse: &llm.CompletionResponse{Content: `{"mappings":[]}`},
		}, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "endpointing"); d > 0 {
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		if d := optDuration(entry.Options, "utterance_end"); d > 0 {
			opts = append(opts, deepgram.WithUtteranceEnd(d))
		}
		if u := optString(entry.Options, "batch_url"); u != "" {
			opts = append(opts, deepgram.WithBatchEndpoint(u))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// mock accepts audio and never transcribes. For protocol testing.
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "stt", reg.STTNames())
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Fallback entries wrap the primary in a resilience fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	var ps app.Providers

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return ps, err
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		if len(cfg.Providers.LLMFallback) > 0 {
			fb := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, e := range cfg.Providers.LLMFallback {
				alt, err := reg.CreateLLM(e)
				if err != nil {
					return ps, fmt.Errorf("llm fallback: %w", err)
				}
				fb.AddFallback(e.Name, alt)
				slog.Info("fallback provider added", "kind", "llm", "name", e.Name)
			}
			p = fb
		}
		ps.LLM = p
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return ps, err
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
		if len(cfg.Providers.STTFallback) > 0 {
			fb := resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{})
			for _, e := range cfg.Providers.STTFallback {
				alt, err := reg.CreateSTT(e)
				if err != nil {
					return ps, fmt.Errorf("stt fallback: %w", err)
				}
				fb.AddFallback(e.Name, alt)
				slog.Info("fallback provider added", "kind", "stt", "name", e.Name)
			}
			p = fb
		}
		ps.STT = p
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger logs to stderr and, when a log file is configured, to a
// size-rotated copy of it. The returned func closes the file.
func newLogger(level slog.Leveler, sc config.ServerConfig) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if sc.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   sc.LogFile,
			MaxSize:    sc.LogMaxSizeMB,
			MaxBackups: sc.LogMaxBackups,
			MaxAge:     sc.LogMaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closeFn = func() { _ = lj.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration option written either as a Go duration
// string ("300ms") or as a number of milliseconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return 0
}
