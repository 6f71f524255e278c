// Package app wires the dictaform subsystems into a running server.
//
// The App struct owns the full lifecycle: New loads the catalog and builds
// the mapper and validator, Run serves HTTP until its context ends, and
// Shutdown tears the remaining subsystems down in order.
//
// Every WebSocket connection on /ws/voice-stream gets its own dictation
// session; sessions share only the immutable catalog and the mapper.
// POST /api/biowel/audio/process fills a form from a complete recording.
//
// For testing, inject mock providers through [Providers] and replace
// subsystems with functional options (WithCatalog, WithMetrics, ...).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/config"
	"github.com/MrWong99/dictaform/internal/engine"
	"github.com/MrWong99/dictaform/internal/health"
	"github.com/MrWong99/dictaform/internal/mapper"
	"github.com/MrWong99/dictaform/internal/observe"
	"github.com/MrWong99/dictaform/internal/resilience"
	"github.com/MrWong99/dictaform/internal/validate"
	"github.com/MrWong99/dictaform/pkg/provider/llm"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

// shutdownGrace bounds how long Run waits for in-flight requests after its
// context ends.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM backs the free-text mapper.
	LLM llm.Provider

	// STT transcribes client audio. Without it clients must send transcript
	// messages themselves.
	STT stt.Provider
}

// healthReporter is implemented by providers that track their own
// availability, such as the resilience fallback groups.
type healthReporter interface {
	Healthy() bool
}

// settings is the hot-reloadable part of the engine configuration. A new
// value is stored on every config change; sessions read it when a form is
// configured.
type settings struct {
	minPreviewChars   int
	finalizeWords     []string
	manualMappings    map[string]string
	phonetic          bool
	keywordBoostLimit int
	idleTimeout       time.Duration
}

func newSettings(cfg *config.Config) *settings {
	return &settings{
		minPreviewChars:   cfg.Engine.MinPreviewChars,
		finalizeWords:     cfg.Engine.FinalizeWords,
		manualMappings:    cfg.Engine.ManualMappings,
		phonetic:          cfg.Engine.PhoneticCorrection,
		keywordBoostLimit: cfg.Engine.KeywordBoostLimit,
		idleTimeout:       cfg.Server.IdleTimeout,
	}
}

func (s *settings) engineOptions(log *slog.Logger) []engine.Option {
	opts := []engine.Option{engine.WithLogger(log)}
	if s.minPreviewChars > 0 {
		opts = append(opts, engine.WithMinPreviewChars(s.minPreviewChars))
	}
	if len(s.finalizeWords) > 0 {
		opts = append(opts, engine.WithFinalizeWords(s.finalizeWords))
	}
	if len(s.manualMappings) > 0 {
		opts = append(opts, engine.WithManualMappings(s.manualMappings))
	}
	return opts
}

// App owns all subsystem lifetimes and serves the dictation protocol.
type App struct {
	// cfg is the startup configuration. Only the sections that need a
	// restart are read from it after New.
	cfg       *config.Config
	providers Providers
	accept    *websocket.AcceptOptions

	// catalogFile is the catalog source in effect. Only ApplyConfig
	// changes it.
	catalogFile string

	catalog   atomic.Pointer[catalog.Catalog]
	settings  atomic.Pointer[settings]
	mapper    atomic.Pointer[mapper.Mapper]
	validator *validate.Validator
	health    *health.Handler
	sessions  *SessionManager
	metrics   *observe.Metrics
	telemetry *observe.Telemetry

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog injects a catalog instead of loading it from config.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog.Store(c) }
}

// WithMetrics injects the metric instruments. Ignored when telemetry is set.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves the telemetry's Prometheus handler on /metrics and
// records into its instruments. Its Shutdown runs as a closer.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// New creates an App from cfg. The providers struct comes from main.go
// (populated via the config registry).
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.telemetry != nil {
		a.metrics = a.telemetry.Metrics
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.telemetry.Shutdown(ctx)
		})
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.catalog.Load() == nil {
		c, err := loadCatalog(cfg.Engine.CatalogFile)
		if err != nil {
			return nil, err
		}
		a.catalog.Store(c)
	}
	a.catalogFile = cfg.Engine.CatalogFile
	a.settings.Store(newSettings(cfg))
	a.accept = acceptOptions(cfg.Server.AllowedOrigins)

	m, err := a.buildMapper(cfg)
	if err != nil {
		return nil, err
	}
	a.mapper.Store(m)

	a.validator = validate.New(validate.WithRules(validate.DilationRules))
	a.sessions = NewSessionManager(cfg.Server.MaxSessions, a.metrics)
	a.health = health.New(a.checkers()...)

	slog.Info("app initialised",
		"catalog_phrases", a.catalog.Load().Len(),
		"stt", providers.STT != nil,
		"mapper", m != nil,
	)
	return a, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read catalog file: %w", err)
	}
	c, err := catalog.New(data)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog %q: %w", path, err)
	}
	return c, nil
}

// buildMapper returns nil when the mapper is disabled or no LLM is
// configured.
func (a *App) buildMapper(cfg *config.Config) (*mapper.Mapper, error) {
	if !cfg.Mapper.Enabled || a.providers.LLM == nil {
		return nil, nil
	}
	log := slog.Default().With("component", "mapper")
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "mapper",
		MaxFailures:  cfg.Mapper.Breaker.MaxFailures,
		ResetTimeout: cfg.Mapper.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Mapper.Breaker.HalfOpenMax,
		Logger:       log,
	})
	opts := []mapper.Option{
		mapper.WithTimeout(cfg.Mapper.Timeout),
		mapper.WithCache(max(cfg.Mapper.CacheSize, 0), cfg.Mapper.CacheTTL),
		mapper.WithBreaker(breaker),
		mapper.WithLogger(log),
	}
	if path := cfg.Mapper.PromptsFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("app: open prompts file: %w", err)
		}
		defer f.Close()
		p, err := mapper.LoadPrompts(f)
		if err != nil {
			return nil, fmt.Errorf("app: load prompts %q: %w", path, err)
		}
		opts = append(opts, mapper.WithPrompts(p))
	}
	return mapper.New(a.providers.LLM, opts...), nil
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		{Name: "catalog", Check: func(context.Context) error {
			if a.catalog.Load().Len() == 0 {
				return errors.New("catalog is empty")
			}
			return nil
		}},
		{Name: "mapper", Check: func(context.Context) error {
			m := a.mapper.Load()
			if m != nil && !m.Healthy() {
				return fmt.Errorf("circuit breaker %s", m.BreakerState())
			}
			return nil
		}},
	}
	if hr, ok := a.providers.STT.(healthReporter); ok {
		checks = append(checks, health.Checker{Name: "stt", Check: func(context.Context) error {
			if !hr.Healthy() {
				return errors.New("all stt providers unavailable")
			}
			return nil
		}})
	}
	return checks
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the HTTP handler serving the WebSocket endpoint, batch
// recording uploads, the session list, health checks and, with telemetry,
// /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/voice-stream", a.serveVoiceStream)
	mux.HandleFunc("GET /sessions", a.serveSessions)
	mux.HandleFunc("POST /api/biowel/audio/process", a.serveBatch)
	a.health.Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler)
	}
	return observe.Middleware(a.metrics)(mux)
}

func acceptOptions(origins []string) *websocket.AcceptOptions {
	if slices.Contains(origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: origins}
}

func (a *App) serveVoiceStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id, err := a.sessions.Start(r.RemoteAddr, cancel)
	if err != nil {
		slog.Warn("app: rejecting connection", "remote_addr", r.RemoteAddr, "err", err)
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}
	defer a.sessions.Stop(id)

	conn, err := websocket.Accept(w, r, a.accept)
	if err != nil {
		slog.Warn("app: websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	sess := newSession(ctx, a, id, conn)
	err = sess.run(ctx)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errIdle):
		slog.Info("app: closing idle session", "session_id", id)
		conn.Close(websocket.StatusPolicyViolation, "idle timeout")
	case ctx.Err() != nil:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		slog.Warn("app: session ended with error", "session_id", id, "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
	sess.wait()
}

func (a *App) serveSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.sessions.List()); err != nil {
		slog.Warn("app: encode session list", "err", err)
	}
}

// ApplyConfig applies the hot-reloadable parts of cfg described by d.
// Running sessions keep their settings until they configure a new form.
// It must not be called concurrently with itself.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) error {
	if d.EngineChanged {
		if cfg.Engine.CatalogFile != a.catalogFile {
			c, err := loadCatalog(cfg.Engine.CatalogFile)
			if err != nil {
				return err
			}
			a.catalog.Store(c)
			a.catalogFile = cfg.Engine.CatalogFile
		}
		a.settings.Store(newSettings(cfg))
		slog.Info("app: engine settings updated")
	}
	if d.MapperChanged {
		m, err := a.buildMapper(cfg)
		if err != nil {
			return err
		}
		a.mapper.Store(m)
		slog.Info("app: mapper rebuilt", "enabled", m != nil)
	}
	return nil
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains: readiness turns to 503, sessions are closed and the server shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It closes ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tls := a.cfg.Server.TLS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app running", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		a.sessions.CloseAll()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.sessions.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
