// Package app wires all hotword subsystems into a running application.
//
// The App struct owns the full lifecycle: New resolves resources, creates
// the detection backend and the journal, the Run* methods drive one of the
// three audio sources (files, microphone, network streams), and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithJournal, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/hotword/internal/config"
	"github.com/MrWong99/hotword/internal/health"
	"github.com/MrWong99/hotword/internal/journal"
	"github.com/MrWong99/hotword/internal/observe"
	"github.com/MrWong99/hotword/pkg/provider/detector"
	"github.com/MrWong99/hotword/pkg/resource"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	level    *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	bundle   *resource.Bundle
	backend  detector.Backend
	sessions *SessionManager
	journal  journal.Store
	metrics  *observe.Metrics
	health   *health.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a detection backend instead of creating one through
// the registry.
func WithBackend(b detector.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithRegistry sets the registry used to create the configured backend.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithJournal injects a detection journal instead of creating one from
// config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On failure
// everything created so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Resource bundle ───────────────────────────────────────────────
	if p := a.cfg.Engine.ResourcePath; p != "" {
		b, err := resource.Open(p)
		if err != nil {
			return fmt.Errorf("app: open resources: %w", err)
		}
		a.bundle = b
		a.closers = append(a.closers, b.Close)
		slog.Info("resource bundle opened", "path", p, "extracted_to", b.Dir())
	}

	// ── 2. Backend ───────────────────────────────────────────────────────
	if err := a.initBackend(); err != nil {
		return fmt.Errorf("app: init backend: %w", err)
	}

	// ── 3. Engine config + sessions ──────────────────────────────────────
	engine, err := EngineConfig(a.cfg, a.bundle)
	if err != nil {
		return err
	}
	if err := engine.Validate(); err != nil {
		return err
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Backend: a.backend,
		Engine:  engine,
		Metrics: a.metrics,
	})

	// ── 4. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return fmt.Errorf("app: init journal: %w", err)
	}

	// ── 5. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{{Name: "engine", Check: a.checkEngine}}
	if a.journal != nil {
		checkers = append(checkers, health.Checker{Name: "journal", Check: a.journal.Ping, Optional: true})
	}
	a.health = health.New(checkers...)
	if rep := a.health.Check(ctx); rep.Status != health.StatusOK {
		slog.Warn("startup checks not clean", "status", rep.Status, "checks", rep.Checks)
	}

	slog.Info("engine ready",
		"version", a.backend.Version(),
		"sample_rate", a.backend.SampleRate(),
		"frame_length", a.backend.FrameLength(),
		"keywords", a.sessions.Info().Keywords,
	)
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBackend creates the configured backend unless one was injected. A
// missing library path is filled from the resource bundle.
func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}
	entry := a.cfg.Engine
	if entry.LibraryPath == "" {
		if a.bundle == nil {
			return errors.New("engine.library_path or engine.resource_path is required")
		}
		lib, err := a.bundle.ExtractLibrary()
		if err != nil {
			return err
		}
		entry.LibraryPath = lib
	}

	b, err := a.registry.CreateBackend(entry)
	if err != nil {
		return err
	}
	a.backend = b
	if c, ok := b.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("backend created", "name", entry.Backend, "library", entry.LibraryPath)
	return nil
}

// initJournal opens the configured journal unless one was injected. With
// both a file and a DSN configured the database is primary and the file is
// the fallback; a database that is down at startup leaves only the file.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		a.closers = append(a.closers, a.journal.Close)
		return nil
	}

	jc := a.cfg.Journal
	var file *journal.FileStore
	if jc.Path != "" {
		file = journal.NewFileStore(jc.Path)
	}

	switch {
	case jc.PostgresDSN == "" && file == nil:
		return nil
	case jc.PostgresDSN == "":
		a.journal = file
		slog.Info("journal enabled", "path", jc.Path)
	default:
		pg, err := journal.NewPostgresStore(ctx, jc.PostgresDSN)
		switch {
		case err != nil && file == nil:
			return err
		case err != nil:
			slog.Warn("postgres journal unavailable, using file only", "path", jc.Path, "err", err)
			a.journal = file
		case file == nil:
			a.journal = pg
			slog.Info("journal enabled", "store", "postgres")
		default:
			a.journal = journal.NewFailoverStore(
				journal.NamedStore{Name: "postgres", Store: pg},
				journal.NamedStore{Name: "file", Store: file},
			)
			slog.Info("journal enabled", "store", "postgres", "fallback", jc.Path)
		}
	}
	a.closers = append(a.closers, a.journal.Close)
	return nil
}

func (a *App) checkEngine(context.Context) error {
	cfg := a.sessions.Engine()
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	for _, p := range cfg.KeywordPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("keyword: %w", err)
		}
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Backend returns the detection backend.
func (a *App) Backend() detector.Backend { return a.backend }

// Journal returns the detection journal, or nil when none is configured.
func (a *App) Journal() journal.Store { return a.journal }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies a reloaded config. The log level and the keyword set
// change immediately; new keywords affect sessions opened afterwards.
// Changes to the backend, library or resource bundle need a restart.
func (a *App) ApplyConfig(cfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	old := a.cfg.Engine
	if old.Backend != cfg.Engine.Backend || old.LibraryPath != cfg.Engine.LibraryPath || old.ResourcePath != cfg.Engine.ResourcePath {
		slog.Warn("engine backend, library or resource changes take effect only after restart")
		return
	}
	if !diff.EngineChanged && !diff.KeywordsChanged {
		a.cfg = cfg
		return
	}

	engine, err := EngineConfig(cfg, a.bundle)
	if err == nil {
		err = a.sessions.SetEngine(engine)
	}
	if err != nil {
		slog.Error("keeping previous engine config", "err", err)
		return
	}
	a.cfg = cfg
	for _, kd := range diff.KeywordChanges {
		slog.Info("keyword changed",
			"label", kd.Label,
			"added", kd.Added,
			"removed", kd.Removed,
			"source_changed", kd.SourceChanged,
			"sensitivity_changed", kd.SensitivityChanged,
		)
	}
}

// slogLevel maps a config log level to its slog equivalent.
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

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases every subsystem in reverse creation order. Open
// sessions must be closed first; the native backend refuses to unload
// while engine instances are alive. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.sessions != nil {
			if open := a.sessions.Active(); len(open) > 0 {
				slog.Warn("shutting down with open sessions", "count", len(open))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("shutdown: closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
