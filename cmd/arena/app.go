package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wasm-arena/internal/adapter/audit"
	"wasm-arena/internal/adapter/llm"
	"wasm-arena/internal/adapter/store"
	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/infra/tracer"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/plugin/wasm"
	"wasm-arena/internal/usecase/eventbus"
	"wasm-arena/internal/usecase/match"
	"wasm-arena/internal/usecase/scheduling"
)

// app holds the components shared by serve and play.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	audit     *audit.FileLogger      // nil when the trail is off
	store     *store.SQLiteGameStore // nil when persistence is off
	rt        *wasm.Runtime
	registry  *plugin.Registry
	loader    *plugin.Loader
	providers *llm.Registry
	matches   *match.Service

	closers []func(context.Context) error
}

// appOptions selects optional components.
type appOptions struct {
	persist bool // open the SQLite store and restore saved games
}

// newApp wires config -> logger -> tracer -> bus -> audit -> store ->
// runtime -> loader -> providers -> match service. On error everything already
// opened is closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.onClose(func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.onClose(tracerShutdown)

	a.bus = eventbus.New(log)
	a.onClose(func(context.Context) error { a.bus.Close(); return nil })

	if cfg.Audit.Path != "" {
		maxSize, err := config.ParseSize(cfg.Audit.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		trail, err := audit.NewFileLogger(cfg.Audit.Path,
			audit.RetentionPolicy{MaxAge: cfg.Audit.MaxAge, MaxSize: maxSize}, log)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		a.audit = trail
		detach := trail.Attach(a.bus)
		a.onClose(func(context.Context) error { detach(); return trail.Close() })
	}

	var gameStore domain.GameStore
	if opts.persist && cfg.Store.Path != "" {
		s, err := store.NewSQLiteGameStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		a.store = s
		gameStore = s
		a.onClose(func(context.Context) error { return s.Close() })
	}

	a.rt, err = wasm.NewRuntime(ctx, wasm.RuntimeConfigFrom(cfg.Runtime), log, a.bus)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	a.onClose(a.rt.Close)

	a.registry = plugin.NewRegistry()
	a.loader = plugin.NewLoader(a.rt, a.registry, gameStore, a.bus, log)
	a.onClose(a.loader.Shutdown)

	a.providers, err = llm.BuildRegistry(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	a.matches = match.NewService(match.ServiceDeps{
		Games:     a.registry,
		Providers: a.providers,
		Bus:       a.bus,
		Logger:    log,
		Match:     cfg.Match,
		Agent:     cfg.Agent,
	})
	a.onClose(a.matches.Shutdown)

	return a, nil
}

// restore reloads persisted games and scans the games directory.
func (a *app) restore(ctx context.Context) {
	if a.store != nil {
		n, err := a.loader.Restore(ctx)
		if err != nil {
			a.log.Error("restore games", "error", err)
		} else {
			a.log.Info("games restored", "count", n)
		}
	}
	if dir := a.cfg.Store.GamesDir; dir != "" {
		loaded, err := a.loader.LoadDirectory(ctx, dir)
		if err != nil {
			a.log.Error("load games dir", "dir", dir, "error", err)
			return
		}
		a.log.Info("games dir loaded", "dir", dir, "count", len(loaded))
	}
}

// schedule starts the configured maintenance tasks.
func (a *app) schedule(ctx context.Context) error {
	if len(a.cfg.Tasks) == 0 {
		return nil
	}
	s := scheduling.NewScheduler(a.log)
	s.RegisterAction(scheduling.ActionGamesRescan, func(ctx context.Context) error {
		if a.cfg.Store.GamesDir == "" {
			return nil
		}
		loaded, err := a.loader.LoadDirectory(ctx, a.cfg.Store.GamesDir)
		if len(loaded) > 0 {
			a.log.Info("new games loaded", "dir", a.cfg.Store.GamesDir, "count", len(loaded))
		}
		return err
	})
	if a.audit != nil {
		s.RegisterAction(scheduling.ActionAuditRetention, func(ctx context.Context) error {
			removed, err := a.audit.EnforceRetention(ctx)
			if removed > 0 {
				a.log.Info("audit entries expired", "count", removed)
			}
			return err
		})
	}
	for _, task := range scheduling.TasksFrom(a.cfg.Tasks) {
		if err := s.AddTask(task); err != nil {
			return err
		}
	}
	s.Start(ctx)
	a.onClose(s.Stop)
	return nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases components in reverse order of creation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
