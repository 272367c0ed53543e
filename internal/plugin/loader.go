package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tetratelabs/wazero"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/plugin/wasm"
)

// LoadedGame is a validated module registered in this process.
type LoadedGame struct {
	ID       string
	Metadata domain.GameMetadata
	Module   []byte
	Digest   string
	LoadedAt time.Time

	rt       *wasm.Runtime
	compiled wazero.CompiledModule
	engine   *wasm.Engine
	logger   *slog.Logger
}

// Engine returns the game's resident engine. Matches should use Spawn.
func (g *LoadedGame) Engine() *wasm.Engine { return g.engine }

// Info describes the game.
func (g *LoadedGame) Info() domain.GameInfo { return g.engine.Info() }

// Spawn instantiates a fresh engine from the compiled module so that
// concurrent matches never share a guest instance. The caller closes it.
func (g *LoadedGame) Spawn(ctx context.Context) (*wasm.Engine, error) {
	inst, err := g.rt.Instantiate(ctx, g.compiled, g.ID)
	if err != nil {
		return nil, err
	}
	eng, err := wasm.NewEngine(ctx, inst, g.Metadata, g.logger)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	return eng, nil
}

// Close releases the resident engine and the compiled module.
func (g *LoadedGame) Close(ctx context.Context) error {
	var errs []error
	if g.engine != nil {
		errs = append(errs, g.engine.Close(ctx))
	}
	if g.compiled != nil {
		errs = append(errs, g.compiled.Close(ctx))
	}
	return errors.Join(errs...)
}

// Loader validates modules, registers them and keeps the store in sync.
type Loader struct {
	rt       *wasm.Runtime
	registry *Registry
	store    domain.GameStore // nil disables persistence
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewLoader creates a loader. store and bus may be nil.
func NewLoader(rt *wasm.Runtime, registry *Registry, store domain.GameStore, bus domain.EventBus, logger *slog.Logger) *Loader {
	return &Loader{
		rt:       rt,
		registry: registry,
		store:    store,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the registry games are added to.
func (l *Loader) Registry() *Registry { return l.registry }

// LoadFromJSON checks rawMeta against the metadata schema and loads the module.
func (l *Loader) LoadFromJSON(ctx context.Context, module, rawMeta []byte) (*LoadedGame, error) {
	meta, err := ParseMetadataJSON(rawMeta)
	if err != nil {
		return nil, err
	}
	return l.LoadFromBytes(ctx, module, meta)
}

// LoadFromBytes validates, smoke tests, registers and persists a module.
// Every structural and metadata problem is reported in one
// *domain.ValidationError. A persistence failure is logged and does not
// fail the load.
func (l *Loader) LoadFromBytes(ctx context.Context, module []byte, meta domain.GameMetadata) (*LoadedGame, error) {
	g, err := l.prepare(ctx, module, meta, true)
	if err != nil {
		return nil, err
	}
	g.ID = l.newID()
	g.LoadedAt = l.now()

	if err := l.registry.Add(g); err != nil {
		_ = g.Close(ctx)
		return nil, err
	}

	if l.store != nil {
		stored := domain.StoredGame{ID: g.ID, Module: g.Module, Metadata: g.Metadata, CreatedAt: g.LoadedAt}
		if err := l.store.Save(ctx, stored); err != nil {
			l.logger.Warn("game not persisted", "game_id", g.ID, "error", err)
		}
	}

	l.logger.Info("game loaded", "game_id", g.ID, "name", g.Info().Name, "bytes", len(module))
	l.publishEvent(domain.EventGameLoaded, g)
	return g, nil
}

// Validate runs every load check without registering anything.
func (l *Loader) Validate(ctx context.Context, module []byte, meta domain.GameMetadata) (domain.GameInfo, error) {
	g, err := l.prepare(ctx, module, meta, true)
	if err != nil {
		return domain.GameInfo{}, err
	}
	defer g.Close(ctx)
	return g.Info(), nil
}

// prepare compiles and checks module and builds its resident engine.
func (l *Loader) prepare(ctx context.Context, module []byte, meta domain.GameMetadata, smoke bool) (*LoadedGame, error) {
	verr := &domain.ValidationError{}
	compiled := compileChecked(ctx, l.rt, module, verr)
	checkMetadata(meta, verr)
	if verr.HasErrors() {
		if compiled != nil {
			_ = compiled.Close(ctx)
		}
		return nil, verr
	}

	g := &LoadedGame{
		Metadata: meta,
		Module:   module,
		Digest:   digestOf(module),
		rt:       l.rt,
		compiled: compiled,
		logger:   l.logger,
	}

	inst, err := l.rt.Instantiate(ctx, compiled, meta.Name)
	if err != nil {
		_ = g.Close(ctx)
		verr.Add("instantiate: %v", err)
		return nil, verr
	}
	eng, err := wasm.NewEngine(ctx, inst, meta, l.logger)
	if err != nil {
		_ = inst.Close(ctx)
		_ = g.Close(ctx)
		verr.Add("%v", err)
		return nil, verr
	}
	g.engine = eng

	if smoke {
		smokeTest(ctx, eng, verr)
		if verr.HasErrors() {
			_ = g.Close(ctx)
			return nil, verr
		}
	}
	return g, nil
}

// Restore re-registers every persisted game under its stored id. The smoke
// test is not repeated. Games that no longer compile are skipped with a
// warning. Returns the number restored.
func (l *Loader) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	stored, err := l.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore games: %w", err)
	}

	restored := 0
	for _, sg := range stored {
		if _, err := l.registry.Get(sg.ID); err == nil {
			continue
		}
		g, err := l.prepare(ctx, sg.Module, sg.Metadata, false)
		if err != nil {
			l.logger.Warn("skipping stored game", "game_id", sg.ID, "name", sg.Metadata.Name, "error", err)
			continue
		}
		g.ID = sg.ID
		g.LoadedAt = sg.CreatedAt
		if err := l.registry.Add(g); err != nil {
			_ = g.Close(ctx)
			l.logger.Warn("skipping stored game", "game_id", sg.ID, "error", err)
			continue
		}
		restored++
		l.publishEvent(domain.EventGameLoaded, g)
	}

	l.logger.Info("games restored", "restored", restored, "stored", len(stored))
	return restored, nil
}

// Unload closes a game, removes it from the registry and deletes it from
// the store. A store failure is logged.
func (l *Loader) Unload(ctx context.Context, id string) error {
	g, err := l.registry.Remove(id)
	if err != nil {
		return err
	}
	if err := g.Close(ctx); err != nil {
		l.logger.Warn("game close error", "game_id", id, "error", err)
	}
	if l.store != nil {
		if err := l.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			l.logger.Warn("stored game not deleted", "game_id", id, "error", err)
		}
	}

	l.logger.Info("game unloaded", "game_id", id)
	l.publishEvent(domain.EventGameUnloaded, g)
	return nil
}

// Shutdown closes every loaded game without touching the store.
func (l *Loader) Shutdown(ctx context.Context) error {
	var errs []error
	for _, g := range l.registry.List() {
		if _, err := l.registry.Remove(g.ID); err != nil {
			continue
		}
		errs = append(errs, g.Close(ctx))
	}
	return errors.Join(errs...)
}

func (l *Loader) publishEvent(typ domain.EventType, g *LoadedGame) {
	if l.bus == nil {
		return
	}
	name := g.Metadata.Name
	if g.engine != nil {
		name = g.Info().Name
	}
	l.bus.Publish(context.Background(), domain.NewEvent(typ, "", domain.GamePayload{GameID: g.ID, Name: name}))
}

func digestOf(module []byte) string {
	sum := sha256.Sum256(module)
	return hex.EncodeToString(sum[:])
}

func (l *Loader) newID() string {
	return ulid.MustNew(ulid.Timestamp(l.now()), ulid.DefaultEntropy()).String()
}
