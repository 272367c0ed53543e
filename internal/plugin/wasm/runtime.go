package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/pkg/gamesdk"
)

// RuntimeConfig holds configuration for the WASM runtime.
type RuntimeConfig struct {
	// MaxMemoryPages is the maximum number of 64KB pages per instance.
	// Default 256 = 16MB.
	MaxMemoryPages uint32
	// CallTimeout bounds every single guest call.
	CallTimeout time.Duration
	// AllowFallbackAllocator lets modules without malloc be driven by growing
	// memory for each string. That memory is never reclaimed.
	AllowFallbackAllocator bool
	// CaptureGuestOutput routes WASI stdout/stderr into the logger.
	CaptureGuestOutput bool
}

// DefaultRuntimeConfig returns a RuntimeConfig with sensible defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxMemoryPages:         256,
		CallTimeout:            2 * time.Second,
		AllowFallbackAllocator: true,
		CaptureGuestOutput:     true,
	}
}

// RuntimeConfigFrom converts the runtime section of the app config.
func RuntimeConfigFrom(cfg config.RuntimeConfig) RuntimeConfig {
	return RuntimeConfig{
		MaxMemoryPages:         cfg.MaxMemoryPages,
		CallTimeout:            cfg.CallTimeout,
		AllowFallbackAllocator: cfg.AllowFallbackAllocator,
		CaptureGuestOutput:     cfg.CaptureGuestOutput,
	}
}

// Runtime wraps a wazero.Runtime with shared configuration. One Runtime
// serves every game module in the process.
type Runtime struct {
	inner  wazero.Runtime
	config RuntimeConfig
	logger *slog.Logger
	bus    domain.EventBus
	seq    atomic.Uint64
}

// NewRuntime creates a new WASM runtime with WASI and the arena host module
// instantiated. bus may be nil. The caller must call Close when done.
func NewRuntime(ctx context.Context, cfg RuntimeConfig, logger *slog.Logger, bus domain.EventBus) (*Runtime, error) {
	def := DefaultRuntimeConfig()
	if cfg.MaxMemoryPages == 0 {
		cfg.MaxMemoryPages = def.MaxMemoryPages
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.MaxMemoryPages)

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	r := &Runtime{
		inner:  rt,
		config: cfg,
		logger: logger,
		bus:    bus,
	}
	if err := r.instantiateHostModule(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	logger.Info("wasm runtime created",
		"max_memory_pages", cfg.MaxMemoryPages,
		"max_memory_mb", cfg.MaxMemoryPages*64/1024,
		"call_timeout", cfg.CallTimeout,
	)
	return r, nil
}

// Inner returns the underlying wazero.Runtime.
func (r *Runtime) Inner() wazero.Runtime {
	return r.inner
}

// Config returns the effective configuration.
func (r *Runtime) Config() RuntimeConfig {
	return r.config
}

// Compile compiles a binary module without instantiating it.
func (r *Runtime) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := r.inner.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return compiled, nil
}

// Instance is one running copy of a game module together with its
// marshaling layer.
type Instance struct {
	name    string
	mod     api.Module
	mem     *Memory
	sandbox *Sandbox
	outputs []*logger.LineWriter
}

// Name returns the unique module name inside the runtime.
func (i *Instance) Name() string { return i.name }

// Module returns the wazero module.
func (i *Instance) Module() api.Module { return i.mod }

// Memory returns the marshaling layer bound to this instance.
func (i *Instance) Memory() *Memory { return i.mem }

// Close flushes captured output and closes the module.
func (i *Instance) Close(ctx context.Context) error {
	for _, w := range i.outputs {
		_ = w.Close()
	}
	return i.mod.Close(ctx)
}

// Instantiate creates a new instance of compiled. name is a label; a suffix
// keeps instance names unique so several copies of one game can coexist.
// A reactor's _initialize export is run once; _start never is.
func (r *Runtime) Instantiate(ctx context.Context, compiled wazero.CompiledModule, name string) (*Instance, error) {
	instName := fmt.Sprintf("%s-%d", name, r.seq.Add(1))
	log := r.logger.With("module", instName)

	inst := &Instance{name: instName}

	modCfg := wazero.NewModuleConfig().
		WithName(instName).
		WithStartFunctions()
	if r.config.CaptureGuestOutput {
		stdout := logger.NewLineWriter(log, slog.LevelInfo, "guest stdout", r.publishGuestLine(instName, "stdout"))
		stderr := logger.NewLineWriter(log, slog.LevelDebug, "guest stderr", r.publishGuestLine(instName, "stderr"))
		inst.outputs = []*logger.LineWriter{stdout, stderr}
		modCfg = modCfg.WithStdout(stdout).WithStderr(stderr)
	}

	mod, err := r.inner.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate %s: %v", domain.ErrIntegration, name, err)
	}
	inst.mod = mod
	inst.sandbox = NewSandbox(r.config.CallTimeout)

	mem, err := NewMemory(mod, inst.sandbox, r.config.AllowFallbackAllocator, log)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	inst.mem = mem

	if mod.ExportedFunction(gamesdk.ExportInitialize) != nil {
		if _, err := inst.sandbox.Call(ctx, mod, gamesdk.ExportInitialize); err != nil {
			_ = inst.Close(ctx)
			return nil, err
		}
	}

	log.Debug("wasm instance created", "allocator", mem.HasAllocator())
	return inst, nil
}

func (r *Runtime) publishGuestLine(module, stream string) func(string) {
	if r.bus == nil {
		return nil
	}
	return func(line string) {
		r.bus.Publish(context.Background(), domain.NewEvent(domain.EventGuestLog, "", domain.GuestLogPayload{
			Module: module,
			Stream: stream,
			Line:   line,
		}))
	}
}

// Close releases all resources held by the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.inner.Close(ctx); err != nil {
		return fmt.Errorf("close wasm runtime: %w", err)
	}
	r.logger.Info("wasm runtime closed")
	return nil
}
