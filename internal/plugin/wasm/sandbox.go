package wasm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"wasm-arena/internal/domain"
)

// Sandbox bounds guest execution. Every call into a module goes through Call.
type Sandbox struct {
	callTimeout time.Duration
}

// NewSandbox creates a Sandbox with the given per-call timeout.
func NewSandbox(callTimeout time.Duration) *Sandbox {
	if callTimeout <= 0 {
		callTimeout = DefaultRuntimeConfig().CallTimeout
	}
	return &Sandbox{callTimeout: callTimeout}
}

// CallTimeout returns the execution timeout for guest function calls.
func (s *Sandbox) CallTimeout() time.Duration {
	return s.callTimeout
}

// Call invokes the named export with a timeout. A missing export, a trap or
// an exceeded timeout is an integration error. Because the runtime closes a
// module whose context is done, a timed-out instance is unusable afterwards.
func (s *Sandbox) Call(ctx context.Context, mod api.Module, name string, params ...uint64) ([]uint64, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, domain.NewIntegrationError("wasm.call", fmt.Sprintf("module does not export %s", name))
	}

	execCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	results, err := fn.Call(execCtx, params...)
	if err == nil {
		return results, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("wasm.call %s: %w", name, ctx.Err())
	}

	var exitErr *sys.ExitError
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded) {
		return nil, domain.NewSubSystemError("wasm.timeout", "wasm.call", domain.ErrIntegration,
			fmt.Sprintf("%s exceeded %s", name, s.callTimeout))
	}
	return nil, domain.NewIntegrationError("wasm.call", fmt.Sprintf("%s trapped: %v", name, err))
}
