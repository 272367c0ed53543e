package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/tracer"
	"wasm-arena/pkg/gamesdk"
)

const pageSize = 65536

// MemoryStats counts host-side allocation traffic for one instance.
type MemoryStats struct {
	Allocs        int
	Frees         int
	FallbackPages uint32
}

// Memory moves NUL-terminated strings in and out of a guest's linear memory.
// It is not safe for concurrent use; the engine serializes access.
type Memory struct {
	mod     api.Module
	mem     api.Memory
	sandbox *Sandbox
	logger  *slog.Logger

	hasMalloc     bool
	freeArity     int // 0 when free is not usable
	allowFallback bool
	warnOnce      sync.Once

	sizes map[uint32]uint32
	stats MemoryStats

	// Unused tail of the pages the fallback allocator grew last.
	bumpNext, bumpEnd uint32
}

// NewMemory binds a marshaling layer to mod. The module must export a
// linear memory.
func NewMemory(mod api.Module, sandbox *Sandbox, allowFallback bool, logger *slog.Logger) (*Memory, error) {
	mem := mod.ExportedMemory(gamesdk.ExportMemory)
	if mem == nil {
		return nil, domain.NewIntegrationError("wasm.NewMemory", "module does not export memory")
	}

	m := &Memory{
		mod:           mod,
		mem:           mem,
		sandbox:       sandbox,
		logger:        logger,
		hasMalloc:     mod.ExportedFunction(gamesdk.ExportMalloc) != nil,
		allowFallback: allowFallback,
		sizes:         make(map[uint32]uint32),
	}
	// Only pointers that came from malloc can be handed to free.
	if free := mod.ExportedFunction(gamesdk.ExportFree); free != nil && m.hasMalloc {
		m.freeArity = len(free.Definition().ParamTypes())
		if m.freeArity > 2 {
			m.freeArity = 0
		}
	}
	return m, nil
}

// HasAllocator reports whether the guest exports malloc.
func (m *Memory) HasAllocator() bool { return m.hasMalloc }

// CanFree reports whether pointers are released through the guest's free.
func (m *Memory) CanFree() bool { return m.freeArity > 0 }

// Stats returns a snapshot of the allocation counters.
func (m *Memory) Stats() MemoryStats { return m.stats }

// WriteString copies s plus a NUL terminator into guest memory and returns
// its pointer.
func (m *Memory) WriteString(ctx context.Context, s string) (uint32, error) {
	data := make([]byte, len(s)+1)
	copy(data, s)
	size := uint32(len(data))

	if m.hasMalloc {
		res, err := m.sandbox.Call(ctx, m.mod, gamesdk.ExportMalloc, api.EncodeU32(size))
		if err != nil {
			return 0, err
		}
		if len(res) != 1 {
			return 0, domain.NewIntegrationError("wasm.WriteString", "malloc returned no result")
		}
		ptr := api.DecodeU32(res[0])
		if ptr == 0 {
			return 0, domain.NewIntegrationError("wasm.WriteString", fmt.Sprintf("malloc(%d) returned null", size))
		}
		if !m.mem.Write(ptr, data) {
			return 0, domain.NewIntegrationError("wasm.WriteString",
				fmt.Sprintf("malloc returned %d, write of %d bytes is out of bounds", ptr, size))
		}
		m.sizes[ptr] = size
		m.stats.Allocs++
		return ptr, nil
	}

	if !m.allowFallback {
		return 0, domain.NewIntegrationError("wasm.WriteString", "module exports no malloc and the fallback allocator is disabled")
	}
	m.warnOnce.Do(func() {
		m.logger.Warn("module exports no malloc; strings are placed in grown pages that are never reclaimed, keep matches short")
	})

	if size > m.bumpEnd-m.bumpNext {
		pages := (size + pageSize - 1) / pageSize
		prev, ok := m.mem.Grow(pages)
		if !ok {
			return 0, domain.NewIntegrationError("wasm.WriteString",
				fmt.Sprintf("cannot grow memory by %d pages (at %d)", pages, m.mem.Size()/pageSize))
		}
		m.bumpNext = prev * pageSize
		m.bumpEnd = (prev + pages) * pageSize
		m.stats.FallbackPages += pages
	}
	ptr := m.bumpNext
	if !m.mem.Write(ptr, data) {
		return 0, domain.NewIntegrationError("wasm.WriteString", fmt.Sprintf("write of %d bytes at %d is out of bounds", size, ptr))
	}
	m.bumpNext += size
	return ptr, nil
}

// ReadString reads from ptr up to the first NUL byte or the end of memory,
// whichever comes first.
func (m *Memory) ReadString(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", domain.NewIntegrationError("wasm.ReadString", "null pointer")
	}
	size := m.mem.Size()
	if ptr >= size {
		return "", domain.NewIntegrationError("wasm.ReadString", fmt.Sprintf("pointer %d is past the end of memory (%d bytes)", ptr, size))
	}
	buf, ok := m.mem.Read(ptr, size-ptr)
	if !ok {
		return "", domain.NewIntegrationError("wasm.ReadString", fmt.Sprintf("read at %d is out of bounds", ptr))
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// Free releases ptr through the guest's free export. It is a no-op for a null
// pointer or when the guest cannot free.
func (m *Memory) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 || !m.CanFree() {
		return nil
	}
	params := []uint64{api.EncodeU32(ptr)}
	if m.freeArity == 2 {
		params = append(params, api.EncodeU32(m.sizes[ptr]))
	}
	delete(m.sizes, ptr)
	if _, err := m.sandbox.Call(ctx, m.mod, gamesdk.ExportFree, params...); err != nil {
		return err
	}
	m.stats.Frees++
	return nil
}

// Scope collects guest pointers and releases all of them together.
type Scope struct {
	mem  *Memory
	ptrs []uint32
}

// NewScope starts an empty scope.
func (m *Memory) NewScope() *Scope {
	return &Scope{mem: m}
}

// WriteString writes s and tracks its pointer.
func (s *Scope) WriteString(ctx context.Context, str string) (uint32, error) {
	ptr, err := s.mem.WriteString(ctx, str)
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, nil
}

// Adopt tracks a guest-returned pointer of size bytes, terminator included.
func (s *Scope) Adopt(ptr, size uint32) {
	if ptr == 0 || !s.mem.CanFree() {
		return
	}
	s.mem.sizes[ptr] = size
	s.ptrs = append(s.ptrs, ptr)
}

// Release frees every tracked pointer, newest first. It keeps going past
// failures and ignores cancellation of ctx so nothing is skipped.
func (s *Scope) Release(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		if err := s.mem.Free(ctx, s.ptrs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.ptrs = nil
	return errors.Join(errs...)
}

// CallString writes args, calls export, reads its string result and frees
// everything it allocated on every path.
func (m *Memory) CallString(ctx context.Context, export string, args ...string) (string, error) {
	var out string
	err := m.call(ctx, export, args, func(scope *Scope, res []uint64) error {
		ptr := api.DecodeU32(res[0])
		s, err := m.ReadString(ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", export, err)
		}
		scope.Adopt(ptr, uint32(len(s))+1)
		out = s
		return nil
	})
	return out, err
}

// CallI32 is CallString for exports returning a plain i32.
func (m *Memory) CallI32(ctx context.Context, export string, args ...string) (int32, error) {
	var out int32
	err := m.call(ctx, export, args, func(_ *Scope, res []uint64) error {
		out = api.DecodeI32(res[0])
		return nil
	})
	return out, err
}

func (m *Memory) call(ctx context.Context, export string, args []string, read func(*Scope, []uint64) error) error {
	return tracer.Do(ctx, "wasm.call", func(ctx context.Context) (err error) {
		scope := m.NewScope()
		defer func() {
			if rerr := scope.Release(ctx); rerr != nil {
				m.logger.Warn("release guest memory failed", "export", export, "error", rerr)
				if err == nil {
					err = rerr
				}
			}
		}()

		params := make([]uint64, 0, len(args))
		for _, a := range args {
			ptr, err := scope.WriteString(ctx, a)
			if err != nil {
				return err
			}
			params = append(params, api.EncodeU32(ptr))
		}

		res, err := m.sandbox.Call(ctx, m.mod, export, params...)
		if err != nil {
			return err
		}
		if len(res) != 1 {
			return domain.NewIntegrationError("wasm.call", fmt.Sprintf("%s returned %d results, want 1", export, len(res)))
		}
		return read(scope, res)
	}, tracer.StringAttr("wasm.export", export), tracer.IntAttr("wasm.args", len(args)), tracer.BoolAttr("wasm.allocator", m.hasMalloc))
}
