package wasm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero/api"

	"wasm-arena/internal/domain"
	"wasm-arena/pkg/gamesdk"
)

// instantiateHostModule registers the arena host module. Every game instance
// in the runtime shares it; mod identifies the calling guest.
func (r *Runtime) instantiateHostModule(ctx context.Context) error {
	builder := r.inner.NewHostModuleBuilder(gamesdk.HostModule)

	// log(level, ptr, len)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			level := api.DecodeI32(stack[0])
			ptr := api.DecodeU32(stack[1])
			size := api.DecodeU32(stack[2])

			mem := mod.Memory()
			if mem == nil {
				r.logger.Warn("guest log: module has no memory", "module", mod.Name())
				return
			}
			buf, ok := mem.Read(ptr, size)
			if !ok {
				r.logger.Warn("guest log: read out of bounds", "module", mod.Name(), "ptr", ptr, "len", size)
				return
			}
			msg := string(buf)

			r.logger.Log(ctx, guestLevel(level), msg, "module", mod.Name())
			if r.bus != nil {
				r.bus.Publish(ctx, domain.NewEvent(domain.EventGuestLog, "", domain.GuestLogPayload{
					Module: mod.Name(),
					Stream: "log",
					Line:   msg,
				}))
			}
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log")

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s host module: %w", gamesdk.HostModule, err)
	}
	return nil
}

func guestLevel(level int32) slog.Level {
	switch {
	case level <= gamesdk.LogDebug:
		return slog.LevelDebug
	case level == gamesdk.LogInfo:
		return slog.LevelInfo
	case level == gamesdk.LogWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
