package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"wasm-arena/internal/adapter/gateway"
	"wasm-arena/internal/infra/config"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", configPath(nil), "config file")
	addr := fs.String("addr", "", "listen address (overrides gateway.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Gateway.Enabled = true
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{persist: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.log.Error("shutdown error", "error", err)
		}
	}()

	a.restore(ctx)
	if err := a.schedule(ctx); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}

	var auth gateway.Authenticator
	if len(cfg.Gateway.Tokens) > 0 {
		auth = gateway.NewStaticTokenAuth(cfg.Gateway.Tokens)
	}
	srv := gateway.NewServer(gateway.Deps{
		Games:   a.loader,
		Matches: a.matches,
		Bus:     a.bus,
		Auth:    auth,
		Logger:  a.log,
		Config:  cfg.Gateway,
		Version: version,
	})

	a.log.Info("arena starting",
		"version", version,
		"addr", cfg.Gateway.Addr,
		"games", a.registry.Len(),
		"providers", len(a.providers.List()),
		"auth", auth != nil,
	)
	return srv.Start(ctx)
}
