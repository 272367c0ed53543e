package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
	"wasm-arena/internal/infra/logger"
	"wasm-arena/internal/plugin"
	"wasm-arena/internal/plugin/wasm"
)

// errInvalidModule is returned after the problems have been printed.
var errInvalidModule = errors.New("module is invalid")

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	cfgPath := fs.String("config", configPath(nil), "config file")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 1 || len(pos) > 2 {
		return fmt.Errorf("usage: arena validate <module.wasm> [metadata.json|yaml]")
	}
	metaPath := ""
	if len(pos) == 2 {
		metaPath = pos[1]
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	rt, err := wasm.NewRuntime(ctx, wasm.RuntimeConfigFrom(cfg.Runtime), logger.Discard(), nil)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	loader := plugin.NewLoader(rt, plugin.NewRegistry(), nil, nil, logger.Discard())
	return validateModule(ctx, loader, candidateFor(pos[0], metaPath), os.Stdout)
}

// validateModule runs the load checks on c and reports to out.
func validateModule(ctx context.Context, loader *plugin.Loader, c plugin.Candidate, out io.Writer) error {
	module, meta, err := plugin.ReadCandidate(c)
	if err == nil {
		var info domain.GameInfo
		info, err = loader.Validate(ctx, module, meta)
		if err == nil {
			fmt.Fprintf(out, "ok: %s (%d bytes)\n", info.Name, len(module))
			if info.Description != "" {
				fmt.Fprintf(out, "  %s\n", info.Description)
			}
			if c.MetadataPath == "" {
				fmt.Fprintln(out, "  no metadata file, named after the module")
			}
			return nil
		}
	}

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	fmt.Fprintf(out, "invalid: %s\n", c.ModulePath)
	for _, p := range verr.Problems {
		fmt.Fprintf(out, "  - %s\n", strings.TrimSpace(p))
	}
	return errInvalidModule
}
