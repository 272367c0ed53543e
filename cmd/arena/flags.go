package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"wasm-arena/internal/plugin"
)

// parseInterspersed parses fs allowing flags after positional arguments,
// so "play game.wasm --p1 human" works. Returns the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// candidateFor pairs a module path with its metadata file: the explicit
// path when given, else a sibling <name>.json, .yaml or .yml.
func candidateFor(modulePath, metaPath string) plugin.Candidate {
	stem := strings.TrimSuffix(filepath.Base(modulePath), filepath.Ext(modulePath))
	c := plugin.Candidate{Name: stem, ModulePath: modulePath, MetadataPath: metaPath}
	if c.MetadataPath != "" {
		return c
	}
	base := strings.TrimSuffix(modulePath, filepath.Ext(modulePath))
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if _, err := os.Stat(base + ext); err == nil {
			c.MetadataPath = base + ext
			break
		}
	}
	return c
}
