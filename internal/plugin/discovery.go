package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wasm-arena/internal/domain"
)

// Candidate is a module file found on disk with its optional metadata file.
type Candidate struct {
	Name         string
	ModulePath   string
	MetadataPath string
}

var metadataExts = []string{".json", ".yaml", ".yml"}

// ScanDirectory lists every <name>.wasm in dir, paired with a sibling
// <name>.json, <name>.yaml or <name>.yml when one exists. A missing
// directory yields no candidates.
func ScanDirectory(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read games dir %s: %w", dir, err)
	}

	var out []Candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wasm") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		c := Candidate{Name: stem, ModulePath: filepath.Join(dir, entry.Name())}
		for _, ext := range metadataExts {
			p := filepath.Join(dir, stem+ext)
			if _, err := os.Stat(p); err == nil {
				c.MetadataPath = p
				break
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadCandidate loads the module bytes and metadata of c. Without a
// metadata file the game is named after the module file.
func ReadCandidate(c Candidate) ([]byte, domain.GameMetadata, error) {
	module, err := os.ReadFile(c.ModulePath)
	if err != nil {
		return nil, domain.GameMetadata{}, fmt.Errorf("read module %s: %w", c.ModulePath, err)
	}
	if c.MetadataPath == "" {
		return module, domain.GameMetadata{Name: c.Name}, nil
	}
	meta, err := ReadMetadataFile(c.MetadataPath)
	if err != nil {
		return nil, domain.GameMetadata{}, err
	}
	return module, meta, nil
}

// LoadDirectory loads every candidate in dir. Modules already registered
// with identical bytes are skipped, so a directory of games does not pile
// up duplicates across restarts. Candidates that fail to load are logged
// and skipped. Returns the games loaded by this call.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) ([]*LoadedGame, error) {
	candidates, err := ScanDirectory(dir)
	if err != nil {
		return nil, err
	}

	var loaded []*LoadedGame
	for _, c := range candidates {
		module, meta, err := ReadCandidate(c)
		if err != nil {
			l.logger.Warn("skipping game file", "path", c.ModulePath, "error", err)
			continue
		}
		if existing, ok := l.registry.findDigest(digestOf(module)); ok {
			l.logger.Debug("game already loaded", "path", c.ModulePath, "game_id", existing.ID)
			continue
		}
		g, err := l.LoadFromBytes(ctx, module, meta)
		if err != nil {
			l.logger.Warn("skipping game file", "path", c.ModulePath, "error", err)
			continue
		}
		loaded = append(loaded, g)
	}
	return loaded, nil
}
