package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"wasm-arena/internal/adapter/store"
	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

func runGames(args []string) error {
	fs := flag.NewFlagSet("games", flag.ContinueOnError)
	cfgPath := fs.String("config", configPath(nil), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is empty, nothing is persisted")
	}

	s, err := store.NewSQLiteGameStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	return listGames(context.Background(), s, os.Stdout)
}

// listGames prints the stored games as a table.
func listGames(ctx context.Context, s domain.GameStore, out io.Writer) error {
	games, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintln(out, "No games stored.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tSIZE\tCREATED")
	for _, g := range games {
		version := g.Metadata.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			g.ID, g.Metadata.Name, version, len(g.Module), g.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
