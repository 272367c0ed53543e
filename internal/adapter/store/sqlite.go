package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"wasm-arena/internal/domain"
)

var _ domain.GameStore = (*SQLiteGameStore)(nil)

// SQLiteGameStore implements domain.GameStore using SQLite.
type SQLiteGameStore struct {
	db *sql.DB
}

// NewSQLiteGameStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteGameStore(dbPath string) (*SQLiteGameStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open game db: %v", domain.ErrPersistence, err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", domain.ErrPersistence, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set busy timeout: %v", domain.ErrPersistence, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate game db: %v", domain.ErrPersistence, err)
	}
	return &SQLiteGameStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS games (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			module     TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteGameStore) Close() error {
	return s.db.Close()
}

// Save inserts g, replacing any stored game with the same id.
func (s *SQLiteGameStore) Save(ctx context.Context, g domain.StoredGame) error {
	metaJSON, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", domain.ErrPersistence, err)
	}
	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games (id, name, module, metadata, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, module = excluded.module,
		   metadata = excluded.metadata, created_at = excluded.created_at`,
		g.ID, g.Metadata.Name, base64.StdEncoding.EncodeToString(g.Module), string(metaJSON),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: save game %s: %v", domain.ErrPersistence, g.ID, err)
	}
	return nil
}

func (s *SQLiteGameStore) Get(ctx context.Context, id string) (*domain.StoredGame, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, module, metadata, created_at FROM games WHERE id = ?", id,
	)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get game %s: %v", domain.ErrPersistence, id, err)
	}
	return g, nil
}

// List returns every stored game, oldest first.
func (s *SQLiteGameStore) List(ctx context.Context) ([]domain.StoredGame, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, module, metadata, created_at FROM games ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("%w: list games: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var games []domain.StoredGame
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list games: %v", domain.ErrPersistence, err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list games: %v", domain.ErrPersistence, err)
	}
	return games, nil
}

func (s *SQLiteGameStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete game %s: %v", domain.ErrPersistence, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (*domain.StoredGame, error) {
	var g domain.StoredGame
	var moduleStr, metaStr, createdStr string
	if err := row.Scan(&g.ID, &moduleStr, &metaStr, &createdStr); err != nil {
		return nil, err
	}
	module, err := base64.StdEncoding.DecodeString(moduleStr)
	if err != nil {
		return nil, fmt.Errorf("decode module %s: %w", g.ID, err)
	}
	g.Module = module
	if err := json.Unmarshal([]byte(metaStr), &g.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %s: %w", g.ID, err)
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &g, nil
}
