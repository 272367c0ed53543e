package domain

import (
	"context"
	"time"
)

// StoredGame is a persisted module: raw bytes plus its metadata.
type StoredGame struct {
	ID        string       `json:"id"`
	Module    []byte       `json:"-"`
	Metadata  GameMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// GameStore persists accepted modules so they survive a restart.
type GameStore interface {
	Save(ctx context.Context, game StoredGame) error
	Get(ctx context.Context, id string) (*StoredGame, error)
	List(ctx context.Context) ([]StoredGame, error)
	Delete(ctx context.Context, id string) error
}
