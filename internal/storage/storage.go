// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
)

// ErrNotFound is returned when no record exists for the given key.
var ErrNotFound = errors.New("storage: record not found")

// Storage is the durable store for monitor state and trade history. Every
// call is atomic on its own; callers never assume a transaction across calls.
type Storage interface {
	// Monitor state, keyed by position id
	LoadMonitor(ctx context.Context, positionID string) (*models.MonitorState, error)
	UpsertMonitor(ctx context.Context, state *models.MonitorState) error
	UpdateStatus(ctx context.Context, positionID string, status string) error

	// Trade history
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, userID string, limit, offset int) ([]*models.Trade, error)

	RunMigrations() error
	Close() error
}
