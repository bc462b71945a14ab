package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
)

// ErrNotFound is returned when the requested vault does not exist.
var ErrNotFound = errors.New("not found")

// VaultUpsert carries the fields a creation event is allowed to write.
// On conflict only Owner, Name, and StrategyType are updated; tvl and the
// active flag are never regressed by a replayed event.
type VaultUpsert struct {
	ID           string
	Owner        string
	Name         string
	StrategyType string
	CreatedAt    time.Time
}

// VaultFilter narrows and pages ListVaults.
type VaultFilter struct {
	Owner        string
	StrategyType string
	IsActive     *bool
	SortBy       string // tvl | apy | createdAt
	SortOrder    string // asc | desc
	Limit        int
	Offset       int
}

// Store is the persistence boundary shared by the indexer, the recompute
// workers, and the API.
type Store interface {
	// UpsertVault creates or refreshes a vault row. The returned flag is
	// true only when the row was newly inserted.
	UpsertVault(ctx context.Context, v VaultUpsert) (bool, error)
	GetVault(ctx context.Context, id string) (model.Vault, error)
	ListVaults(ctx context.Context, filter VaultFilter) ([]model.Vault, int, error)
	SetVaultTVL(ctx context.Context, id string, tvl decimal.Decimal, updatedAt time.Time) error
	DeactivateVault(ctx context.Context, id string) error

	AppendHistory(ctx context.Context, h model.VaultHistory) error
	// VaultHistory returns up to limit rows for one vault ordered by
	// timestamp ascending; limit <= 0 means no limit.
	VaultHistory(ctx context.Context, vaultID string, limit int) ([]model.VaultHistory, error)

	// Cursor returns the persisted indexer cursor; nil means genesis.
	Cursor(ctx context.Context) (*chain.EventCursor, error)
	SetCursor(ctx context.Context, cursor chain.EventCursor) error

	Stats(ctx context.Context) (model.VaultStats, error)
	Close()
}
