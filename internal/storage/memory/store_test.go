package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

func TestUpsertVaultIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	created := time.Unix(1700000000, 0).UTC()

	inserted, err := store.UpsertVault(ctx, storage.VaultUpsert{
		ID: "0xv1", Owner: "0xa", Name: "first", StrategyType: "clmm", CreatedAt: created,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	require.NoError(t, store.SetVaultTVL(ctx, "0xv1", decimal.NewFromInt(42), created.Add(time.Minute)))

	// Replayed creation event: only event-owned fields change.
	inserted, err = store.UpsertVault(ctx, storage.VaultUpsert{
		ID: "0xv1", Owner: "0xb", Name: "second", StrategyType: "clmm", CreatedAt: created,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	v, err := store.GetVault(ctx, "0xv1")
	require.NoError(t, err)
	assert.Equal(t, "0xb", v.Owner)
	assert.Equal(t, "second", v.Name)
	assert.True(t, v.TVL.Equal(decimal.NewFromInt(42)))
	assert.True(t, v.IsActive)
}

func TestGetVaultNotFound(t *testing.T) {
	_, err := NewStore().GetVault(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeactivateVaultKeepsTVL(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	_, err := store.UpsertVault(ctx, storage.VaultUpsert{ID: "0xv1", Owner: "0xa", Name: "v", StrategyType: "coin", CreatedAt: now})
	require.NoError(t, err)
	require.NoError(t, store.SetVaultTVL(ctx, "0xv1", decimal.NewFromInt(6), now))

	require.NoError(t, store.DeactivateVault(ctx, "0xv1"))
	require.NoError(t, store.DeactivateVault(ctx, "0xv1")) // idempotent

	v, err := store.GetVault(ctx, "0xv1")
	require.NoError(t, err)
	assert.False(t, v.IsActive)
	assert.True(t, v.TVL.Equal(decimal.NewFromInt(6)))
}

func TestListVaultsFilterSortPage(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Unix(1700000000, 0).UTC()

	for i, id := range []string{"0xv1", "0xv2", "0xv3"} {
		_, err := store.UpsertVault(ctx, storage.VaultUpsert{
			ID: id, Owner: "0xa", Name: id, StrategyType: "clmm", CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, store.SetVaultTVL(ctx, id, decimal.NewFromInt(int64(i*10)), base))
	}
	require.NoError(t, store.DeactivateVault(ctx, "0xv2"))

	active := true
	vaults, total, err := store.ListVaults(ctx, storage.VaultFilter{IsActive: &active, SortBy: "tvl", SortOrder: "desc"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, vaults, 2)
	assert.Equal(t, "0xv3", vaults[0].ID)

	vaults, total, err = store.ListVaults(ctx, storage.VaultFilter{SortBy: "createdAt", SortOrder: "asc", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, vaults, 1)
	assert.Equal(t, "0xv2", vaults[0].ID)
}

func TestVaultHistoryAscendingWithLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory(ctx, model.VaultHistory{
			VaultID: "0xv1", TVL: decimal.NewFromInt(int64(i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.AppendHistory(ctx, model.VaultHistory{VaultID: "0xother", TVL: decimal.NewFromInt(99), Timestamp: base}))

	rows, err := store.VaultHistory(ctx, "0xv1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Most recent three, ascending.
	assert.True(t, rows[0].TVL.Equal(decimal.NewFromInt(2)))
	assert.True(t, rows[2].TVL.Equal(decimal.NewFromInt(4)))
	assert.True(t, rows[0].Timestamp.Before(rows[1].Timestamp))
}

func TestCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	cursor, err := store.Cursor(ctx)
	require.NoError(t, err)
	assert.Nil(t, cursor)

	require.NoError(t, store.SetCursor(ctx, chain.EventCursor{TxDigest: "digest-1", EventSeq: "4"}))

	cursor, err = store.Cursor(ctx)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "digest-1", cursor.TxDigest)
	assert.Equal(t, "4", cursor.EventSeq)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	_, err := store.UpsertVault(ctx, storage.VaultUpsert{ID: "0xv1", Owner: "0xa", Name: "a", StrategyType: "coin", CreatedAt: now})
	require.NoError(t, err)
	_, err = store.UpsertVault(ctx, storage.VaultUpsert{ID: "0xv2", Owner: "0xa", Name: "b", StrategyType: "coin", CreatedAt: now})
	require.NoError(t, err)
	require.NoError(t, store.SetVaultTVL(ctx, "0xv1", decimal.NewFromInt(10), now))
	require.NoError(t, store.SetVaultTVL(ctx, "0xv2", decimal.NewFromInt(5), now))
	require.NoError(t, store.DeactivateVault(ctx, "0xv2"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVaults)
	assert.Equal(t, 1, stats.ActiveVaults)
	assert.True(t, stats.TotalTVL.Equal(decimal.NewFromInt(10)))
}
