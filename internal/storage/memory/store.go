package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

// Store is an in-memory Store used by tests and single-process dev runs.
type Store struct {
	mu      sync.RWMutex
	vaults  map[string]model.Vault
	order   []string
	history []model.VaultHistory
	cursor  *chain.EventCursor
}

func NewStore() *Store {
	return &Store{vaults: make(map[string]model.Vault)}
}

func (s *Store) UpsertVault(_ context.Context, v storage.VaultUpsert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.vaults[v.ID]; ok {
		existing.Owner = v.Owner
		existing.Name = v.Name
		existing.StrategyType = v.StrategyType
		s.vaults[v.ID] = existing
		return false, nil
	}

	s.vaults[v.ID] = model.Vault{
		ID:           v.ID,
		Owner:        v.Owner,
		Name:         v.Name,
		StrategyType: v.StrategyType,
		TVL:          decimal.Zero,
		APY:          decimal.Zero,
		IsActive:     true,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.CreatedAt,
	}
	s.order = append(s.order, v.ID)
	return true, nil
}

func (s *Store) GetVault(_ context.Context, id string) (model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[id]
	if !ok {
		return model.Vault{}, storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) ListVaults(_ context.Context, filter storage.VaultFilter) ([]model.Vault, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.Vault, 0, len(s.order))
	for _, id := range s.order {
		v := s.vaults[id]
		if filter.Owner != "" && v.Owner != filter.Owner {
			continue
		}
		if filter.StrategyType != "" && v.StrategyType != filter.StrategyType {
			continue
		}
		if filter.IsActive != nil && v.IsActive != *filter.IsActive {
			continue
		}
		matched = append(matched, v)
	}

	sortVaults(matched, filter.SortBy, filter.SortOrder)

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return matched[offset:end], total, nil
}

func sortVaults(vaults []model.Vault, sortBy, sortOrder string) {
	less := func(a, b model.Vault) bool {
		switch sortBy {
		case "apy":
			return a.APY.LessThan(b.APY)
		case "createdAt":
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.TVL.LessThan(b.TVL)
		}
	}
	sort.SliceStable(vaults, func(i, j int) bool {
		if sortOrder == "asc" {
			return less(vaults[i], vaults[j])
		}
		return less(vaults[j], vaults[i])
	})
}

func (s *Store) SetVaultTVL(_ context.Context, id string, tvl decimal.Decimal, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[id]
	if !ok {
		return storage.ErrNotFound
	}
	v.TVL = tvl
	v.UpdatedAt = updatedAt
	s.vaults[id] = v
	return nil
}

func (s *Store) DeactivateVault(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[id]
	if !ok {
		return storage.ErrNotFound
	}
	v.IsActive = false
	s.vaults[id] = v
	return nil
}

func (s *Store) AppendHistory(_ context.Context, h model.VaultHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, h)
	return nil
}

func (s *Store) VaultHistory(_ context.Context, vaultID string, limit int) ([]model.VaultHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.VaultHistory, 0)
	for _, h := range s.history {
		if h.VaultID == vaultID {
			rows = append(rows, h)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

func (s *Store) Cursor(_ context.Context) (*chain.EventCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cursor == nil {
		return nil, nil
	}
	c := *s.cursor
	return &c, nil
}

func (s *Store) SetCursor(_ context.Context, cursor chain.EventCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = &cursor
	return nil
}

func (s *Store) Stats(_ context.Context) (model.VaultStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.VaultStats{TotalTVL: decimal.Zero}
	for _, v := range s.vaults {
		stats.TotalVaults++
		if v.IsActive {
			stats.ActiveVaults++
			stats.TotalTVL = stats.TotalTVL.Add(v.TVL)
		}
	}
	return stats, nil
}

func (s *Store) Close() {}
