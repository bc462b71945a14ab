package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

const cursorRowID = "main"

// Store provides Postgres persistence for vaults, history, and the
// indexer cursor. All writes are single-row upserts or appends.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertVault inserts a vault or refreshes its event-owned fields. The
// conflict branch never touches tvl or is_active, so replayed creation
// events cannot regress recompute results.
func (s *Store) UpsertVault(ctx context.Context, v storage.VaultUpsert) (bool, error) {
	var inserted bool
	row := s.pool.QueryRow(ctx, `
		INSERT INTO vaults (id, owner, name, strategy_type, tvl, apy, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, true, $5, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			strategy_type = EXCLUDED.strategy_type,
			updated_at = now()
		RETURNING (xmax = 0)
	`, v.ID, v.Owner, v.Name, v.StrategyType, v.CreatedAt)
	if err := row.Scan(&inserted); err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) GetVault(ctx context.Context, id string) (model.Vault, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, name, strategy_type, tvl, apy, is_active, created_at, updated_at
		FROM vaults WHERE id = $1
	`, id)
	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Vault{}, storage.ErrNotFound
		}
		return model.Vault{}, err
	}
	return v, nil
}

func scanVault(row pgx.Row) (model.Vault, error) {
	var v model.Vault
	err := row.Scan(&v.ID, &v.Owner, &v.Name, &v.StrategyType, &v.TVL, &v.APY, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

var sortColumns = map[string]string{
	"tvl":       "tvl",
	"apy":       "apy",
	"createdAt": "created_at",
}

func (s *Store) ListVaults(ctx context.Context, filter storage.VaultFilter) ([]model.Vault, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Owner != "" {
		where += " AND owner = " + arg(filter.Owner)
	}
	if filter.StrategyType != "" {
		where += " AND strategy_type = " + arg(filter.StrategyType)
	}
	if filter.IsActive != nil {
		where += " AND is_active = " + arg(*filter.IsActive)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM vaults "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "tvl"
	}
	direction := "DESC"
	if filter.SortOrder == "asc" {
		direction = "ASC"
	}
	page := fmt.Sprintf("OFFSET %s", arg(filter.Offset))
	if filter.Limit > 0 {
		page = fmt.Sprintf("LIMIT %s %s", arg(filter.Limit), page)
	}

	query := fmt.Sprintf(`
		SELECT id, owner, name, strategy_type, tvl, apy, is_active, created_at, updated_at
		FROM vaults %s ORDER BY %s %s %s
	`, where, column, direction, page)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	vaults := make([]model.Vault, 0)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, 0, err
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return vaults, total, nil
}

func (s *Store) SetVaultTVL(ctx context.Context, id string, tvl decimal.Decimal, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vaults SET tvl = $2, updated_at = $3 WHERE id = $1
	`, id, tvl, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeactivateVault(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vaults SET is_active = false, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, h model.VaultHistory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_history (vault_id, tvl, apy, timestamp)
		VALUES ($1, $2, $3, $4)
	`, h.VaultID, h.TVL, h.APY, h.Timestamp)
	return err
}

func (s *Store) VaultHistory(ctx context.Context, vaultID string, limit int) ([]model.VaultHistory, error) {
	query := `
		SELECT vault_id, tvl, apy, timestamp FROM (
			SELECT vault_id, tvl, apy, timestamp
			FROM vault_history WHERE vault_id = $1
			ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp ASC
	`
	args := []interface{}{vaultID, limit}
	if limit <= 0 {
		query = `
			SELECT vault_id, tvl, apy, timestamp
			FROM vault_history WHERE vault_id = $1
			ORDER BY timestamp ASC
		`
		args = args[:1]
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]model.VaultHistory, 0)
	for rows.Next() {
		var h model.VaultHistory
		if err := rows.Scan(&h.VaultID, &h.TVL, &h.APY, &h.Timestamp); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// Cursor loads the singleton indexer cursor; a missing or empty row means
// the indexer starts from genesis.
func (s *Store) Cursor(ctx context.Context) (*chain.EventCursor, error) {
	var txDigest, eventSeq *string
	row := s.pool.QueryRow(ctx, `
		SELECT tx_digest, event_seq FROM indexer_cursor WHERE id = $1
	`, cursorRowID)
	if err := row.Scan(&txDigest, &eventSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if txDigest == nil || eventSeq == nil {
		return nil, nil
	}
	return &chain.EventCursor{TxDigest: *txDigest, EventSeq: *eventSeq}, nil
}

func (s *Store) SetCursor(ctx context.Context, cursor chain.EventCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_cursor (id, tx_digest, event_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET tx_digest = EXCLUDED.tx_digest, event_seq = EXCLUDED.event_seq, updated_at = now()
	`, cursorRowID, cursor.TxDigest, cursor.EventSeq)
	return err
}

func (s *Store) Stats(ctx context.Context) (model.VaultStats, error) {
	var stats model.VaultStats
	row := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE is_active),
			COALESCE(sum(tvl) FILTER (WHERE is_active), 0)
		FROM vaults
	`)
	if err := row.Scan(&stats.TotalVaults, &stats.ActiveVaults, &stats.TotalTVL); err != nil {
		return model.VaultStats{}, err
	}
	return stats, nil
}
