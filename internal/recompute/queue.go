package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

// ErrVaultNotFound marks a recompute target that no longer exists; such
// jobs are dropped without retry.
var ErrVaultNotFound = errors.New("vault not found")

// Engine computes the live total value of one vault.
type Engine interface {
	TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error)
}

// FailedJob is a recompute job retained after exhausting its retries.
type FailedJob struct {
	VaultID   string    `json:"vaultId"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
	FailedAt  time.Time `json:"failedAt"`
}

// Config tunes the worker pool and retry policy.
type Config struct {
	Workers        int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

// Queue serializes per-vault TVL recomputation. The dedup key is the
// vault id: at most one not-yet-started job per vault is held at a time,
// while a request racing an in-flight execution becomes a fresh pending
// job so deposits during a recompute are not lost. Two jobs for the same
// vault may overlap in execution; the stored tvl is last-writer-wins.
type Queue struct {
	cfg    Config
	ctx    context.Context
	store  storage.Store
	engine Engine
	logger *zap.Logger
	pool   pond.Pool

	mu      sync.Mutex
	pending map[string]struct{}
	failed  []FailedJob
}

// NewQueue builds the queue and starts its worker pool. ctx bounds all
// job execution; cancel it (or call Close) to stop accepting work.
func NewQueue(ctx context.Context, cfg Config, store storage.Store, engine Engine, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:     cfg,
		ctx:     ctx,
		store:   store,
		engine:  engine,
		logger:  logger,
		pool:    pond.NewPool(cfg.Workers, pond.WithQueueSize(1024)),
		pending: make(map[string]struct{}),
	}
}

// Request enqueues a recompute for the vault. A request for a vault that
// already has a pending job coalesces into it; the return value reports
// whether a new job was created.
func (q *Queue) Request(vaultID string) bool {
	q.mu.Lock()
	if _, dup := q.pending[vaultID]; dup {
		q.mu.Unlock()
		q.logger.Debug("recompute coalesced", zap.String("vault", vaultID))
		return false
	}
	q.pending[vaultID] = struct{}{}
	q.mu.Unlock()

	q.pool.Submit(func() {
		q.run(vaultID)
	})
	return true
}

// SyncAllActive requests one recompute per active vault and returns the
// number of newly enqueued jobs.
func (q *Queue) SyncAllActive(ctx context.Context) (int, error) {
	active := true
	vaults, _, err := q.store.ListVaults(ctx, storage.VaultFilter{IsActive: &active})
	if err != nil {
		return 0, fmt.Errorf("list active vaults: %w", err)
	}
	enqueued := 0
	for _, v := range vaults {
		if q.Request(v.ID) {
			enqueued++
		}
	}
	q.logger.Info("full sync requested", zap.Int("vaults", len(vaults)), zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// FailedJobs returns jobs retained after retry exhaustion, newest last.
func (q *Queue) FailedJobs() []FailedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedJob, len(q.failed))
	copy(out, q.failed)
	return out
}

// Close drains in-flight jobs and stops the pool.
func (q *Queue) Close() {
	q.pool.StopAndWait()
}

func (q *Queue) run(vaultID string) {
	// The job is now executing, so the pending slot opens up for a
	// follow-up request.
	q.mu.Lock()
	delete(q.pending, vaultID)
	q.mu.Unlock()

	delay := q.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err := q.process(q.ctx, vaultID)
		if err == nil {
			return
		}
		if errors.Is(err, ErrVaultNotFound) {
			q.logger.Warn("recompute dropped, vault gone", zap.String("vault", vaultID))
			return
		}
		lastErr = err
		q.logger.Warn("recompute attempt failed",
			zap.String("vault", vaultID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == q.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			lastErr = q.ctx.Err()
			attempt = q.cfg.MaxAttempts
		case <-timer.C:
		}
		delay *= 2
	}

	q.mu.Lock()
	q.failed = append(q.failed, FailedJob{
		VaultID:   vaultID,
		Attempts:  q.cfg.MaxAttempts,
		LastError: lastErr.Error(),
		FailedAt:  time.Now().UTC(),
	})
	q.mu.Unlock()
	q.logger.Error("recompute failed permanently", zap.String("vault", vaultID), zap.Error(lastErr))
}

// process runs one recompute attempt: value the vault live, persist the
// new tvl, and append a history snapshot.
func (q *Queue) process(ctx context.Context, vaultID string) error {
	if _, err := q.store.GetVault(ctx, vaultID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrVaultNotFound
		}
		return fmt.Errorf("load vault: %w", err)
	}

	tvl, err := q.engine.TotalValue(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("value vault: %w", err)
	}

	now := time.Now().UTC()
	if err := q.store.SetVaultTVL(ctx, vaultID, tvl, now); err != nil {
		return fmt.Errorf("persist tvl: %w", err)
	}
	if err := q.store.AppendHistory(ctx, model.VaultHistory{
		VaultID:   vaultID,
		TVL:       tvl,
		APY:       decimal.Zero,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	q.logger.Info("vault tvl updated", zap.String("vault", vaultID), zap.String("tvl", tvl.String()))
	return nil
}
