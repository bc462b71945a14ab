package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
	"vaultscope/internal/storage"
)

// DefaultBatchSize is the event page size requested per poll.
const DefaultBatchSize = 50

// TransientError wraps a remote-read failure: nothing was applied and
// the next tick can safely retry from the same cursor.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient index error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RecomputeRequester accepts recompute requests keyed by vault id.
type RecomputeRequester interface {
	Request(vaultID string) bool
}

// Config identifies the tracked event stream.
type Config struct {
	PackageID string
	Module    string
	BatchSize int
}

// Indexer advances a durable cursor over the chain's event log and
// applies each event as an idempotent state transition.
type Indexer struct {
	cfg       Config
	reader    chain.Reader
	store     storage.Store
	recompute RecomputeRequester
	logger    *zap.Logger
	inFlight  atomic.Bool
}

func New(cfg Config, reader chain.Reader, store storage.Store, recompute RecomputeRequester, logger *zap.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		cfg:       cfg,
		reader:    reader,
		store:     store,
		recompute: recompute,
		logger:    logger,
	}
}

// Bootstrap ensures the cursor row exists; a fresh deployment starts
// from genesis.
func (ix *Indexer) Bootstrap(ctx context.Context) error {
	_, err := ix.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	return nil
}

// PollOnce reads one batch of events after the cursor and applies them
// in chain order. The cursor is persisted only after every event in the
// batch has been applied, so a failure partway through leaves the whole
// batch to be replayed. Only one poll runs at a time; a concurrent
// trigger is dropped, not queued.
func (ix *Indexer) PollOnce(ctx context.Context) error {
	if !ix.inFlight.CompareAndSwap(false, true) {
		ix.logger.Debug("poll already in flight, skipping")
		return nil
	}
	defer ix.inFlight.Store(false)

	cursor, err := ix.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	page, err := ix.reader.QueryEvents(ctx, ix.cfg.PackageID, ix.cfg.Module, cursor, ix.cfg.BatchSize)
	if err != nil {
		return &TransientError{Err: err}
	}
	if len(page.Events) == 0 {
		ix.logger.Debug("no new events")
		return nil
	}

	ix.logger.Info("processing events", zap.Int("count", len(page.Events)))

	for _, event := range page.Events {
		if err := ix.apply(ctx, event); err != nil {
			return fmt.Errorf("apply event %s: %w", event.Type, err)
		}
	}

	end := page.NextCursor
	if end == nil {
		end = &page.Events[len(page.Events)-1].ID
	}
	if err := ix.store.SetCursor(ctx, *end); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// apply dispatches one event. Every handler is idempotent under
// at-least-once replay.
func (ix *Indexer) apply(ctx context.Context, event chain.Event) error {
	name := event.Type
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		name = name[idx+2:]
	}

	switch name {
	case model.EventVaultCreated:
		var payload model.VaultCreatedEvent
		if err := json.Unmarshal(event.ParsedJSON, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return ix.handleVaultCreated(ctx, payload, event)
	case model.EventAssetDeposited:
		var payload model.AssetDepositedEvent
		if err := json.Unmarshal(event.ParsedJSON, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		ix.logger.Info("asset deposited", zap.String("vault", payload.VaultID))
		ix.recompute.Request(payload.VaultID)
		return nil
	case model.EventAssetWithdrawn:
		var payload model.AssetWithdrawnEvent
		if err := json.Unmarshal(event.ParsedJSON, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		ix.logger.Info("asset withdrawn", zap.String("vault", payload.VaultID))
		ix.recompute.Request(payload.VaultID)
		return nil
	case model.EventVaultDestroyed:
		var payload model.VaultDestroyedEvent
		if err := json.Unmarshal(event.ParsedJSON, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return ix.handleVaultDestroyed(ctx, payload)
	default:
		ix.logger.Warn("unknown event type, skipping", zap.String("type", event.Type))
		return nil
	}
}

func (ix *Indexer) handleVaultCreated(ctx context.Context, payload model.VaultCreatedEvent, event chain.Event) error {
	createdAt := eventTime(payload.Timestamp, event.TimestampMs)
	ix.logger.Info("vault created", zap.String("vault", payload.ID))

	inserted, err := ix.store.UpsertVault(ctx, storage.VaultUpsert{
		ID:           payload.ID,
		Owner:        payload.Owner,
		Name:         payload.Name,
		StrategyType: payload.StrategyType,
		CreatedAt:    createdAt,
	})
	if err != nil {
		return fmt.Errorf("upsert vault: %w", err)
	}
	if !inserted {
		// Replay: the initial history row already exists.
		return nil
	}

	if err := ix.store.AppendHistory(ctx, model.VaultHistory{
		VaultID:   payload.ID,
		TVL:       decimal.Zero,
		APY:       decimal.Zero,
		Timestamp: createdAt,
	}); err != nil {
		return fmt.Errorf("append initial history: %w", err)
	}
	return nil
}

func (ix *Indexer) handleVaultDestroyed(ctx context.Context, payload model.VaultDestroyedEvent) error {
	ix.logger.Info("vault destroyed", zap.String("vault", payload.ID))
	if err := ix.store.DeactivateVault(ctx, payload.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ix.logger.Warn("destroy for unknown vault", zap.String("vault", payload.ID))
			return nil
		}
		return fmt.Errorf("deactivate vault: %w", err)
	}
	return nil
}

// eventTime parses a millisecond timestamp, preferring the payload's own
// field over the event envelope's.
func eventTime(payloadMs, envelopeMs string) time.Time {
	for _, raw := range []string{payloadMs, envelopeMs} {
		if raw == "" {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}
