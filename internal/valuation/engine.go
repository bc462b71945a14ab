package valuation

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/chain"
	"vaultscope/internal/model"
)

// Engine enumerates a vault's custodied assets and values each through
// the strategy registry.
type Engine struct {
	reader   chain.Reader
	registry *Registry
	logger   *zap.Logger
}

func NewEngine(reader chain.Reader, registry *Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reader: reader, registry: registry, logger: logger}
}

// Positions values every child object the vault owns. Unclaimed asset
// types are included with protocol "Unknown" and value zero; a failed
// child fetch is skipped without aborting the rest.
func (e *Engine) Positions(ctx context.Context, vaultID string) ([]model.Position, error) {
	children, err := e.reader.GetDynamicFields(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	positions := make([]model.Position, 0, len(children))
	for _, child := range children {
		obj, err := e.reader.GetObject(ctx, child.ObjectID)
		if err != nil {
			e.logger.Warn("skip unreadable child", zap.String("vault", vaultID), zap.String("object", child.ObjectID), zap.Error(err))
			continue
		}
		if obj == nil || obj.Type == "" {
			e.logger.Warn("skip child without type", zap.String("vault", vaultID), zap.String("object", child.ObjectID))
			continue
		}

		strategy := e.registry.Resolve(obj.Type)
		if strategy == nil {
			positions = append(positions, model.Position{
				ObjectID: child.ObjectID,
				Type:     obj.Type,
				Protocol: model.ProtocolUnknown,
				ValueUSD: decimal.Zero,
			})
			continue
		}

		positions = append(positions, model.Position{
			ObjectID: child.ObjectID,
			Type:     obj.Type,
			Protocol: strategy.Protocol(),
			ValueUSD: strategy.Valuate(ctx, child.ObjectID),
		})
	}
	return positions, nil
}

// TotalValue sums the USD value of all positions. This live computation,
// not any stored tvl field, is the source of truth at recompute time.
func (e *Engine) TotalValue(ctx context.Context, vaultID string) (decimal.Decimal, error) {
	positions, err := e.Positions(ctx, vaultID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.ValueUSD)
	}
	return total, nil
}
