package valuation

import (
	"context"

	"github.com/shopspring/decimal"
)

// Strategy values one family of on-chain asset types. Valuate must
// contain its own failures: anything unpriceable degrades to zero so a
// single bad asset never aborts valuation of the rest of a vault.
type Strategy interface {
	// Protocol is the label attached to positions this strategy values.
	Protocol() string
	// Matches reports whether this strategy claims the asset type tag.
	Matches(typeTag string) bool
	// Valuate computes the USD value of the object, or zero.
	Valuate(ctx context.Context, objectID string) decimal.Decimal
}

// Registry holds strategies in a fixed order. Strategies are mutually
// exclusive by type-tag convention; if two ever overlap, first match
// wins.
type Registry struct {
	strategies []Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Resolve returns the first strategy claiming the type tag, or nil.
func (r *Registry) Resolve(typeTag string) Strategy {
	for _, s := range r.strategies {
		if s.Matches(typeTag) {
			return s
		}
	}
	return nil
}
