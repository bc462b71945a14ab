package valuation

import (
	"context"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/chain"
	"vaultscope/internal/oracle"
)

// ClmmPositionStrategy values concentrated-liquidity position objects:
// principal amounts decomposed from liquidity plus accrued-but-unclaimed
// fees, both converted to USD at current spot prices.
type ClmmPositionStrategy struct {
	reader chain.Reader
	prices oracle.PriceSource
	logger *zap.Logger
}

func NewClmmPositionStrategy(reader chain.Reader, prices oracle.PriceSource, logger *zap.Logger) *ClmmPositionStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClmmPositionStrategy{reader: reader, prices: prices, logger: logger}
}

func (s *ClmmPositionStrategy) Protocol() string { return "Cetus" }

func (s *ClmmPositionStrategy) Matches(typeTag string) bool {
	return strings.Contains(typeTag, "::position::Position")
}

func (s *ClmmPositionStrategy) Valuate(ctx context.Context, objectID string) decimal.Decimal {
	position, err := s.reader.GetObject(ctx, objectID)
	if err != nil {
		s.logger.Warn("clmm: read position failed", zap.String("object", objectID), zap.Error(err))
		return decimal.Zero
	}
	if position == nil {
		s.logger.Warn("clmm: position absent", zap.String("object", objectID))
		return decimal.Zero
	}

	liquidity := position.BigField("liquidity")
	if liquidity.Sign() == 0 {
		return decimal.Zero
	}

	poolID := position.StringField("pool")
	pool, err := s.reader.GetObject(ctx, poolID)
	if err != nil {
		s.logger.Warn("clmm: read pool failed", zap.String("pool", poolID), zap.Error(err))
		return decimal.Zero
	}
	if pool == nil {
		s.logger.Warn("clmm: pool absent", zap.String("pool", poolID), zap.String("position", objectID))
		return decimal.Zero
	}

	tickLower, err := position.TickField("tick_lower", "tick_lower_index")
	if err != nil {
		s.logger.Warn("clmm: decode lower tick failed", zap.String("object", objectID), zap.Error(err))
		return decimal.Zero
	}
	tickUpper, err := position.TickField("tick_upper", "tick_upper_index")
	if err != nil {
		s.logger.Warn("clmm: decode upper tick failed", zap.String("object", objectID), zap.Error(err))
		return decimal.Zero
	}

	currentSqrt := pool.BigField("current_sqrt_price")
	lowerSqrt := TickIndexToSqrtPriceX64(tickLower)
	upperSqrt := TickIndexToSqrtPriceX64(tickUpper)

	amountA, amountB := AmountsFromLiquidity(liquidity, currentSqrt, lowerSqrt, upperSqrt)

	totalA := new(big.Int).Add(amountA, AccruedFee(
		firstBigField(position, "fee_owed_coin_a", "fee_owed_a"),
		pool.BigField("fee_growth_global_a"),
		position.BigField("fee_growth_inside_a"),
		liquidity,
	))
	totalB := new(big.Int).Add(amountB, AccruedFee(
		firstBigField(position, "fee_owed_coin_b", "fee_owed_b"),
		pool.BigField("fee_growth_global_b"),
		position.BigField("fee_growth_inside_b"),
		liquidity,
	))

	coinTypeA, coinTypeB := poolCoinTypes(pool)
	if coinTypeA == "" || coinTypeB == "" {
		s.logger.Warn("clmm: pool coin types unresolved", zap.String("pool", poolID), zap.String("type", pool.Type))
		return decimal.Zero
	}

	readableA := decimal.NewFromBigInt(totalA, -int32(s.coinDecimals(ctx, coinTypeA)))
	readableB := decimal.NewFromBigInt(totalB, -int32(s.coinDecimals(ctx, coinTypeB)))

	prices, err := s.prices.CurrentPrices(ctx, []string{coinTypeA, coinTypeB})
	if err != nil {
		s.logger.Warn("clmm: price lookup failed", zap.String("pool", poolID), zap.Error(err))
		return decimal.Zero
	}

	// A missing price defaults that token's contribution to zero rather
	// than failing the whole position.
	value := decimal.Zero
	if p, ok := prices[coinTypeA]; ok {
		value = value.Add(readableA.Mul(p.Price))
	} else {
		s.logger.Warn("clmm: price missing", zap.String("coin", coinTypeA))
	}
	if p, ok := prices[coinTypeB]; ok {
		value = value.Add(readableB.Mul(p.Price))
	} else {
		s.logger.Warn("clmm: price missing", zap.String("coin", coinTypeB))
	}
	return value
}

func (s *ClmmPositionStrategy) coinDecimals(ctx context.Context, coinType string) uint8 {
	meta, err := s.reader.GetCoinMetadata(ctx, coinType)
	if err != nil || meta == nil {
		return defaultCoinDecimals
	}
	return meta.Decimals
}

func firstBigField(obj *chain.Object, names ...string) *big.Int {
	for _, name := range names {
		if _, ok := obj.Fields[name]; ok {
			return obj.BigField(name)
		}
	}
	return new(big.Int)
}

// poolCoinTypes resolves the pool's token pair, preferring explicit
// coin_type fields and falling back to the pool type tag's generic
// parameters (Pool<A, B>).
func poolCoinTypes(pool *chain.Object) (string, string) {
	coinA := pool.StringField("coin_type_a")
	coinB := pool.StringField("coin_type_b")
	if coinA != "" && coinB != "" {
		return coinA, coinB
	}

	params := typeParams(pool.Type)
	if len(params) >= 2 {
		return params[0], params[1]
	}
	return coinA, coinB
}

// typeParams splits the generic parameters of a Move type tag at the top
// nesting level.
func typeParams(typeTag string) []string {
	open := strings.Index(typeTag, "<")
	if open < 0 || !strings.HasSuffix(typeTag, ">") {
		return nil
	}
	inner := typeTag[open+1 : len(typeTag)-1]

	var params []string
	depth := 0
	start := 0
	for i, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(inner[start:]); tail != "" {
		params = append(params, tail)
	}
	return params
}
