package valuation

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultscope/internal/chain"
	"vaultscope/internal/oracle"
)

// defaultCoinDecimals is assumed when coin metadata is unavailable.
const defaultCoinDecimals = 9

// CoinStrategy values raw coin objects like 0x2::coin::Coin<0x2::sui::SUI>.
type CoinStrategy struct {
	reader chain.Reader
	prices oracle.PriceSource
	logger *zap.Logger
}

func NewCoinStrategy(reader chain.Reader, prices oracle.PriceSource, logger *zap.Logger) *CoinStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinStrategy{reader: reader, prices: prices, logger: logger}
}

func (s *CoinStrategy) Protocol() string { return "Native Coin" }

func (s *CoinStrategy) Matches(typeTag string) bool {
	return strings.Contains(typeTag, "::coin::Coin<")
}

func (s *CoinStrategy) Valuate(ctx context.Context, objectID string) decimal.Decimal {
	obj, err := s.reader.GetObject(ctx, objectID)
	if err != nil {
		s.logger.Warn("coin: read object failed", zap.String("object", objectID), zap.Error(err))
		return decimal.Zero
	}
	if obj == nil {
		s.logger.Warn("coin: object absent", zap.String("object", objectID))
		return decimal.Zero
	}

	balance := obj.BigField("balance")
	if balance.Sign() == 0 {
		return decimal.Zero
	}

	coinType := coinTypeFromTag(obj.Type)
	if coinType == "" {
		s.logger.Warn("coin: malformed type tag", zap.String("object", objectID), zap.String("type", obj.Type))
		return decimal.Zero
	}

	amount := decimal.NewFromBigInt(balance, -int32(s.coinDecimals(ctx, coinType)))

	prices, err := s.prices.CurrentPrices(ctx, []string{coinType})
	if err != nil {
		s.logger.Warn("coin: price lookup failed", zap.String("coin", coinType), zap.Error(err))
		return decimal.Zero
	}
	price, ok := prices[coinType]
	if !ok {
		s.logger.Warn("coin: price missing", zap.String("coin", coinType))
		return decimal.Zero
	}

	return amount.Mul(price.Price)
}

func (s *CoinStrategy) coinDecimals(ctx context.Context, coinType string) uint8 {
	meta, err := s.reader.GetCoinMetadata(ctx, coinType)
	if err != nil || meta == nil {
		return defaultCoinDecimals
	}
	return meta.Decimals
}

// coinTypeFromTag extracts the inner coin type from a tag like
// 0x2::coin::Coin<0x2::sui::SUI>, keeping any nested generics intact.
func coinTypeFromTag(typeTag string) string {
	const marker = "::coin::Coin<"
	idx := strings.Index(typeTag, marker)
	if idx < 0 || !strings.HasSuffix(typeTag, ">") {
		return ""
	}
	return typeTag[idx+len(marker) : len(typeTag)-1]
}
