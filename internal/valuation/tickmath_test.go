package valuation

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickIndexToSqrtPriceX64Zero(t *testing.T) {
	want := new(big.Int).Lsh(big.NewInt(1), 64)
	assert.Equal(t, want, TickIndexToSqrtPriceX64(0))
}

func TestTickIndexToSqrtPriceX64Monotone(t *testing.T) {
	prev := TickIndexToSqrtPriceX64(-100)
	for _, tick := range []int32{-50, -1, 0, 1, 50, 100} {
		cur := TickIndexToSqrtPriceX64(tick)
		assert.Equal(t, 1, cur.Cmp(prev), "tick %d", tick)
		prev = cur
	}
}

func TestTickIndexToSqrtPriceX64Reciprocal(t *testing.T) {
	// sqrt(1.0001^t) * sqrt(1.0001^-t) == 1, so the product of the two
	// fixed-point values is ~2^128 up to flooring error.
	one := new(big.Int).Lsh(big.NewInt(1), 128)
	// Flooring each factor can lose up to ~2^96 at the extreme ticks.
	tolerance := new(big.Int).Lsh(big.NewInt(1), 100)
	for _, tick := range []int32{1, 1000, 100000, 443000} {
		pos := TickIndexToSqrtPriceX64(tick)
		neg := TickIndexToSqrtPriceX64(-tick)
		product := new(big.Int).Mul(pos, neg)
		diff := new(big.Int).Sub(product, one)
		diff.Abs(diff)
		assert.True(t, diff.Cmp(tolerance) < 0, "tick %d: product off by %s", tick, diff)
	}
}

func TestTickIndexToSqrtPriceX64KnownValue(t *testing.T) {
	// 1.0001^2 = 1.00020001, sqrt = 1.0001 exactly, so the result is
	// floor(1.0001 * 2^64).
	got := TickIndexToSqrtPriceX64(2)
	want, _ := new(big.Int).SetString("18448588748116922571", 10)
	diff := new(big.Int).Sub(got, want)
	assert.LessOrEqual(t, diff.Abs(diff).Int64(), int64(1))
}

func TestAmountsFromLiquidityBelowRange(t *testing.T) {
	lower := TickIndexToSqrtPriceX64(0)
	upper := TickIndexToSqrtPriceX64(10000)
	current := TickIndexToSqrtPriceX64(-5000)
	liquidity := big.NewInt(1_000_000_000)

	amountA, amountB := AmountsFromLiquidity(liquidity, current, lower, upper)
	assert.Equal(t, 1, amountA.Sign())
	assert.Equal(t, 0, amountB.Sign())
}

func TestAmountsFromLiquidityAboveRange(t *testing.T) {
	lower := TickIndexToSqrtPriceX64(0)
	upper := TickIndexToSqrtPriceX64(10000)
	current := TickIndexToSqrtPriceX64(20000)
	liquidity := big.NewInt(1_000_000_000)

	amountA, amountB := AmountsFromLiquidity(liquidity, current, lower, upper)
	assert.Equal(t, 0, amountA.Sign())
	assert.Equal(t, 1, amountB.Sign())
}

func TestAmountsFromLiquidityInRange(t *testing.T) {
	lower := TickIndexToSqrtPriceX64(-10000)
	upper := TickIndexToSqrtPriceX64(10000)
	current := TickIndexToSqrtPriceX64(0)
	liquidity := big.NewInt(1_000_000_000)

	amountA, amountB := AmountsFromLiquidity(liquidity, current, lower, upper)
	assert.Equal(t, 1, amountA.Sign())
	assert.Equal(t, 1, amountB.Sign())

	// Symmetric range around tick 0 holds near-equal amounts of both.
	diff := new(big.Int).Sub(amountA, amountB)
	diff.Abs(diff)
	bound := new(big.Int).Div(amountA, big.NewInt(100))
	assert.True(t, diff.Cmp(bound) <= 0, "amounts should be within 1%%: A=%s B=%s", amountA, amountB)
}

func TestAmountsFromLiquidityInRangeSumsToFullRange(t *testing.T) {
	lower := TickIndexToSqrtPriceX64(-1000)
	upper := TickIndexToSqrtPriceX64(1000)
	current := TickIndexToSqrtPriceX64(500)
	liquidity := big.NewInt(5_000_000_000)

	amountA, amountB := AmountsFromLiquidity(liquidity, current, lower, upper)
	fullA, _ := AmountsFromLiquidity(liquidity, lower, lower, upper)
	_, fullB := AmountsFromLiquidity(liquidity, upper, lower, upper)

	assert.True(t, amountA.Cmp(fullA) < 0)
	assert.True(t, amountB.Cmp(fullB) < 0)
}

func TestAmountsFromLiquiditySwappedBounds(t *testing.T) {
	lower := TickIndexToSqrtPriceX64(-1000)
	upper := TickIndexToSqrtPriceX64(1000)
	current := TickIndexToSqrtPriceX64(0)
	liquidity := big.NewInt(1_000_000)

	a1, b1 := AmountsFromLiquidity(liquidity, current, lower, upper)
	a2, b2 := AmountsFromLiquidity(liquidity, current, upper, lower)
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
}

func TestAccruedFee(t *testing.T) {
	owed := big.NewInt(100)
	liquidity := big.NewInt(1 << 10)
	global := new(big.Int).Lsh(big.NewInt(3), 64) // growth delta of 2 << 64
	position := new(big.Int).Lsh(big.NewInt(1), 64)

	got := AccruedFee(owed, global, position, liquidity)
	// 100 + 2 * 1024
	assert.Equal(t, int64(2148), got.Int64())
}

func TestAccruedFeeWrapAround(t *testing.T) {
	// Global counter wrapped past 2^128; delta must still be positive.
	owed := new(big.Int)
	liquidity := new(big.Int).Lsh(big.NewInt(1), 64)
	global := big.NewInt(5)
	position := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(3))

	got := AccruedFee(owed, global, position, liquidity)
	require.Equal(t, int64(8), got.Int64())
}

func TestAccruedFeeExceeds64Bit(t *testing.T) {
	// Growth delta times liquidity overflows 64-bit range before the
	// shift; big.Int arithmetic must carry it.
	owed := new(big.Int)
	liquidity, _ := new(big.Int).SetString("18446744073709551616", 10) // 2^64
	global := new(big.Int).Lsh(big.NewInt(1), 100)
	position := new(big.Int)

	got := AccruedFee(owed, global, position, liquidity)
	want := new(big.Int).Lsh(big.NewInt(1), 100)
	assert.Equal(t, want, got)
}
