package valuation

import "math/big"

// Fixed-point scale for sqrt prices: Q64.64.
const sqrtPriceShift = 64

// floatPrec is ample for sqrt(1.0001^tick) at the full tick range; the
// result fits well under 2^128.
const floatPrec = 256

// TickIndexToSqrtPriceX64 converts a signed tick index to its fixed-point
// square-root price: floor(sqrt(1.0001^tick) * 2^64). All intermediate
// arithmetic is arbitrary-precision.
func TickIndexToSqrtPriceX64(tick int32) *big.Int {
	one := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	base := new(big.Float).SetPrec(floatPrec).Quo(
		new(big.Float).SetPrec(floatPrec).SetInt64(10001),
		new(big.Float).SetPrec(floatPrec).SetInt64(10000),
	)

	exp := tick
	if exp < 0 {
		exp = -exp
	}

	// Exponentiation by squaring.
	pow := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	sq := new(big.Float).SetPrec(floatPrec).Set(base)
	for e := uint32(exp); e > 0; e >>= 1 {
		if e&1 == 1 {
			pow.Mul(pow, sq)
		}
		sq.Mul(sq, sq)
	}
	if tick < 0 {
		pow.Quo(one, pow)
	}

	sqrt := new(big.Float).SetPrec(floatPrec).Sqrt(pow)

	scale := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), sqrtPriceShift))
	scaled := new(big.Float).SetPrec(floatPrec).Mul(sqrt, scale)

	out, _ := scaled.Int(nil)
	return out
}

// AmountsFromLiquidity decomposes liquidity into principal token amounts
// given the pool's current sqrt price and the position's boundary sqrt
// prices (all Q64.64). Below range all value is in token A, above range
// all in token B, inside range it splits. Amounts are floored.
func AmountsFromLiquidity(liquidity, currentSqrt, lowerSqrt, upperSqrt *big.Int) (amountA, amountB *big.Int) {
	if lowerSqrt.Cmp(upperSqrt) > 0 {
		lowerSqrt, upperSqrt = upperSqrt, lowerSqrt
	}

	switch {
	case currentSqrt.Cmp(lowerSqrt) <= 0:
		amountA = amountAForRange(liquidity, lowerSqrt, upperSqrt)
		amountB = new(big.Int)
	case currentSqrt.Cmp(upperSqrt) >= 0:
		amountA = new(big.Int)
		amountB = amountBForRange(liquidity, lowerSqrt, upperSqrt)
	default:
		amountA = amountAForRange(liquidity, currentSqrt, upperSqrt)
		amountB = amountBForRange(liquidity, lowerSqrt, currentSqrt)
	}
	return amountA, amountB
}

// amountAForRange = floor(L * (upper - lower) * 2^64 / (upper * lower)).
func amountAForRange(liquidity, lowerSqrt, upperSqrt *big.Int) *big.Int {
	num := new(big.Int).Sub(upperSqrt, lowerSqrt)
	num.Mul(num, liquidity)
	num.Lsh(num, sqrtPriceShift)
	den := new(big.Int).Mul(upperSqrt, lowerSqrt)
	if den.Sign() == 0 {
		return new(big.Int)
	}
	return num.Div(num, den)
}

// amountBForRange = floor(L * (upper - lower) / 2^64).
func amountBForRange(liquidity, lowerSqrt, upperSqrt *big.Int) *big.Int {
	num := new(big.Int).Sub(upperSqrt, lowerSqrt)
	num.Mul(num, liquidity)
	return num.Rsh(num, sqrtPriceShift)
}

var feeGrowthModulus = new(big.Int).Lsh(big.NewInt(1), 128)

// AccruedFee computes the unclaimed fee for one token:
// owed + ((globalGrowth - positionGrowth) mod 2^128) * liquidity >> 64.
// Growth counters are wrapping u128 values, so the delta is taken modulo
// 2^128 before scaling.
func AccruedFee(owed, globalGrowth, positionGrowth, liquidity *big.Int) *big.Int {
	delta := new(big.Int).Sub(globalGrowth, positionGrowth)
	delta.Mod(delta, feeGrowthModulus)
	delta.Mul(delta, liquidity)
	delta.Rsh(delta, sqrtPriceShift)
	return delta.Add(delta, owed)
}
