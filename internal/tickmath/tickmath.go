// Package tickmath implements the tick ↔ price arithmetic shared by the
// tick book, the swap engine and the position manager (component C2).
//
// A tick is an integer index on a logarithmic price grid. Moving one tick
// changes the price by one basis point: price(t) = PriceFactor * (1+bp)^t.
package tickmath

import "math/big"

// PriceFactor scales TickToPrice's result; equivalent() divides it back out.
const PriceFactor uint64 = 100_000_000

// OnePercent is the fixed-point unit for percentage-valued quantities
// (funding rate premium, PnL) expressed the same way basis points are.
const OnePercent uint64 = 100

// basisPointNumerator/Denominator encode the per-tick factor 1+bp,
// 10001/10000, as an exact rational so TickToPrice never accumulates
// floating-point error.
const basisPointNumerator = 10_001
const basisPointDenominator = 10_000

// MaxWalk bounds the default horizon a swap or best-offer scan travels
// when the caller supplies no explicit stopping tick.
const MaxWalk uint64 = 50_000

// IntAndDec splits a tick into its bitmap coordinates: the integral (word
// index) and the bit position within that word.
func IntAndDec(tick uint64) (integral uint64, bit uint8) {
	return tick / 128, uint8(tick % 128)
}

// CompressedTick canonicalises a caller-supplied tick to the market's tick
// spacing. A spacing of zero is treated as "no compression".
func CompressedTick(tick, spacing uint64) uint64 {
	if spacing == 0 {
		return tick
	}
	return tick / spacing
}

// DefMaxTick produces a bounded horizon around current, walking up for a
// buy (ascending ticks) and down for a sell, clamped at zero.
func DefMaxTick(current uint64, buy bool) uint64 {
	if buy {
		return current + MaxWalk
	}
	if current < MaxWalk {
		return 0
	}
	return current - MaxWalk
}

// TickToPrice returns price(tick), scaled by PriceFactor, computed with
// exact rational exponentiation so repeated calls never drift.
func TickToPrice(tick uint64) uint64 {
	if tick == 0 {
		return PriceFactor
	}
	num := new(big.Int).Exp(big.NewInt(basisPointNumerator), new(big.Int).SetUint64(tick), nil)
	den := new(big.Int).Exp(big.NewInt(basisPointDenominator), new(big.Int).SetUint64(tick), nil)
	price := new(big.Int).Mul(num, new(big.Int).SetUint64(PriceFactor))
	price.Quo(price, den)
	return price.Uint64()
}

// Equivalent converts amount between base and quote at tick's price,
// rounding toward zero. buy=true converts a quote amount into base
// (dividing by price); buy=false converts a base amount into quote
// (multiplying by price). The two directions are inverse-consistent up
// to truncation.
func Equivalent(amount, tick uint64, buy bool) uint64 {
	price := TickToPrice(tick)
	if price == 0 {
		return 0
	}
	if buy {
		return amount * PriceFactor / price
	}
	return amount * price / PriceFactor
}
