// Package book implements the tick book (component C3) and the
// best-offer cache derived from it (component C9).
package book

// Side identifies which side of the book a populated tick currently
// rests on.
type Side uint8

const (
	// SideBuy means the tick holds resting buy (bid) liquidity.
	SideBuy Side = iota
	// SideSell means the tick holds resting sell (ask) liquidity.
	SideSell
)

// LiquidityBoundary is the prefix-sum accounting triple that lets a
// limit order compute its own fill amount without a per-order FIFO
// queue at the tick. UpperBound and LowerBound are cumulative
// add/remove counters for the tick's *current generation*; an order
// captures its own [lowerBoundAtOpen, lowerBoundAtOpen+size) window
// into that prefix sum and, on close, measures how much of that window
// has been consumed by comparing it against the current LowerBound.
// LifetimeRemoved advances with LowerBound on every drain or
// cancellation; it lives in the tick record, so it starts again from
// zero when a destroyed tick is recreated. No fill computation reads it.
type LiquidityBoundary struct {
	UpperBound      uint64
	LowerBound      uint64
	LifetimeRemoved uint64
}

// Within returns the liquidity currently resting at this boundary.
func (b *LiquidityBoundary) Within() uint64 {
	return b.UpperBound - b.LowerBound
}

// AddLiquidity appends amount to the tick's prefix sum and returns the
// window an order opened against it should remember: the lower bound
// at the moment of opening, and the drain pointer at that moment (used
// to detect whether any draining at all happened before this order was
// placed, for diagnostics/ordering, not fill math).
func (b *LiquidityBoundary) AddLiquidity(amount uint64) (initLowerBound, initRemoved uint64) {
	initLowerBound = b.UpperBound
	initRemoved = b.LowerBound
	b.UpperBound += amount
	return initLowerBound, initRemoved
}

// RemoveLiquidity drains amount from the tick, advancing the FIFO
// pointer. Called by the swap engine as it consumes resting liquidity.
func (b *LiquidityBoundary) RemoveLiquidity(amount uint64) {
	b.LowerBound += amount
	b.LifetimeRemoved += amount
}

// ReduceBoundary cancels amount of never-filled liquidity at the tick,
// used when a partially- or fully-unfilled order closes its remainder.
// This must advance LowerBound/LifetimeRemoved exactly like
// RemoveLiquidity, not shrink UpperBound: UpperBound is the frozen
// high-water mark every other order resting at this tick already
// captured as its own InitLowerBound, and shrinking it retroactively
// would pull a later order's window below an earlier order's, corrupting
// the FIFO coordinate space for every order still resting at the tick.
// A cancellation simply advances the drain pointer over the cancelled
// span without transferring any value to the other side.
func (b *LiquidityBoundary) ReduceBoundary(amount uint64) {
	b.LowerBound += amount
	b.LifetimeRemoved += amount
}

// FilledWithin returns how much of the window [lowerBoundAtOpen,
// lowerBoundAtOpen+size) has been drained given the boundary's current
// LowerBound, clamped to [0, size].
func (b *LiquidityBoundary) FilledWithin(lowerBoundAtOpen, size uint64) uint64 {
	if b.LowerBound <= lowerBoundAtOpen {
		return 0
	}
	filled := b.LowerBound - lowerBoundAtOpen
	if filled > size {
		return size
	}
	return filled
}
