// Package order implements the limit-order lifecycle (component C4):
// opening a resting order against the tick book and later closing it to
// learn how much filled, using the boundary trick instead of a
// per-tick FIFO queue.
package order

import "perpmatch/internal/book"

// LimitOrder is a snapshot of a resting order's position within its
// tick's liquidity boundary at the moment it was opened. Fill amount
// on close is computed purely from this snapshot and the tick's
// current boundary/generation — no queue entry is ever touched.
type LimitOrder struct {
	Buy               bool
	OrderSize         uint64
	RefTick           uint64
	InitLowerBound    uint64
	InitRemoved       uint64
	InitTickTimestamp uint64
}

// sideFor maps the order's buy flag to the tick side it rests on: buy
// orders rest on the buy side holding quote-denominated size, sell
// orders rest on the sell side holding base-denominated size.
func sideFor(buy bool) book.Side {
	if buy {
		return book.SideBuy
	}
	return book.SideSell
}

// Open adds size of liquidity at tick on the side matching buy, and
// returns the resulting resting order snapshot.
func Open(b *book.Book, tick uint64, buy bool, size uint64) (*LimitOrder, error) {
	lower, removed, ts, err := b.OpenAt(tick, sideFor(buy), size)
	if err != nil {
		return nil, err
	}
	return &LimitOrder{
		Buy:               buy,
		OrderSize:         size,
		RefTick:           tick,
		InitLowerBound:    lower,
		InitRemoved:       removed,
		InitTickTimestamp: ts,
	}, nil
}

// Close reads the order's current fill state from the tick book and
// cancels any unfilled remainder. filled and remaining are both
// denominated in the order's own resting unit (quote for a buy order,
// base for a sell order); convert with tickmath.Equivalent for the
// opposite unit. ok is always true: a missing tick record means the
// tick was drained to zero and destroyed, which counts as a full fill.
func Close(b *book.Book, o *LimitOrder) (filled, remaining uint64, ok bool) {
	rec, found := b.Get(o.RefTick)
	if !found || rec.CreatedTS != o.InitTickTimestamp {
		// The tick was fully drained (and possibly recreated) since this
		// order opened: it necessarily passed through zero liquidity, so
		// the order's entire window was consumed.
		return o.OrderSize, 0, true
	}
	filled = rec.Boundary.FilledWithin(o.InitLowerBound, o.OrderSize)
	remaining = o.OrderSize - filled
	if remaining > 0 {
		b.CloseAt(o.RefTick, remaining)
	}
	return filled, remaining, true
}
