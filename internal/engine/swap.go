// Package engine implements the swap engine (component C5): walking
// the tick book in one direction, draining resting liquidity tick by
// tick until the order is filled or a stopping tick is reached.
package engine

import (
	"perpmatch/internal/book"
	"perpmatch/internal/tickmath"
)

// Result is the outcome of a Swap call.
type Result struct {
	// AmountOut is the amount received, in the taker's output unit:
	// base for a buy, quote for a sell.
	AmountOut uint64
	// AmountRemaining is the amount left unspent, in the taker's input
	// unit: quote for a buy, base for a sell.
	AmountRemaining uint64
	// ResultingTick is the last tick the walk reached.
	ResultingTick uint64
	// CrossedTicks are the ticks fully drained to zero during this
	// walk, in the order they were crossed. Each one needs converting
	// from a limit-order position into a market position by the caller.
	CrossedTicks []uint64
}

// Swap consumes size of liquidity starting at initTick, walking toward
// stoppingTick (ascending for a buy, descending for a sell), both
// inclusive, until size is exhausted or the book runs out of resting
// liquidity in range.
func Swap(b *book.Book, size uint64, buy bool, initTick, stoppingTick uint64) Result {
	restingSide := book.SideSell
	if !buy {
		restingSide = book.SideBuy
	}

	res := Result{AmountRemaining: size, ResultingTick: initTick}
	if size == 0 {
		return res
	}

	curTick := initTick
	first := true
	for {
		var tick uint64
		var ok bool
		if first {
			if rec, has := b.Get(curTick); has && rec.State == restingSide {
				tick, ok = curTick, true
			} else {
				tick, ok = b.NextPopulated(restingSide, curTick, buy)
			}
			first = false
		} else {
			var from uint64
			if buy {
				from = curTick + 1
			} else if curTick == 0 {
				break
			} else {
				from = curTick - 1
			}
			tick, ok = b.NextPopulated(restingSide, from, buy)
		}
		if !ok {
			break
		}
		if buy && tick > stoppingTick {
			break
		}
		if !buy && tick < stoppingTick {
			break
		}

		rec, has := b.Get(tick)
		if !has {
			break
		}
		avail := rec.Boundary.Within()

		want := tickmath.Equivalent(res.AmountRemaining, tick, buy)
		take := want
		if avail < take {
			take = avail
		}
		if take > 0 {
			res.AmountOut += take
			consumed := tickmath.Equivalent(take, tick, !buy)
			// When this tick covers everything still wanted, the whole
			// remaining input is spent here; converting take back would
			// otherwise leave truncation dust unfilled.
			if take == want || consumed > res.AmountRemaining {
				consumed = res.AmountRemaining
			}
			res.AmountRemaining -= consumed
			if b.Drain(tick, take) {
				res.CrossedTicks = append(res.CrossedTicks, tick)
			}
		}
		curTick = tick
		res.ResultingTick = tick

		if res.AmountRemaining == 0 || take == 0 {
			break
		}
	}
	return res
}
