package book

import (
	"errors"

	"github.com/tidwall/btree"

	"perpmatch/internal/bitmap"
)

// ErrTickOccupiedByOtherSide is returned when a liquidity add targets a
// tick already resting liquidity on the opposite side.
var ErrTickOccupiedByOtherSide = errors.New("tick occupied by the other side")

// TickRecord is the book's entry at one populated tick: which side it
// rests on, its prefix-sum accounting, and a generation counter that
// strictly increases every time the tick is fully drained and later
// repopulated.
type TickRecord struct {
	Tick      uint64
	State     Side
	Boundary  LiquidityBoundary
	CreatedTS uint64
}

// Book is the tick-indexed order book: a sparse ordered map of
// populated ticks plus the two-level bitmap index used to find the
// next populated tick in either direction without scanning the map.
type Book struct {
	ticks    *btree.BTreeG[*TickRecord]
	bitsBuy  *bitmap.Index
	bitsSell *bitmap.Index

	// generation is a monotonically increasing counter, incremented on
	// every tick creation (the new value becomes the record's CreatedTS)
	// and every tick destruction, so CreatedTS values across different
	// ticks are never mistaken for one another.
	generation uint64

	highestBuy uint64
	haveBuy    bool
	lowestSell uint64
	haveSell   bool
}

// New returns an empty tick book.
func New() *Book {
	ticks := btree.NewBTreeG(func(a, b *TickRecord) bool {
		return a.Tick < b.Tick
	})
	return &Book{ticks: ticks, bitsBuy: bitmap.New(), bitsSell: bitmap.New()}
}

func (b *Book) bitsFor(side Side) *bitmap.Index {
	if side == SideBuy {
		return b.bitsBuy
	}
	return b.bitsSell
}

// Get returns the tick record at tick, if populated.
func (b *Book) Get(tick uint64) (*TickRecord, bool) {
	return b.ticks.Get(&TickRecord{Tick: tick})
}

// OpenAt adds amount of liquidity to tick on the given side, creating
// the tick record if absent. Returns the window the caller's limit
// order should remember (lower bound at open, drain pointer at open,
// and the tick's current generation timestamp) to later compute its
// own fill.
func (b *Book) OpenAt(tick uint64, side Side, amount uint64) (initLowerBound, initRemoved, createdTS uint64, err error) {
	rec, ok := b.ticks.Get(&TickRecord{Tick: tick})
	if !ok {
		b.generation++
		rec = &TickRecord{Tick: tick, State: side, CreatedTS: b.generation}
		b.ticks.Set(rec)
	} else if rec.State != side {
		return 0, 0, 0, ErrTickOccupiedByOtherSide
	}
	wasEmpty := rec.Boundary.Within() == 0
	initLowerBound, initRemoved = rec.Boundary.AddLiquidity(amount)
	if wasEmpty && amount > 0 {
		b.bitsFor(side).Set(tick)
		b.refreshBestOfferOnOpen(tick, side)
	}
	return initLowerBound, initRemoved, rec.CreatedTS, nil
}

// CloseAt removes amount of unfilled liquidity from tick (a cancelled
// limit order's remainder), destroying the tick record once it drains
// to zero. Destruction bumps the generation counter so any order that
// spans the destruction sees a changed CreatedTS on its next read.
func (b *Book) CloseAt(tick uint64, amount uint64) {
	rec, ok := b.ticks.Get(&TickRecord{Tick: tick})
	if !ok {
		return
	}
	rec.Boundary.ReduceBoundary(amount)
	if rec.Boundary.Within() == 0 {
		b.destroy(tick, rec)
	}
}

// Drain consumes amount of resting liquidity at tick via the swap
// engine, destroying the tick once it is fully drained. crossed reports
// whether this call drained the tick to zero.
func (b *Book) Drain(tick uint64, amount uint64) (crossed bool) {
	rec, ok := b.ticks.Get(&TickRecord{Tick: tick})
	if !ok {
		return false
	}
	rec.Boundary.RemoveLiquidity(amount)
	if rec.Boundary.Within() == 0 {
		b.destroy(tick, rec)
		return true
	}
	return false
}

func (b *Book) destroy(tick uint64, rec *TickRecord) {
	b.bitsFor(rec.State).Clear(tick)
	b.ticks.Delete(rec)
	b.generation++
	b.refreshBestOfferOnClose(tick, rec.State)
}

// NextPopulated returns the nearest populated tick on side at or after
// from (ascending true) or at or before from (ascending false). The
// swap engine walks a single side this way as it consumes liquidity.
func (b *Book) NextPopulated(side Side, from uint64, ascending bool) (uint64, bool) {
	return b.bitsFor(side).NextSet(from, ascending)
}

// BestOffers returns the cached highest resting buy tick and lowest
// resting sell tick (component C9). haveBuy/haveSell is false when that
// side of the book is currently empty.
func (b *Book) BestOffers() (highestBuy uint64, haveBuy bool, lowestSell uint64, haveSell bool) {
	return b.highestBuy, b.haveBuy, b.lowestSell, b.haveSell
}

func (b *Book) refreshBestOfferOnOpen(tick uint64, side Side) {
	switch side {
	case SideBuy:
		if !b.haveBuy || tick > b.highestBuy {
			b.highestBuy, b.haveBuy = tick, true
		}
	case SideSell:
		if !b.haveSell || tick < b.lowestSell {
			b.lowestSell, b.haveSell = tick, true
		}
	}
}

// refreshBestOfferOnClose re-derives the cached best offer for side
// from the bitmap when the tick that held it has just been destroyed.
// Cheap for any other tick closing since the cache only needs a rescan
// when the destroyed tick *was* the cached extreme.
func (b *Book) refreshBestOfferOnClose(tick uint64, side Side) {
	switch side {
	case SideBuy:
		if !b.haveBuy || tick != b.highestBuy {
			return
		}
		if tick == 0 {
			b.haveBuy = false
			return
		}
		if next, ok := b.bitsBuy.NextSet(tick-1, false); ok {
			b.highestBuy = next
		} else {
			b.haveBuy = false
		}
	case SideSell:
		if !b.haveSell || tick != b.lowestSell {
			return
		}
		if next, ok := b.bitsSell.NextSet(tick+1, true); ok {
			b.lowestSell = next
		} else {
			b.haveSell = false
		}
	}
}
