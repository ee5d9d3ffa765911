// Package bitmap implements the two-level sparse bitmap index over
// populated ticks (component C1): a 128-bit word per "integral" slot,
// stored in a sparse ordered map so a tick book with wide gaps between
// populated ticks still answers "next populated tick" in time
// proportional to the number of populated words, not the tick range.
package bitmap

import "github.com/tidwall/btree"

const wordBits = 128

// word is a 128-bit bitmap split into two 64-bit halves: bits 0-63 in
// lo, bits 64-127 in hi.
type word struct {
	integral uint64
	lo, hi   uint64
}

func (w *word) empty() bool { return w.lo == 0 && w.hi == 0 }

func (w *word) test(bit uint8) bool {
	if bit < 64 {
		return w.lo&(uint64(1)<<bit) != 0
	}
	return w.hi&(uint64(1)<<(bit-64)) != 0
}

func (w *word) set(bit uint8) {
	if bit < 64 {
		w.lo |= uint64(1) << bit
	} else {
		w.hi |= uint64(1) << (bit - 64)
	}
}

func (w *word) clear(bit uint8) {
	if bit < 64 {
		w.lo &^= uint64(1) << bit
	} else {
		w.hi &^= uint64(1) << (bit - 64)
	}
}

// nextSetFrom returns the lowest set bit at or above from, if any.
func (w *word) nextSetFrom(from uint8) (uint8, bool) {
	for b := int(from); b < wordBits; b++ {
		if w.test(uint8(b)) {
			return uint8(b), true
		}
	}
	return 0, false
}

// prevSetFrom returns the highest set bit at or below from, if any.
func (w *word) prevSetFrom(from uint8) (uint8, bool) {
	for b := int(from); b >= 0; b-- {
		if w.test(uint8(b)) {
			return uint8(b), true
		}
	}
	return 0, false
}

// Index is the sparse two-level bitmap: populated integrals map to a
// 128-bit word, absent integrals are implicitly all-zero.
type Index struct {
	words *btree.BTreeG[*word]
}

// New returns an empty index.
func New() *Index {
	return &Index{
		words: btree.NewBTreeG(func(a, b *word) bool {
			return a.integral < b.integral
		}),
	}
}

func intAndBit(tick uint64) (uint64, uint8) {
	return tick / wordBits, uint8(tick % wordBits)
}

// IsSet reports whether tick is currently flagged populated.
func (idx *Index) IsSet(tick uint64) bool {
	integral, bit := intAndBit(tick)
	w, ok := idx.words.Get(&word{integral: integral})
	if !ok {
		return false
	}
	return w.test(bit)
}

// Set flags tick as populated, allocating its word if needed.
func (idx *Index) Set(tick uint64) {
	integral, bit := intAndBit(tick)
	w, ok := idx.words.Get(&word{integral: integral})
	if !ok {
		w = &word{integral: integral}
		idx.words.Set(w)
	}
	w.set(bit)
}

// Clear unflags tick, dropping its word entirely once it goes empty so
// the index stays sparse.
func (idx *Index) Clear(tick uint64) {
	integral, bit := intAndBit(tick)
	w, ok := idx.words.Get(&word{integral: integral})
	if !ok {
		return
	}
	w.clear(bit)
	if w.empty() {
		idx.words.Delete(w)
	}
}

// NextSet returns the nearest populated tick at or after from (ascending
// true) or at or before from (ascending false). ok is false if no
// populated tick exists in that direction.
func (idx *Index) NextSet(from uint64, ascending bool) (tick uint64, ok bool) {
	integral, bit := intAndBit(from)
	if ascending {
		return idx.nextSetAscending(integral, bit)
	}
	return idx.nextSetDescending(integral, bit)
}

func (idx *Index) nextSetAscending(integral uint64, bit uint8) (uint64, bool) {
	var result uint64
	var found bool
	idx.words.Ascend(&word{integral: integral}, func(w *word) bool {
		startBit := uint8(0)
		if w.integral == integral {
			startBit = bit
		}
		if b, ok := w.nextSetFrom(startBit); ok {
			result = w.integral*wordBits + uint64(b)
			found = true
			return false
		}
		return true
	})
	return result, found
}

func (idx *Index) nextSetDescending(integral uint64, bit uint8) (uint64, bool) {
	var result uint64
	var found bool
	idx.words.Descend(&word{integral: integral}, func(w *word) bool {
		startBit := uint8(wordBits - 1)
		if w.integral == integral {
			startBit = bit
		}
		if b, ok := w.prevSetFrom(startBit); ok {
			result = w.integral*wordBits + uint64(b)
			found = true
			return false
		}
		return true
	})
	return result, found
}

// Len reports the number of non-empty words currently tracked, useful
// for diagnostics and snapshot sizing.
func (idx *Index) Len() int {
	return idx.words.Len()
}
