// Package funding implements the funding-rate tracker (component C6):
// aggregate long/short notional and share accounting that lets a
// periodic funding settlement rebalance the two sides in O(1), without
// walking every open position.
package funding

// Tracker holds the aggregate notional volume and share counts for
// both sides of the market. Volume moves between sides on settlement;
// shares only move on position open/close, so settlement never touches
// individual positions.
type Tracker struct {
	NetLong     uint64
	SharesLong  uint64
	NetShort    uint64
	SharesShort uint64
}

// AddVolume records a newly opened position's notional on its side and
// mints the shares it buys: delta when the side is currently empty
// (net or total shares are zero), otherwise delta*totalShares/net so
// existing shares keep their claim on the side's value.
func (t *Tracker) AddVolume(delta uint64, long bool) (shares uint64) {
	net, total := t.NetLong, t.SharesLong
	if !long {
		net, total = t.NetShort, t.SharesShort
	}
	if net == 0 || total == 0 {
		shares = delta
	} else {
		shares = delta * total / net
	}
	if long {
		t.NetLong += delta
		t.SharesLong += shares
	} else {
		t.NetShort += delta
		t.SharesShort += shares
	}
	return shares
}

// RemoveVolume redeems shares for their current value (shares * net /
// totalShares) and removes both from the side's aggregate.
func (t *Tracker) RemoveVolume(shares uint64, long bool) (value uint64) {
	net, total := t.NetLong, t.SharesLong
	if !long {
		net, total = t.NetShort, t.SharesShort
	}
	if total == 0 {
		return 0
	}
	value = shares * net / total
	if long {
		t.NetLong -= value
		t.SharesLong -= shares
	} else {
		t.NetShort -= value
		t.SharesShort -= shares
	}
	return value
}

// Settle transfers a rateBp (basis points of the paying side's net
// volume) from the paying side to the receiving side. payingLong
// selects which side pays: true means longs pay shorts (the usual case
// when the perpetual trades at a premium to the index), false means
// shorts pay longs. Shares are untouched: this is purely an aggregate
// volume transfer, O(1) regardless of how many positions make up each
// side, and it dilutes the paying side's per-share value while
// enriching the receiving side's.
func (t *Tracker) Settle(rateBp uint64, payingLong bool) (transferred uint64) {
	const bpDenominator = 10_000
	if payingLong {
		transferred = t.NetLong * rateBp / bpDenominator
		if transferred > t.NetLong {
			transferred = t.NetLong
		}
		t.NetLong -= transferred
		t.NetShort += transferred
		return transferred
	}
	transferred = t.NetShort * rateBp / bpDenominator
	if transferred > t.NetShort {
		transferred = t.NetShort
	}
	t.NetShort -= transferred
	t.NetLong += transferred
	return transferred
}

// VolumeShare returns a position's proportional share of its side's
// aggregate notional, in basis points, used to attribute a slice of a
// settlement transfer (or a realised-value calculation) to one
// position without iterating every position on that side.
func (t *Tracker) VolumeShare(long bool, shares uint64) uint64 {
	const bpDenominator = 10_000
	total := t.SharesLong
	if !long {
		total = t.SharesShort
	}
	if total == 0 {
		return 0
	}
	return shares * bpDenominator / total
}
