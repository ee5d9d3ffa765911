package funding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddVolumeMintsSharesOneToOneOnEmptySide(t *testing.T) {
	var tr Tracker
	shares := tr.AddVolume(1_000, true)
	assert.Equal(t, uint64(1_000), shares)
	assert.Equal(t, uint64(1_000), tr.NetLong)
	assert.Equal(t, uint64(1_000), tr.SharesLong)

	shares = tr.AddVolume(500, false)
	assert.Equal(t, uint64(500), shares)
	assert.Equal(t, uint64(500), tr.NetShort)
}

func TestAddVolumeMintsProRataSharesOnNonEmptySide(t *testing.T) {
	var tr Tracker
	tr.AddVolume(1_000, true) // net=1000 shares=1000
	shares := tr.AddVolume(500, true)
	// delta * totalShares / net = 500 * 1000 / 1000 = 500
	assert.Equal(t, uint64(500), shares)
	assert.Equal(t, uint64(1_500), tr.NetLong)
	assert.Equal(t, uint64(1_500), tr.SharesLong)
}

func TestRemoveVolumeIsAddVolumeInverse(t *testing.T) {
	var tr Tracker
	shares := tr.AddVolume(1_000, true)
	value := tr.RemoveVolume(shares, true)
	assert.Equal(t, uint64(1_000), value)
	assert.Equal(t, uint64(0), tr.NetLong)
	assert.Equal(t, uint64(0), tr.SharesLong)
}

func TestSettleTransfersWithoutTouchingShares(t *testing.T) {
	var tr Tracker
	tr.AddVolume(10_000, true)
	tr.AddVolume(8_000, false)

	transferred := tr.Settle(100, true) // 1% of longs' net to shorts
	assert.Equal(t, uint64(100), transferred)
	assert.Equal(t, uint64(9_900), tr.NetLong)
	assert.Equal(t, uint64(8_100), tr.NetShort)
	assert.Equal(t, uint64(10_000), tr.SharesLong)
	assert.Equal(t, uint64(8_000), tr.SharesShort)
}

func TestVolumeShareProportional(t *testing.T) {
	var tr Tracker
	s1 := tr.AddVolume(250, true)  // first add: shares == delta == 250
	s2 := tr.AddVolume(750, true)  // pro-rata: 750 * 250/250 == 750
	assert.Equal(t, uint64(1_000), tr.SharesLong)

	assert.Equal(t, uint64(2_500), tr.VolumeShare(true, s1))
	assert.Equal(t, uint64(7_500), tr.VolumeShare(true, s2))
}
