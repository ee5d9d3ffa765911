package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAtCreatesAndAccumulates(t *testing.T) {
	b := New()
	lb, removed, ts, err := b.OpenAt(100, SideBuy, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lb)
	assert.Equal(t, uint64(0), removed)
	assert.Equal(t, uint64(1), ts)

	rec, ok := b.Get(100)
	require.True(t, ok)
	assert.Equal(t, uint64(50), rec.Boundary.Within())

	lb2, _, ts2, err := b.OpenAt(100, SideBuy, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), lb2)
	assert.Equal(t, ts, ts2)
	assert.Equal(t, uint64(75), rec.Boundary.Within())
}

func TestOpenAtRejectsOppositeSide(t *testing.T) {
	b := New()
	_, _, _, err := b.OpenAt(100, SideBuy, 10)
	require.NoError(t, err)
	_, _, _, err = b.OpenAt(100, SideSell, 10)
	assert.ErrorIs(t, err, ErrTickOccupiedByOtherSide)
}

func TestDrainDestroysAndBumpsGeneration(t *testing.T) {
	b := New()
	_, _, ts1, _ := b.OpenAt(100, SideSell, 40)
	crossed := b.Drain(100, 40)
	assert.True(t, crossed)
	_, ok := b.Get(100)
	assert.False(t, ok)

	_, _, ts2, _ := b.OpenAt(100, SideSell, 10)
	assert.NotEqual(t, ts1, ts2)
}

func TestBestOffersTrackExtremes(t *testing.T) {
	b := New()
	b.OpenAt(100, SideBuy, 10)
	b.OpenAt(120, SideBuy, 10)
	b.OpenAt(90, SideBuy, 10)
	b.OpenAt(200, SideSell, 10)
	b.OpenAt(180, SideSell, 10)

	hb, haveB, ls, haveS := b.BestOffers()
	require.True(t, haveB)
	require.True(t, haveS)
	assert.Equal(t, uint64(120), hb)
	assert.Equal(t, uint64(180), ls)

	b.CloseAt(120, 10)
	hb, haveB, _, _ = b.BestOffers()
	require.True(t, haveB)
	assert.Equal(t, uint64(100), hb)
}

func TestFilledWithinClampsToSize(t *testing.T) {
	var boundary LiquidityBoundary
	lower, _ := boundary.AddLiquidity(100)
	boundary.RemoveLiquidity(60)
	assert.Equal(t, uint64(60), boundary.FilledWithin(lower, 100))
	boundary.RemoveLiquidity(1000)
	assert.Equal(t, uint64(100), boundary.FilledWithin(lower, 100))
}
