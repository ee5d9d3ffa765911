package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/book"
	"perpmatch/internal/order"
)

func TestSwapDrainsSingleTick(t *testing.T) {
	b := book.New()
	_, err := order.Open(b, 0, false, 1_000_000) // sell limit resting at tick 0
	require.NoError(t, err)

	res := Swap(b, 500_000, true, 0, 100)
	assert.Greater(t, res.AmountOut, uint64(0))
	assert.Equal(t, uint64(0), res.AmountRemaining)
	assert.Equal(t, uint64(0), res.ResultingTick)
	assert.Empty(t, res.CrossedTicks)

	rec, ok := b.Get(0)
	require.True(t, ok)
	assert.Less(t, rec.Boundary.Within(), uint64(1_000_000))
}

func TestSwapCrossesFullyDrainedTick(t *testing.T) {
	b := book.New()
	_, err := order.Open(b, 0, false, 100)
	require.NoError(t, err)

	res := Swap(b, 10_000_000, true, 0, 100)
	assert.Equal(t, []uint64{0}, res.CrossedTicks)

	_, ok := b.Get(0)
	assert.False(t, ok)
}

func TestSwapStopsAtStoppingTickWhenOutOfLiquidity(t *testing.T) {
	b := book.New()
	res := Swap(b, 1_000, true, 0, 50)
	assert.Equal(t, uint64(0), res.AmountOut)
	assert.Equal(t, uint64(1_000), res.AmountRemaining)
	assert.Equal(t, uint64(0), res.ResultingTick)
}

func TestSwapSellWalksDescending(t *testing.T) {
	b := book.New()
	_, err := order.Open(b, 10, true, 1_000_000) // buy limit resting at tick 10
	require.NoError(t, err)

	res := Swap(b, 5_000, false, 10, 0)
	assert.Greater(t, res.AmountOut, uint64(0))
	assert.Equal(t, uint64(10), res.ResultingTick)
}
