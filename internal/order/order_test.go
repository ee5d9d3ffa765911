package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/book"
)

func TestOpenCloseFullyUnfilled(t *testing.T) {
	b := book.New()
	o, err := Open(b, 100, true, 50)
	require.NoError(t, err)

	filled, remaining, ok := Close(b, o)
	require.True(t, ok)
	assert.Equal(t, uint64(0), filled)
	assert.Equal(t, uint64(50), remaining)

	_, found := b.Get(100)
	assert.False(t, found)
}

func TestOpenCloseAfterPartialDrain(t *testing.T) {
	b := book.New()
	o, err := Open(b, 100, false, 50)
	require.NoError(t, err)

	b.Drain(100, 20)

	filled, remaining, ok := Close(b, o)
	require.True(t, ok)
	assert.Equal(t, uint64(20), filled)
	assert.Equal(t, uint64(30), remaining)
}

func TestCloseDoesNotCorruptLaterOrdersAtSameTick(t *testing.T) {
	b := book.New()
	// order1 (10M) and order2 (5M) open at the same tick; a swap drains
	// 4M, then order1 cancels its 6M remainder. A cancellation must not
	// disturb order2's already-captured window, nor order3's once it
	// opens after the cancellation.
	order1, err := Open(b, 100, true, 10_000_000)
	require.NoError(t, err)
	order2, err := Open(b, 100, true, 5_000_000)
	require.NoError(t, err)

	b.Drain(100, 4_000_000)

	filled1, remaining1, ok := Close(b, order1)
	require.True(t, ok)
	assert.Equal(t, uint64(4_000_000), filled1)
	assert.Equal(t, uint64(6_000_000), remaining1)

	order3, err := Open(b, 100, true, 3_000_000)
	require.NoError(t, err)
	assert.Greater(t, order3.InitLowerBound, order2.InitLowerBound,
		"order3 opened after order2 so its window must start no lower than order2's")

	b.Drain(100, 6_000_000)

	filled2, remaining2, ok := Close(b, order2)
	require.True(t, ok)
	filled3, remaining3, ok := Close(b, order3)
	require.True(t, ok)

	assert.Equal(t, uint64(10_000_000), filled1+filled2+filled3,
		"the 10M total swap-drained across both drains must be fully attributed, not lost to boundary corruption")
	assert.Equal(t, uint64(0), remaining2)
	assert.Equal(t, uint64(0), remaining3)
}

func TestCloseAfterTickDestroyedAndRecreatedIsFullyFilled(t *testing.T) {
	b := book.New()
	o, err := Open(b, 100, false, 50)
	require.NoError(t, err)

	b.Drain(100, 50) // fully drains, destroys the tick
	_, err = Open(b, 100, true, 10)
	require.NoError(t, err)

	filled, remaining, ok := Close(b, o)
	require.True(t, ok)
	assert.Equal(t, uint64(50), filled)
	assert.Equal(t, uint64(0), remaining)
}
