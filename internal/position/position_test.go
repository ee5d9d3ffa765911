package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/book"
	"perpmatch/internal/common"
	"perpmatch/internal/funding"
	"perpmatch/internal/order"
)

func owner() common.Subaccount {
	return common.DeriveSubaccount("alice", 0)
}

func TestOpenMarketLongConsumesLiquidity(t *testing.T) {
	b := book.New()
	_, err := order.Open(b, 0, false, 10_000_000)
	require.NoError(t, err)

	var ft funding.Tracker
	pos, res, unusedDebt, err := OpenMarket(b, &ft, owner(), 1_000_000, 500_000, true, 0, 100, 0, 1)
	require.NoError(t, err)
	assert.Greater(t, res.AmountOut, uint64(0))
	assert.Equal(t, uint64(0), unusedDebt)
	assert.Equal(t, uint64(1_500_000), pos.VolumeShare)
	assert.Equal(t, uint64(1_500_000), ft.NetLong)
}

func TestOpenLimitThenCloseUnfilled(t *testing.T) {
	b := book.New()
	var ft funding.Tracker
	pos, err := OpenLimit(b, &ft, owner(), 1_000_000, 0, true, 50, 0, 1)
	require.NoError(t, err)

	proceeds, status, err := CloseLimit(b, &ft, pos)
	require.NoError(t, err)
	assert.Equal(t, StatusUnfilled, status)
	assert.Equal(t, uint64(0), proceeds)
}

func TestOpenLimitThenCloseFilled(t *testing.T) {
	b := book.New()
	var ft funding.Tracker
	pos, err := OpenLimit(b, &ft, owner(), 1_000_000, 0, true, 50, 0, 1)
	require.NoError(t, err)

	// A market sell sweeps through and fully consumes the resting buy.
	b.Drain(50, 1_000_000)

	proceeds, status, err := CloseLimit(b, &ft, pos)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, status)
	assert.Greater(t, proceeds, uint64(0))
}

func TestOpenMarketLongPartialFillRefundsUnusedDebt(t *testing.T) {
	b := book.New()
	// Only 150 of resting sell liquidity at tick 0 (price 1:1), against a
	// 300-unit request (collateral=100, debt=200) — spec.md §4.7's S4
	// worked example.
	_, err := order.Open(b, 0, false, 150)
	require.NoError(t, err)

	var ft funding.Tracker
	pos, res, unusedDebt, err := OpenMarket(b, &ft, owner(), 100, 200, true, 0, 100, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), res.AmountOut)
	assert.Equal(t, uint64(150), res.AmountRemaining)
	assert.Equal(t, uint64(150), unusedDebt)
	assert.Equal(t, uint64(50), pos.DebtValue)
	assert.Equal(t, uint64(100), pos.CollateralValue)
	assert.Equal(t, uint64(150), pos.VolumeShare)
}

func TestCloseMarketPartialCloseRebasesRemainder(t *testing.T) {
	b := book.New()
	// Only 50 of resting buy liquidity at tick 0 against a 150-unit exit.
	_, err := order.Open(b, 0, true, 50)
	require.NoError(t, err)

	var ft funding.Tracker
	pos := &Position{
		Owner:           owner(),
		EntryTick:       0,
		Long:            true,
		CollateralValue: 0,
		DebtValue:       50,
		VolumeShare:     ft.AddVolume(150, true),
	}

	proceeds, pnl, fullyClosed, amountRepaid, res := CloseMarket(b, &ft, pos, 0)
	require.False(t, fullyClosed)
	assert.Equal(t, uint64(50), proceeds)
	assert.Equal(t, uint64(100), res.AmountRemaining)
	assert.Equal(t, uint64(50), amountRepaid)
	assert.Equal(t, int64(0), pnl)
	assert.Equal(t, uint64(0), pos.DebtValue)
	assert.Equal(t, uint64(100), pos.CollateralValue)
	assert.Equal(t, uint64(100), pos.VolumeShare)
}

func TestLiquidationStatusTriggersOnLoss(t *testing.T) {
	pos := &Position{
		Owner:           owner(),
		EntryTick:       5000,
		Long:            true,
		CollateralValue: 100_000,
		DebtValue:       400_000,
		InterestRateBp:  0,
	}
	// Price dropping far below entry wipes out equity below maintenance.
	assert.True(t, LiquidationStatus(pos, 0, 500))
	// At entry price the position is healthy.
	assert.False(t, LiquidationStatus(pos, 5000, 500))
}

func TestAccrueInterestIncreasesDebt(t *testing.T) {
	pos := &Position{DebtValue: 1_000_000, InterestRateBp: 100}
	AccrueInterest(pos)
	assert.Equal(t, uint64(1_010_000), pos.DebtValue)
}
