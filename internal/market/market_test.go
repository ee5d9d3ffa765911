package market

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmatch/internal/common"
	"perpmatch/internal/position"
)

var errVaultUnavailable = errors.New("vault unavailable")

type fakeVault struct {
	failNext bool
}

func (f *fakeVault) CreatePositionValidityCheck(ctx context.Context, sub common.Subaccount, collateral uint64) error {
	return nil
}

func (f *fakeVault) ManagePositionUpdate(ctx context.Context, sub common.Subaccount, params position.ManageDebtParams, profit int64) error {
	if f.failNext {
		f.failNext = false
		return errVaultUnavailable
	}
	return nil
}

type fakeOracle struct{ tick uint64 }

func (f *fakeOracle) GetExchangeRate(ctx context.Context, base, quote string) (uint64, error) {
	return f.tick, nil
}

func newTestMarket() (*Market, *fakeVault, *fakeOracle) {
	v := &fakeVault{}
	o := &fakeOracle{tick: 1000}
	m := Init(
		MarketDetails{BaseAsset: "BTC", QuoteAsset: "USD", TickSpacing: 1},
		StateDetails{NotPaused: true, MaxLeverageX10: 100, MinCollateral: 1},
		v, o,
	)
	return m, v, o
}

func TestOpenAndCloseMarketPosition(t *testing.T) {
	m, _, _ := newTestMarket()
	ctx := context.Background()
	sub := common.DeriveSubaccount("alice", 0)

	_, err := m.OpenLimitPosition(ctx, common.DeriveSubaccount("maker", 0), 1_000_000, 10, false, 1000)
	require.NoError(t, err)

	pos, err := m.OpenMarketPosition(ctx, sub, 100_000, 20, true, nil)
	require.NoError(t, err)
	assert.True(t, pos.Long)

	view, ok := m.GetAccountPositionDetails(ctx, sub)
	require.True(t, ok)
	assert.NotNil(t, view)

	// Resting buy liquidity for the close to sell into.
	_, err = m.OpenLimitPosition(ctx, common.DeriveSubaccount("maker", 1), 1_000_000, 10, true, 999)
	require.NoError(t, err)

	_, err = m.CloseMarketPosition(ctx, sub, nil)
	require.NoError(t, err)

	_, ok = m.GetAccountPositionDetails(ctx, sub)
	assert.False(t, ok)
}

func TestOpenChecksRejectPausedMarket(t *testing.T) {
	m, _, _ := newTestMarket()
	m.UpdateStateDetails(StateDetails{NotPaused: false, MaxLeverageX10: 100, MinCollateral: 1})

	_, err := m.OpenMarketPosition(context.Background(), common.DeriveSubaccount("alice", 0), 100_000, 20, true, nil)
	assert.ErrorIs(t, err, ErrMarketPaused)
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, _, _ := newTestMarket()
	ctx := context.Background()
	sub := common.DeriveSubaccount("alice", 0)
	_, err := m.OpenLimitPosition(ctx, sub, 1_000_000, 10, true, 500)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Snapshot(&buf))

	restored := Init(MarketDetails{}, StateDetails{}, &fakeVault{}, &fakeOracle{})
	require.NoError(t, restored.Restore(&buf))
	assert.Equal(t, m.details, restored.details)
	assert.Len(t, restored.positions, 1)
}
