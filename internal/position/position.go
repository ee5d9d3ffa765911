// Package position implements position accounting (component C7):
// opening and closing market/limit positions against the tick book and
// swap engine, collateral/debt/interest bookkeeping, unrealised PnL,
// and liquidation checks.
package position

import (
	"perpmatch/internal/book"
	"perpmatch/internal/common"
	"perpmatch/internal/engine"
	"perpmatch/internal/funding"
	"perpmatch/internal/order"
	"perpmatch/internal/tickmath"
)

// OrderKind distinguishes a position opened immediately via the swap
// engine from one still resting as a limit order.
type OrderKind uint8

const (
	// OrderKindMarket means the position was opened (or has since been
	// converted) via the swap engine and is fully live.
	OrderKindMarket OrderKind = iota
	// OrderKindLimit means the position is still a resting limit order
	// awaiting a fill; LimitOrder holds its boundary snapshot.
	OrderKindLimit
)

// Status reports how much of a limit position has filled.
type Status uint8

const (
	StatusUnfilled Status = iota
	StatusPartial
	StatusFilled
)

// ManageDebtParams describes a debt settlement to hand to the vault:
// how much debt existed, how much remains after this update, and how
// much was repaid from proceeds.
type ManageDebtParams struct {
	InitialDebt  uint64
	NetDebt      uint64
	AmountRepaid uint64
}

// Position is one account's open exposure. CollateralValue and
// DebtValue are quote-denominated values on both sides; a short's swap
// size and resting order size are their base equivalent at the
// relevant tick.
type Position struct {
	Owner           common.Subaccount
	EntryTick       uint64
	Long            bool
	CollateralValue uint64
	DebtValue       uint64
	VolumeShare     uint64
	InterestRateBp  uint64
	Kind            OrderKind
	LimitOrder      *order.LimitOrder
	OpenedAt        uint64
}

// OpenMarket opens an immediately-filled position by walking the book
// with the swap engine from initTick to stoppingTick. Long positions
// spend collateral+debt (quote) to buy base; short positions spend a
// base-equivalent of collateral+debt to sell into quote.
//
// When resting liquidity runs out before the full size fills, the
// unfilled remainder is refunded: unusedDebt is drawn down first (up to
// the full debt), any leftover remainder comes out of collateral, and
// only the amount that actually executed (collateral+debt minus the
// remainder) is minted into funding shares. unusedDebt is returned so
// the caller can issue a compensating vault refund for debt that was
// provisionally reserved but never drawn on.
func OpenMarket(b *book.Book, ft *funding.Tracker, owner common.Subaccount, collateral, debt uint64, long bool, initTick, stoppingTick, interestRateBp, now uint64) (*Position, engine.Result, uint64, error) {
	var size uint64
	if long {
		size = collateral + debt
	} else {
		size = tickmath.Equivalent(collateral+debt, initTick, true)
	}

	res := engine.Swap(b, size, long, initTick, stoppingTick)

	// amount_remaining_value: the unfilled portion of the swap,
	// converted back into the same quote-denominated value unit
	// collateral/debt are expressed in. A long's swap input is already
	// quote; a short's swap input is base, so it's converted back via
	// equivalent anchored at the walk's starting tick, mirroring the
	// long case per spec.md §4.7.
	remainingValue := res.AmountRemaining
	if !long {
		remainingValue = tickmath.Equivalent(res.AmountRemaining, initTick, false)
	}

	unusedDebt := debt
	if remainingValue < debt {
		unusedDebt = remainingValue
	}
	unusedCollateral := remainingValue - unusedDebt

	pos := &Position{
		Owner:           owner,
		EntryTick:       res.ResultingTick,
		Long:            long,
		CollateralValue: collateral - unusedCollateral,
		DebtValue:       debt - unusedDebt,
		InterestRateBp:  interestRateBp,
		Kind:            OrderKindMarket,
		OpenedAt:        now,
	}
	positionValue := (collateral + debt) - remainingValue
	pos.VolumeShare = ft.AddVolume(positionValue, long)
	return pos, res, unusedDebt, nil
}

// OpenLimit rests a new limit order at entryTick instead of sweeping
// the book immediately. A long position's order_size is its raw
// collateral+debt (quote); a short position's is converted to base so
// it rests as sell-side liquidity.
func OpenLimit(b *book.Book, ft *funding.Tracker, owner common.Subaccount, collateral, debt uint64, long bool, entryTick, interestRateBp, now uint64) (*Position, error) {
	var size uint64
	if long {
		size = collateral + debt
	} else {
		size = tickmath.Equivalent(collateral+debt, entryTick, true)
	}

	lo, err := order.Open(b, entryTick, long, size)
	if err != nil {
		return nil, err
	}

	pos := &Position{
		Owner:           owner,
		EntryTick:       entryTick,
		Long:            long,
		CollateralValue: collateral,
		DebtValue:       debt,
		InterestRateBp:  interestRateBp,
		Kind:            OrderKindLimit,
		LimitOrder:      lo,
		OpenedAt:        now,
	}
	// VolumeShare holds the raw position value (collateral+debt) until
	// ConvertLimitToMarket mints it real shares once the order fills;
	// limit positions do not participate in the funding tracker while
	// still resting.
	pos.VolumeShare = collateral + debt
	return pos, nil
}

// CloseMarket sweeps the book in the opposite direction to exit (or
// partially exit) a market position, swapping the position's *current*
// claim on the funding tracker — which may have drifted from its
// original collateral+debt via funding settlements — rather than its
// original value.
//
// fullyClosed reports whether the swap fully unwound the position. When
// true, the caller should remove the position and repay its entire
// debt (amountRepaid is that full debt). When false, the book ran out
// of liquidity before the swap finished: CloseMarket has already
// reduced pos.DebtValue by what the partial proceeds repaid and rebased
// pos.CollateralValue/VolumeShare to the still-open remainder, and the
// caller should keep the position open, repaying only amountRepaid.
func CloseMarket(b *book.Book, ft *funding.Tracker, pos *Position, stoppingTick uint64) (proceeds uint64, pnl int64, fullyClosed bool, amountRepaid uint64, res engine.Result) {
	realisedValue := ft.RemoveVolume(pos.VolumeShare, pos.Long)
	size := realisedValue
	if pos.Long {
		size = tickmath.Equivalent(realisedValue, pos.EntryTick, true)
	}
	res = engine.Swap(b, size, !pos.Long, pos.EntryTick, stoppingTick)
	proceeds = res.AmountOut

	if res.AmountRemaining == 0 {
		pnl = int64(proceeds) - int64(pos.DebtValue)
		return proceeds, pnl, true, pos.DebtValue, res
	}

	// Partial close: only amount_out worth of debt was actually repaid
	// (clamped so debt never goes negative); the position keeps trading
	// with its remaining claim rebased into fresh funding shares.
	amountRepaid = proceeds
	if amountRepaid > pos.DebtValue {
		amountRepaid = pos.DebtValue
	}
	pos.DebtValue -= amountRepaid

	remainingValue := res.AmountRemaining
	if pos.Long {
		remainingValue = tickmath.Equivalent(res.AmountRemaining, pos.EntryTick, false)
	}
	pos.CollateralValue = remainingValue
	pos.VolumeShare = ft.AddVolume(remainingValue, pos.Long)
	pnl = int64(proceeds) - int64(amountRepaid)
	return proceeds, pnl, false, amountRepaid, res
}

// CloseLimit reads the order's fill state and reports how much of it
// has been realised. A fully unfilled order is simply cancelled with
// no proceeds; a fully filled one behaves like a closed market
// position; a partial fill leaves the position owner able to re-open
// against the unfilled remainder (callers decide whether to do so).
func CloseLimit(b *book.Book, ft *funding.Tracker, pos *Position) (proceeds uint64, status Status, err error) {
	filled, remaining, ok := order.Close(b, pos.LimitOrder)
	if !ok {
		return 0, StatusUnfilled, nil
	}
	switch {
	case filled == 0:
		status = StatusUnfilled
	case remaining == 0:
		status = StatusFilled
	default:
		status = StatusPartial
	}
	if filled > 0 {
		proceeds = tickmath.Equivalent(filled, pos.LimitOrder.RefTick, pos.Long)
	}
	return proceeds, status, nil
}

// ConvertLimitToMarket is called by the deferred executor (component
// C8) when a limit position's resting tick has been fully crossed: the
// position is now fully filled and should behave like a market
// position from here on, participating in funding settlement.
func ConvertLimitToMarket(ft *funding.Tracker, pos *Position) {
	if pos.Kind == OrderKindMarket {
		return
	}
	pos.Kind = OrderKindMarket
	pos.LimitOrder = nil
	pos.VolumeShare = ft.AddVolume(pos.VolumeShare, pos.Long)
}

// UnrealisedPnLAndNetDebt returns a market position's unrealised PnL at
// markTick together with its current net debt value (debt plus accrued
// interest), the pair the liquidation check and account-view endpoints
// both need.
func UnrealisedPnLAndNetDebt(pos *Position, markTick uint64) (pnl int64, netDebt uint64) {
	netDebt = AccruedDebt(pos)
	value := pos.CollateralValue + pos.DebtValue
	base := tickmath.Equivalent(value, pos.EntryTick, true)
	markValue := tickmath.Equivalent(base, markTick, false)
	if pos.Long {
		pnl = int64(markValue) - int64(value)
	} else {
		// A short sold base worth value at entry; buying it back at
		// markTick costs markValue.
		pnl = int64(value) - int64(markValue)
	}
	return pnl, netDebt
}

// AccruedDebt returns the position's DebtValue unchanged. It computes no
// time-based interest: DebtValue includes interest only to the extent
// AccrueInterest has been applied to it.
func AccruedDebt(pos *Position) uint64 {
	return pos.DebtValue
}

// AccrueInterest adds one settlement cycle's interest to the position's
// debt, at InterestRateBp basis points of the current debt.
func AccrueInterest(pos *Position) {
	const bpDenominator = 10_000
	pos.DebtValue += pos.DebtValue * pos.InterestRateBp / bpDenominator
}

// LiquidationStatus reports whether a position's equity (collateral
// plus unrealised PnL) has fallen below the maintenance margin, a
// fraction (maintenanceMarginBp basis points) of its net debt, at the
// given mark tick.
func LiquidationStatus(pos *Position, markTick uint64, maintenanceMarginBp uint64) bool {
	const bpDenominator = 10_000
	pnl, netDebt := UnrealisedPnLAndNetDebt(pos, markTick)
	equity := int64(pos.CollateralValue) + pnl
	maintenance := int64(netDebt * maintenanceMarginBp / bpDenominator)
	return equity < maintenance
}
