// Package market orchestrates the matching core: it owns the tick
// book, funding tracker, deferred executor and the live position set,
// and exposes the public operations a caller (the wire server, or a
// test) drives sequentially. It plays the role the original canister's
// top-level actor played, minus any IC-specific plumbing.
package market

import (
	"context"
	"encoding/gob"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"perpmatch/internal/book"
	"perpmatch/internal/common"
	"perpmatch/internal/engine"
	"perpmatch/internal/executor"
	"perpmatch/internal/funding"
	"perpmatch/internal/metrics"
	"perpmatch/internal/position"
	"perpmatch/internal/tickmath"
)

// Sentinel errors returned at the API boundary; the wire server turns
// these into ErrorReports verbatim.
var (
	ErrMarketPaused      = errors.New("market is paused")
	ErrLeverageTooHigh   = errors.New("leverage exceeds the configured maximum")
	ErrCollateralTooLow  = errors.New("collateral is below the configured minimum")
	ErrPositionNotFound  = errors.New("no position for that subaccount")
)

// MarketDetails mirrors the original canister's constructor argument:
// the pair this market trades and its tick spacing.
type MarketDetails struct {
	BaseAsset   string
	QuoteAsset  string
	TickSpacing uint64
}

// StateDetails are the admin-tunable market-wide parameters.
type StateDetails struct {
	NotPaused      bool
	MaxLeverageX10 uint64
	MinCollateral  uint64
}

// Vault is the external collateral/debt custody collaborator. The
// matching core never moves funds itself; it only tells the vault what
// to do.
type Vault interface {
	CreatePositionValidityCheck(ctx context.Context, sub common.Subaccount, collateral uint64) error
	ManagePositionUpdate(ctx context.Context, sub common.Subaccount, params position.ManageDebtParams, profit int64) error
}

// Oracle is the external price-feed collaborator used to anchor a
// market order's default walk horizon and to value positions for
// liquidation checks against an index price, independent of the book's
// own best offer.
type Oracle interface {
	GetExchangeRate(ctx context.Context, base, quote string) (tick uint64, err error)
}

// PositionView is the read-only projection returned to callers,
// including the supplemental fields recovered from original_source/:
// unrealised PnL percentage and fill status for still-resting limit
// positions.
type PositionView struct {
	position.Position
	UnrealisedPnL    int64
	UnrealisedPnLPct int64
	Status           position.Status
}

// errorLogEntry mirrors the original's PositionUpdateErrorLog: a vault
// call that failed and needs a retry.
type errorLogEntry struct {
	Sub    common.Subaccount
	Profit int64
	Params position.ManageDebtParams
}

// Market is the single-threaded matching core. It is not internally
// synchronized: callers must serialize access to it exactly as
// internal/wire.Server's session handler does.
type Market struct {
	details MarketDetails
	state   StateDetails

	book     *book.Book
	funding  funding.Tracker
	executor *executor.Executor

	positions map[common.Subaccount]*position.Position
	errorLog  map[common.Subaccount]errorLogEntry

	vault  Vault
	oracle Oracle

	fundingTicker *time.Ticker
	fundingDone   chan struct{}
}

// Init constructs a fresh market for the given pair and starts its
// deferred-executor wiring. This replaces the canister's one-time
// `init(market_details)` entrypoint.
func Init(details MarketDetails, state StateDetails, vault Vault, oracle Oracle) *Market {
	m := &Market{
		details:   details,
		state:     state,
		book:      book.New(),
		positions: make(map[common.Subaccount]*position.Position),
		errorLog:  make(map[common.Subaccount]errorLogEntry),
		vault:     vault,
		oracle:    oracle,
	}
	m.executor = executor.New(executor.DefaultInterval, m.handleDeferredConversion)
	return m
}

// handleDeferredConversion is the executor's drain callback. It runs on
// the executor's own goroutine; since Market itself is not
// synchronized, a real deployment must route this back onto the same
// goroutine that drives every other Market method (internal/wire does
// this via its session handler's request channel).
func (m *Market) handleDeferredConversion(sub common.Subaccount) {
	pos, ok := m.positions[sub]
	if !ok {
		return
	}
	position.ConvertLimitToMarket(&m.funding, pos)
	log.Info().Str("event", "limit_converted_to_market").Msg("position fully filled")
}

// GetStateDetails returns the current admin-tunable parameters.
func (m *Market) GetStateDetails() StateDetails { return m.state }

// GetMarketDetails returns the immutable pair configuration.
func (m *Market) GetMarketDetails() MarketDetails { return m.details }

// GetBestOffers returns the cached best bid/ask ticks (component C9).
func (m *Market) GetBestOffers() (highestBuy uint64, haveBuy bool, lowestSell uint64, haveSell bool) {
	return m.book.BestOffers()
}

// UpdateStateDetails is an admin-guarded operation at the wire layer;
// Market itself performs no caller authentication.
func (m *Market) UpdateStateDetails(state StateDetails) {
	m.state = state
}

// StartFundingTimer begins the funding settlement cycle, one settlement
// every period (one hour when period is not positive). It is
// idempotent: calling it again while already running is a no-op.
func (m *Market) StartFundingTimer(ctx context.Context, period time.Duration) {
	if m.fundingTicker != nil {
		return
	}
	if period <= 0 {
		period = time.Hour
	}
	m.fundingTicker = time.NewTicker(period)
	m.fundingDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.fundingDone:
				return
			case <-m.fundingTicker.C:
				m.runFundingSettlement(ctx)
			}
		}
	}()
}

// runFundingSettlement compares the perpetual's tick-implied mark price
// against the oracle's spot price and transfers rateBp of the paying
// side's net volume to the other side (spec.md §4.6/S6): longs pay
// shorts when the market trades at a premium to the index, shorts pay
// longs at a discount. An oracle failure silently skips this cycle
// (spec.md §7(d)) rather than blocking the timer.
func (m *Market) runFundingSettlement(ctx context.Context) {
	spotTick, err := m.oracle.GetExchangeRate(ctx, m.details.BaseAsset, m.details.QuoteAsset)
	if err != nil {
		log.Debug().Err(err).Str("event", "funding_settlement_skipped").Msg("oracle unavailable")
		return
	}
	markTick := m.impliedMarkTick(spotTick)
	if markTick == spotTick {
		return
	}
	const bpDenominator = 10_000
	var rateBp uint64
	payingLong := markTick > spotTick
	if payingLong {
		rateBp = (markTick - spotTick) * bpDenominator / spotTick
	} else {
		rateBp = (spotTick - markTick) * bpDenominator / spotTick
	}
	transferred := m.funding.Settle(rateBp, payingLong)
	metrics.RecordFundingSettlement()
	log.Info().
		Str("event", "funding_settlement").
		Uint64("rateBp", rateBp).
		Bool("payingLong", payingLong).
		Uint64("transferred", transferred).
		Msg("settled funding rate")
}

// impliedMarkTick anchors the perpetual's current price to the midpoint
// of the cached best offers, falling back to the oracle's spot tick
// when the book is empty on either side.
func (m *Market) impliedMarkTick(fallback uint64) uint64 {
	highestBuy, haveBuy, lowestSell, haveSell := m.book.BestOffers()
	switch {
	case haveBuy && haveSell:
		return (highestBuy + lowestSell) / 2
	case haveBuy:
		return highestBuy
	case haveSell:
		return lowestSell
	default:
		return fallback
	}
}

// StopFundingTimer halts the funding settlement cycle.
func (m *Market) StopFundingTimer() {
	if m.fundingTicker == nil {
		return
	}
	m.fundingTicker.Stop()
	close(m.fundingDone)
	m.fundingTicker = nil
}

func (m *Market) openChecks(collateral, leverageX10 uint64) error {
	if !m.state.NotPaused {
		return ErrMarketPaused
	}
	if leverageX10 > m.state.MaxLeverageX10 {
		return ErrLeverageTooHigh
	}
	if collateral < m.state.MinCollateral {
		return ErrCollateralTooLow
	}
	return nil
}

func debtFor(collateral, leverageX10 uint64) uint64 {
	if leverageX10 <= 10 {
		return 0
	}
	return collateral * (leverageX10 - 10) / 10
}

// OpenMarketPosition opens a position immediately via the swap engine,
// walking from the oracle-anchored current tick toward maxTick (or a
// default horizon if maxTick is nil).
func (m *Market) OpenMarketPosition(ctx context.Context, sub common.Subaccount, collateral, leverageX10 uint64, long bool, maxTick *uint64) (*position.Position, error) {
	if err := m.openChecks(collateral, leverageX10); err != nil {
		return nil, err
	}
	if err := m.vault.CreatePositionValidityCheck(ctx, sub, collateral); err != nil {
		return nil, err
	}
	startTick, err := m.oracle.GetExchangeRate(ctx, m.details.BaseAsset, m.details.QuoteAsset)
	if err != nil {
		return nil, err
	}
	stoppingTick := stoppingTickOrDefault(maxTick, startTick, long)

	debt := debtFor(collateral, leverageX10)
	pos, res, unusedDebt, err := position.OpenMarket(m.book, &m.funding, sub, collateral, debt, long, startTick, stoppingTick, 0, uint64(time.Now().Unix()))
	if err != nil {
		return nil, err
	}
	m.positions[sub] = pos
	m.notifyCrossedTicks(res.CrossedTicks)
	metrics.RecordPositionOpened(false, long)
	m.refreshGauges()

	// A shortfall in available liquidity means some of the debt
	// provisionally reserved by CreatePositionValidityCheck was never
	// drawn on; refund it through a compensating vault call rather than
	// leaving it reserved against nothing (spec.md §7(b)).
	if unusedDebt > 0 {
		params := position.ManageDebtParams{InitialDebt: debt, NetDebt: pos.DebtValue, AmountRepaid: unusedDebt}
		if err := m.vault.ManagePositionUpdate(ctx, sub, params, 0); err != nil {
			m.errorLog[sub] = errorLogEntry{Sub: sub, Profit: 0, Params: params}
			metrics.RecordVaultError("open_market_refund")
		}
	}
	return pos, nil
}

// OpenLimitPosition rests a new limit order at entryTick instead of
// sweeping the book immediately, and registers it with the deferred
// executor so it converts to a market position once its tick is
// crossed.
func (m *Market) OpenLimitPosition(ctx context.Context, sub common.Subaccount, collateral, leverageX10 uint64, long bool, entryTick uint64) (*position.Position, error) {
	if err := m.openChecks(collateral, leverageX10); err != nil {
		return nil, err
	}
	if err := m.vault.CreatePositionValidityCheck(ctx, sub, collateral); err != nil {
		return nil, err
	}
	debt := debtFor(collateral, leverageX10)
	tick := tickmath.CompressedTick(entryTick, m.details.TickSpacing)
	pos, err := position.OpenLimit(m.book, &m.funding, sub, collateral, debt, long, tick, 0, uint64(time.Now().Unix()))
	if err != nil {
		return nil, err
	}
	m.positions[sub] = pos
	m.executor.Register(tick, sub)
	metrics.RecordPositionOpened(true, long)
	m.refreshGauges()
	return pos, nil
}

// refreshGauges updates the prometheus gauges that track live state
// rather than counted events: the best-offer cache and the open
// position/executor queue depths.
func (m *Market) refreshGauges() {
	highestBuy, haveBuy, lowestSell, haveSell := m.book.BestOffers()
	metrics.SetBestOffers(highestBuy, haveBuy, lowestSell, haveSell)
	metrics.SetOpenPositions(len(m.positions))
	metrics.SetExecutorPending(m.executor.Pending())
}

func stoppingTickOrDefault(maxTick *uint64, current uint64, long bool) uint64 {
	if maxTick != nil {
		return *maxTick
	}
	return tickmath.DefMaxTick(current, long)
}

// CloseMarketPosition sweeps the book to exit sub's position and
// settles with the vault. A thin exit side may not fully unwind the
// position in one call: when that happens the position stays open with
// its debt/collateral/volume share reduced to what's still outstanding,
// and only the partial repayment is reported to the vault.
func (m *Market) CloseMarketPosition(ctx context.Context, sub common.Subaccount, maxTick *uint64) (uint64, error) {
	pos, ok := m.positions[sub]
	if !ok {
		return 0, ErrPositionNotFound
	}
	initialDebt := pos.DebtValue
	stoppingTick := stoppingTickOrDefault(maxTick, pos.EntryTick, !pos.Long)
	proceeds, pnl, fullyClosed, amountRepaid, res := position.CloseMarket(m.book, &m.funding, pos, stoppingTick)
	m.notifyCrossedTicks(res.CrossedTicks)

	netDebt := pos.DebtValue
	if fullyClosed {
		delete(m.positions, sub)
		netDebt = 0
	}
	metrics.RecordPositionClosed(false, closeStatusLabel(fullyClosed))
	m.refreshGauges()

	params := position.ManageDebtParams{InitialDebt: initialDebt, NetDebt: netDebt, AmountRepaid: amountRepaid}
	if err := m.vault.ManagePositionUpdate(ctx, sub, params, pnl); err != nil {
		m.errorLog[sub] = errorLogEntry{Sub: sub, Profit: pnl, Params: params}
		metrics.RecordVaultError("close_market")
		return proceeds, err
	}
	return proceeds, nil
}

func closeStatusLabel(fullyClosed bool) string {
	if fullyClosed {
		return "filled"
	}
	return "partial"
}

// CloseLimitPosition reads sub's resting order's fill state, settles
// what has filled, and cancels the rest.
func (m *Market) CloseLimitPosition(ctx context.Context, sub common.Subaccount) (uint64, position.Status, error) {
	pos, ok := m.positions[sub]
	if !ok {
		return 0, position.StatusUnfilled, ErrPositionNotFound
	}
	if pos.Kind == position.OrderKindLimit {
		m.executor.Unregister(pos.LimitOrder.RefTick, sub)
	}
	proceeds, status, err := position.CloseLimit(m.book, &m.funding, pos)
	if err != nil {
		return 0, status, err
	}
	delete(m.positions, sub)
	metrics.RecordPositionClosed(true, statusLabel(status))
	m.refreshGauges()

	params := position.ManageDebtParams{InitialDebt: pos.DebtValue, NetDebt: 0, AmountRepaid: pos.DebtValue}
	pnl := int64(proceeds) - int64(pos.CollateralValue+pos.DebtValue)
	if err := m.vault.ManagePositionUpdate(ctx, sub, params, pnl); err != nil {
		m.errorLog[sub] = errorLogEntry{Sub: sub, Profit: pnl, Params: params}
		metrics.RecordVaultError("close_limit")
		return proceeds, status, err
	}
	return proceeds, status, nil
}

func statusLabel(status position.Status) string {
	switch status {
	case position.StatusFilled:
		return "filled"
	case position.StatusPartial:
		return "partial"
	default:
		return "unfilled"
	}
}

// LiquidatePosition force-closes sub's position if it has fallen below
// the maintenance margin at the oracle's current tick. The amount
// repaid to the vault acknowledges any bad debt rather than assuming
// the position always had enough collateral to cover its debt in
// full: the collateral actually recoverable is clamped at zero, and
// whatever shortfall that leaves is written off against the repayment
// (spec.md §4.7's Liquidation paragraph).
func (m *Market) LiquidatePosition(ctx context.Context, sub common.Subaccount, maintenanceMarginBp uint64) (bool, error) {
	pos, ok := m.positions[sub]
	if !ok {
		return false, ErrPositionNotFound
	}
	markTick, err := m.oracle.GetExchangeRate(ctx, m.details.BaseAsset, m.details.QuoteAsset)
	if err != nil {
		return false, err
	}
	if !position.LiquidationStatus(pos, markTick, maintenanceMarginBp) {
		return false, nil
	}

	pnl, netDebt := position.UnrealisedPnLAndNetDebt(pos, markTick)
	currentCollateral := int64(pos.CollateralValue) + pnl
	initialDebt := pos.DebtValue

	stoppingTick := tickmath.DefMaxTick(markTick, !pos.Long)
	_, _, _, _, res := position.CloseMarket(m.book, &m.funding, pos, stoppingTick)
	m.notifyCrossedTicks(res.CrossedTicks)
	delete(m.positions, sub)
	metrics.RecordLiquidation()
	m.refreshGauges()

	badDebt := uint64(0)
	if currentCollateral < 0 {
		badDebt = uint64(-currentCollateral)
	}
	var amountRepaid uint64
	if netDebt > badDebt {
		amountRepaid = netDebt - badDebt
	}
	params := position.ManageDebtParams{InitialDebt: initialDebt, NetDebt: 0, AmountRepaid: amountRepaid}
	if err := m.vault.ManagePositionUpdate(ctx, sub, params, pnl); err != nil {
		m.errorLog[sub] = errorLogEntry{Sub: sub, Profit: pnl, Params: params}
		metrics.RecordVaultError("liquidate")
		return true, err
	}
	return true, nil
}

// notifyCrossedTicks tells the deferred executor which ticks were just
// fully drained by a swap, so any resting limit orders there get queued
// for conversion.
func (m *Market) notifyCrossedTicks(crossed []uint64) {
	for _, tick := range crossed {
		m.executor.CrossTick(tick)
	}
}

// GetAccountPositionDetails returns a read-only view of sub's position,
// including the unrealised PnL percentage and fill status recovered
// from the original canister's read-mode account conversion path.
func (m *Market) GetAccountPositionDetails(ctx context.Context, sub common.Subaccount) (*PositionView, bool) {
	pos, ok := m.positions[sub]
	if !ok {
		return nil, false
	}
	markTick, err := m.oracle.GetExchangeRate(ctx, m.details.BaseAsset, m.details.QuoteAsset)
	if err != nil {
		return &PositionView{Position: *pos}, true
	}
	pnl, _ := position.UnrealisedPnLAndNetDebt(pos, markTick)
	var pct int64
	if pos.CollateralValue > 0 {
		pct = pnl * int64(tickmath.OnePercent) / int64(pos.CollateralValue)
	}
	status := position.StatusFilled
	if pos.Kind == position.OrderKindLimit {
		rec, found := m.book.Get(pos.LimitOrder.RefTick)
		switch {
		case !found:
			status = position.StatusFilled
		case rec.Boundary.FilledWithin(pos.LimitOrder.InitLowerBound, pos.LimitOrder.OrderSize) == 0:
			status = position.StatusUnfilled
		case rec.Boundary.FilledWithin(pos.LimitOrder.InitLowerBound, pos.LimitOrder.OrderSize) < pos.LimitOrder.OrderSize:
			status = position.StatusPartial
		}
	}
	return &PositionView{Position: *pos, UnrealisedPnL: pnl, UnrealisedPnLPct: pct, Status: status}, true
}

// RetryAccountError retries a previously failed vault settlement call.
func (m *Market) RetryAccountError(ctx context.Context, sub common.Subaccount) error {
	entry, ok := m.errorLog[sub]
	if !ok {
		return nil
	}
	if err := m.vault.ManagePositionUpdate(ctx, sub, entry.Params, entry.Profit); err != nil {
		return err
	}
	delete(m.errorLog, sub)
	return nil
}

// SuccessNotification clears any pending error-log entry for sub,
// called by a trusted vault callback once it has independently
// confirmed a settlement went through.
func (m *Market) SuccessNotification(sub common.Subaccount) {
	delete(m.errorLog, sub)
}

// snapshot is the on-disk representation gob encodes/decodes: the
// market details, the state details and the position set. The tick
// book, bitmap, best-offer cache, funding tracker, executor index and
// queue, and error log are not included.
type snapshot struct {
	Details   MarketDetails
	State     StateDetails
	Positions map[common.Subaccount]*position.Position
}

// Snapshot serializes the market's persisted state to w via
// encoding/gob.
func (m *Market) Snapshot(w io.Writer) error {
	snap := snapshot{Details: m.details, State: m.state, Positions: m.positions}
	return gob.NewEncoder(w).Encode(&snap)
}

// Restore replaces the market's persisted state by decoding from r.
// The tick book and bitmap index are not part of the snapshot; callers
// must re-open any still-resting limit positions' orders against a
// fresh book after restore, mirroring the canister's own
// post-upgrade hook behaviour for non-stable data.
func (m *Market) Restore(r io.Reader) error {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}
	m.details = snap.Details
	m.state = snap.State
	m.positions = snap.Positions
	if m.positions == nil {
		m.positions = make(map[common.Subaccount]*position.Position)
	}
	return nil
}

// Swap runs the swap engine directly against the market's book,
// draining whatever liquidity it takes. No wire message calls it.
func (m *Market) Swap(size uint64, buy bool, initTick, stoppingTick uint64) engine.Result {
	return engine.Swap(m.book, size, buy, initTick, stoppingTick)
}
