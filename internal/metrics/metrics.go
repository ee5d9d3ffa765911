// Package metrics exposes Prometheus counters and gauges for the
// matching core's position lifecycle and book state, served at
// /metrics by whichever binary embeds cmd/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpmatch_positions_opened_total",
			Help: "Positions opened, split by kind and side.",
		},
		[]string{"kind", "side"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpmatch_positions_closed_total",
			Help: "Positions closed, split by kind and result.",
		},
		[]string{"kind", "result"},
	)

	liquidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpmatch_liquidations_total",
			Help: "Positions force-closed for breaching maintenance margin.",
		},
	)

	fundingSettlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpmatch_funding_settlements_total",
			Help: "Funding-rate settlement cycles run.",
		},
	)

	vaultErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpmatch_vault_errors_total",
			Help: "Vault settlement calls that failed and were logged for retry.",
		},
		[]string{"op"},
	)

	bestBuyTick = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpmatch_best_buy_tick",
			Help: "Current highest populated buy tick, or -1 if the buy side is empty.",
		},
	)

	bestSellTick = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpmatch_best_sell_tick",
			Help: "Current lowest populated sell tick, or -1 if the sell side is empty.",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpmatch_open_positions",
			Help: "Number of positions currently tracked by the market.",
		},
	)

	executorPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpmatch_executor_pending",
			Help: "Subaccounts queued in the deferred limit-order executor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		positionsOpened, positionsClosed, liquidations, fundingSettlements,
		vaultErrors, bestBuyTick, bestSellTick, openPositions, executorPending,
	)
}

func kindLabel(limit bool) string {
	if limit {
		return "limit"
	}
	return "market"
}

func sideLabel(long bool) string {
	if long {
		return "long"
	}
	return "short"
}

// RecordPositionOpened increments the opened-positions counter for the
// given kind/side.
func RecordPositionOpened(limit, long bool) {
	positionsOpened.WithLabelValues(kindLabel(limit), sideLabel(long)).Inc()
}

// RecordPositionClosed increments the closed-positions counter, tagged
// with an outcome such as "filled", "unfilled" or "partial".
func RecordPositionClosed(limit bool, result string) {
	positionsClosed.WithLabelValues(kindLabel(limit), result).Inc()
}

// RecordLiquidation increments the liquidation counter.
func RecordLiquidation() { liquidations.Inc() }

// RecordFundingSettlement increments the funding-cycle counter.
func RecordFundingSettlement() { fundingSettlements.Inc() }

// RecordVaultError increments the vault-error counter for the failed
// operation name (e.g. "close_market", "liquidate").
func RecordVaultError(op string) { vaultErrors.WithLabelValues(op).Inc() }

// SetBestOffers updates the best-bid/ask gauges; absent sides are
// reported as -1 so dashboards can distinguish "no liquidity" from
// tick zero.
func SetBestOffers(highestBuy uint64, haveBuy bool, lowestSell uint64, haveSell bool) {
	if haveBuy {
		bestBuyTick.Set(float64(highestBuy))
	} else {
		bestBuyTick.Set(-1)
	}
	if haveSell {
		bestSellTick.Set(float64(lowestSell))
	} else {
		bestSellTick.Set(-1)
	}
}

// SetOpenPositions updates the open-positions gauge.
func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

// SetExecutorPending updates the deferred-executor queue-depth gauge.
func SetExecutorPending(n int) { executorPending.Set(float64(n)) }
