package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPositionOpenedIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(positionsOpened.WithLabelValues("market", "long"))
	RecordPositionOpened(false, true)
	after := testutil.ToFloat64(positionsOpened.WithLabelValues("market", "long"))
	assert.Equal(t, before+1, after)
}

func TestSetBestOffersReportsAbsentSideAsNegativeOne(t *testing.T) {
	SetBestOffers(0, false, 0, false)
	assert.Equal(t, float64(-1), testutil.ToFloat64(bestBuyTick))
	assert.Equal(t, float64(-1), testutil.ToFloat64(bestSellTick))

	SetBestOffers(500, true, 700, true)
	assert.Equal(t, float64(500), testutil.ToFloat64(bestBuyTick))
	assert.Equal(t, float64(700), testutil.ToFloat64(bestSellTick))
}
