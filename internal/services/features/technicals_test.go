package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
)

func series(n int, start, step float64) []models.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		c := start + step*float64(i)
		out[i] = models.Candle{
			Bucket: t0.AddDate(0, 0, i),
			Symbol: "TEST",
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func TestComputeTechnicalsUptrend(t *testing.T) {
	td := ComputeTechnicals(series(250, 100, 0.5))

	assert.Equal(t, 250, td.Bars)
	require.NotNil(t, td.SMA20)
	require.NotNil(t, td.SMA50)
	require.NotNil(t, td.SMA200)
	// SMA20 of the last 20 closes of a linear series is the mean of its endpoints.
	assert.InDelta(t, (100+0.5*230+100+0.5*249)/2, *td.SMA20, 1e-6)
	require.NotNil(t, td.RSI14)
	assert.InDelta(t, 100, *td.RSI14, 1e-6)
	require.NotNil(t, td.ATR14)
	assert.InDelta(t, 2, *td.ATR14, 1e-6)
	require.NotNil(t, td.AverageVolume)
	assert.InDelta(t, 1000, *td.AverageVolume, 1e-9)
	require.NotNil(t, td.MACD)
	assert.Greater(t, *td.MACD, 0.0)
	assert.Equal(t, TrendUptrend, td.Trend)
}

func TestComputeTechnicalsShortHistory(t *testing.T) {
	td := ComputeTechnicals(series(10, 50, 1))

	assert.Equal(t, 10, td.Bars)
	assert.Nil(t, td.SMA20)
	assert.Nil(t, td.RSI14)
	assert.Nil(t, td.MACD)
	assert.Empty(t, td.Trend)
}

func TestComputeTechnicalsEmpty(t *testing.T) {
	td := ComputeTechnicals(nil)
	assert.Equal(t, 0, td.Bars)
}

func TestRealizedVolatilityFlat(t *testing.T) {
	rets := ComputeLogReturns(series(30, 100, 0))
	assert.Equal(t, 0.0, RealizedVolatility(rets, 20, TradingDaysPerYear))
	assert.False(t, math.IsNaN(RealizedVolatility(rets, 20, TradingDaysPerYear)))
}
