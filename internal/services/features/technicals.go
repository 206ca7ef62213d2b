package features

import (
	"github.com/markcheno/go-talib"

	"Consilium/internal/domain/models"
)

const (
	TrendUptrend   = "uptrend"
	TrendDowntrend = "downtrend"
	TrendSideways  = "sideways"
)

// ComputeTechnicals derives indicators from daily candles ordered oldest first.
// Indicators whose lookback exceeds the available bars are left nil.
func ComputeTechnicals(candles []models.Candle) *models.TechnicalsData {
	n := len(candles)
	out := &models.TechnicalsData{Bars: n}
	if n == 0 {
		return out
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	if n >= 20 {
		out.SMA20 = last(talib.Sma(closes, 20))
		upper, middle, lower := talib.BBands(closes, 20, 2.0, 2.0, talib.SMA)
		out.BollingerUpper, out.BollingerMiddle, out.BollingerLower = last(upper), last(middle), last(lower)
		out.AverageVolume = last(talib.Sma(volumes, 20))
		rv := RealizedVolatility(ComputeLogReturns(candles), 20, TradingDaysPerYear)
		out.RealizedVolatility = &rv
	}
	if n >= 50 {
		out.SMA50 = last(talib.Sma(closes, 50))
	}
	if n >= 200 {
		out.SMA200 = last(talib.Sma(closes, 200))
	}
	if n >= 26 {
		out.EMA12 = last(talib.Ema(closes, 12))
		out.EMA26 = last(talib.Ema(closes, 26))
	}
	if n > 14 {
		out.RSI14 = last(talib.Rsi(closes, 14))
		out.ATR14 = last(talib.Atr(highs, lows, closes, 14))
	}
	if n >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		out.MACD, out.MACDSignal, out.MACDHistogram = last(macd), last(signal), last(hist)
	}

	out.Trend = trend(closes[n-1], out.SMA50, out.SMA200)
	return out
}

// trend classifies price against its 50 and 200 day averages.
func trend(price float64, sma50, sma200 *float64) string {
	if sma50 == nil {
		return ""
	}
	switch {
	case sma200 != nil && price > *sma50 && *sma50 > *sma200:
		return TrendUptrend
	case sma200 != nil && price < *sma50 && *sma50 < *sma200:
		return TrendDowntrend
	case sma200 == nil && price > *sma50*1.02:
		return TrendUptrend
	case sma200 == nil && price < *sma50*0.98:
		return TrendDowntrend
	default:
		return TrendSideways
	}
}

func last(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v := xs[len(xs)-1]
	return &v
}
