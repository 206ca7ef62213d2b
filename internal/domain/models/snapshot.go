package models

import "time"

// PriceData is the fast-moving quote slice.
type PriceData struct {
	Current       float64   `json:"current"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Week52High    float64   `json:"week52_high,omitempty"`
	Week52Low     float64   `json:"week52_low,omitempty"`
	AsOf          time.Time `json:"as_of"`
}

// FundamentalsData holds valuation and quality ratios. Missing ratios are nil.
type FundamentalsData struct {
	MarketCap        *float64 `json:"market_cap,omitempty"`
	PERatio          *float64 `json:"pe_ratio,omitempty"`
	ForwardPE        *float64 `json:"forward_pe,omitempty"`
	PBRatio          *float64 `json:"pb_ratio,omitempty"`
	PSRatio          *float64 `json:"ps_ratio,omitempty"`
	EPS              *float64 `json:"eps,omitempty"`
	ROE              *float64 `json:"roe,omitempty"`
	ROA              *float64 `json:"roa,omitempty"`
	GrossMargin      *float64 `json:"gross_margin,omitempty"`
	OperatingMargin  *float64 `json:"operating_margin,omitempty"`
	NetMargin        *float64 `json:"net_margin,omitempty"`
	DebtToEquity     *float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio     *float64 `json:"current_ratio,omitempty"`
	DividendYield    *float64 `json:"dividend_yield,omitempty"`
	RevenueGrowthYoY *float64 `json:"revenue_growth_yoy,omitempty"`
	EPSGrowthYoY     *float64 `json:"eps_growth_yoy,omitempty"`
	Beta             *float64 `json:"beta,omitempty"`
}

// TechnicalsData is computed from daily candles.
type TechnicalsData struct {
	SMA20              *float64 `json:"sma_20,omitempty"`
	SMA50              *float64 `json:"sma_50,omitempty"`
	SMA200             *float64 `json:"sma_200,omitempty"`
	EMA12              *float64 `json:"ema_12,omitempty"`
	EMA26              *float64 `json:"ema_26,omitempty"`
	RSI14              *float64 `json:"rsi_14,omitempty"`
	MACD               *float64 `json:"macd,omitempty"`
	MACDSignal         *float64 `json:"macd_signal,omitempty"`
	MACDHistogram      *float64 `json:"macd_histogram,omitempty"`
	BollingerUpper     *float64 `json:"bollinger_upper,omitempty"`
	BollingerMiddle    *float64 `json:"bollinger_middle,omitempty"`
	BollingerLower     *float64 `json:"bollinger_lower,omitempty"`
	ATR14              *float64 `json:"atr_14,omitempty"`
	RealizedVolatility *float64 `json:"realized_volatility,omitempty"`
	AverageVolume      *float64 `json:"average_volume,omitempty"`
	Trend              string   `json:"trend,omitempty"`
	Bars               int      `json:"bars"`
}

// InfoData is slow-moving company reference data.
type InfoData struct {
	Name        string `json:"name"`
	Exchange    string `json:"exchange,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Country     string `json:"country,omitempty"`
	Currency    string `json:"currency,omitempty"`
	IPO         string `json:"ipo,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Candle represents a daily OHLCV bar.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// CategoryData is the value type returned by a market-data source for one category.
// Exactly one pointer is set, matching Category.
type CategoryData struct {
	Category     DataCategory      `json:"category"`
	Price        *PriceData        `json:"price,omitempty"`
	Fundamentals *FundamentalsData `json:"fundamentals,omitempty"`
	Technicals   *TechnicalsData   `json:"technicals,omitempty"`
	Info         *InfoData         `json:"info,omitempty"`
}

// FieldStamp records when a snapshot field was fetched and whether it was served stale.
type FieldStamp struct {
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
}

// MarketSnapshot bundles the categories for one ticker. Nil fields were unavailable.
// Snapshots are never mutated after construction.
type MarketSnapshot struct {
	Ticker       string                      `json:"ticker"`
	Price        *PriceData                  `json:"price,omitempty"`
	Fundamentals *FundamentalsData           `json:"fundamentals,omitempty"`
	Technicals   *TechnicalsData             `json:"technicals,omitempty"`
	Info         *InfoData                   `json:"info,omitempty"`
	Stamps       map[DataCategory]FieldStamp `json:"stamps,omitempty"`
	Missing      []DataCategory              `json:"missing,omitempty"`
}

// Has reports whether category c is present.
func (s *MarketSnapshot) Has(c DataCategory) bool {
	if s == nil {
		return false
	}
	switch c {
	case CategoryPrice:
		return s.Price != nil
	case CategoryFundamentals:
		return s.Fundamentals != nil
	case CategoryTechnicals:
		return s.Technicals != nil
	case CategoryInfo:
		return s.Info != nil
	}
	return false
}

// Select returns a copy holding only the requested categories.
func (s *MarketSnapshot) Select(categories []DataCategory) *MarketSnapshot {
	out := &MarketSnapshot{Ticker: s.Ticker, Stamps: make(map[DataCategory]FieldStamp, len(categories))}
	for _, c := range categories {
		if st, ok := s.Stamps[c]; ok {
			out.Stamps[c] = st
		}
		switch c {
		case CategoryPrice:
			out.Price = s.Price
		case CategoryFundamentals:
			out.Fundamentals = s.Fundamentals
		case CategoryTechnicals:
			out.Technicals = s.Technicals
		case CategoryInfo:
			out.Info = s.Info
		}
		if !out.Has(c) {
			out.Missing = append(out.Missing, c)
		}
	}
	return out
}

// Empty is true when no category is present.
func (s *MarketSnapshot) Empty() bool {
	for _, c := range AllCategories {
		if s.Has(c) {
			return false
		}
	}
	return true
}
