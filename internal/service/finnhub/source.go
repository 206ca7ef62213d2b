package finnhub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/internal/service/ratelimit"
	"Consilium/internal/services/features"
	xerrors "Consilium/pkg/errors"
	xhttp "Consilium/pkg/http"
	"Consilium/pkg/logger"
)

const limiterKey = "finnhub"

// maxLocalWait is how long a request will queue for the local token bucket before it is
// reported as rate limited.
const maxLocalWait = 5 * time.Second

type SourceConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             float64
	CandleDays        int
}

// Source is the REST market-data provider. It implements MarketDataSource and CandleSource.
type Source struct {
	cfg     SourceConfig
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
	logger  *logger.Logger
}

type SourceOption func(*Source)

func WithSourceClock(now func() time.Time) SourceOption { return func(s *Source) { s.now = now } }

func WithSourceLogger(l *logger.Logger) SourceOption { return func(s *Source) { s.logger = l } }

func NewSource(cfg SourceConfig, client *xhttp.Client, limiter *ratelimit.Limiter, opts ...SourceOption) *Source {
	if cfg.CandleDays <= 0 {
		cfg.CandleDays = 365
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	s := &Source{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		now:     time.Now,
		logger:  logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var (
	_ drepo.MarketDataSource = (*Source)(nil)
	_ drepo.CandleSource     = (*Source)(nil)
)

// Fetch loads exactly one category for ticker.
func (s *Source) Fetch(ctx context.Context, ticker string, category models.DataCategory) (models.CategoryData, error) {
	ticker = strings.ToUpper(ticker)
	out := models.CategoryData{Category: category}
	switch category {
	case models.CategoryPrice:
		p, err := s.quote(ctx, ticker)
		if err != nil {
			return out, err
		}
		out.Price = p
	case models.CategoryFundamentals:
		f, err := s.fundamentals(ctx, ticker)
		if err != nil {
			return out, err
		}
		out.Fundamentals = f
	case models.CategoryTechnicals:
		to := s.now()
		candles, err := s.Candles(ctx, ticker, to.AddDate(0, 0, -s.cfg.CandleDays), to)
		if err != nil {
			return out, err
		}
		if len(candles) == 0 {
			return out, fmt.Errorf("no candles for %s: %w", ticker, xerrors.ErrNotFound)
		}
		out.Technicals = features.ComputeTechnicals(candles)
	case models.CategoryInfo:
		i, err := s.profile(ctx, ticker)
		if err != nil {
			return out, err
		}
		out.Info = i
	default:
		return out, fmt.Errorf("unsupported category %q", category)
	}
	return out, nil
}

type quoteResponse struct {
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	DP float64 `json:"dp"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
	T  int64   `json:"t"`
}

func (s *Source) quote(ctx context.Context, ticker string) (*models.PriceData, error) {
	var q quoteResponse
	if err := s.get(ctx, "/quote", map[string][]string{"symbol": {ticker}}, &q); err != nil {
		return nil, err
	}
	if q.C == 0 && q.T == 0 {
		return nil, fmt.Errorf("no quote for %s: %w", ticker, xerrors.ErrNotFound)
	}
	return &models.PriceData{
		Current:       q.C,
		Open:          q.O,
		High:          q.H,
		Low:           q.L,
		PreviousClose: q.PC,
		Change:        q.D,
		ChangePercent: q.DP,
		AsOf:          time.Unix(q.T, 0).UTC(),
	}, nil
}

type metricResponse struct {
	Metric map[string]interface{} `json:"metric"`
}

func (s *Source) fundamentals(ctx context.Context, ticker string) (*models.FundamentalsData, error) {
	var m metricResponse
	q := map[string][]string{"symbol": {ticker}, "metric": {"all"}}
	if err := s.get(ctx, "/stock/metric", q, &m); err != nil {
		return nil, err
	}
	if len(m.Metric) == 0 {
		return nil, fmt.Errorf("no fundamentals for %s: %w", ticker, xerrors.ErrNotFound)
	}

	pick := func(keys ...string) *float64 {
		for _, k := range keys {
			if v, ok := number(m.Metric[k]); ok {
				return &v
			}
		}
		return nil
	}
	f := &models.FundamentalsData{
		MarketCap:        pick("marketCapitalization"),
		PERatio:          pick("peTTM", "peBasicExclExtraTTM", "peNormalizedAnnual"),
		ForwardPE:        pick("forwardPE"),
		PBRatio:          pick("pbQuarterly", "pbAnnual"),
		PSRatio:          pick("psTTM", "psAnnual"),
		EPS:              pick("epsTTM", "epsBasicExclExtraItemsTTM"),
		ROE:              pick("roeTTM", "roeRfy"),
		ROA:              pick("roaTTM", "roaRfy"),
		GrossMargin:      pick("grossMarginTTM", "grossMarginAnnual"),
		OperatingMargin:  pick("operatingMarginTTM", "operatingMarginAnnual"),
		NetMargin:        pick("netProfitMarginTTM", "netProfitMarginAnnual"),
		DebtToEquity:     pick("totalDebt/totalEquityQuarterly", "totalDebt/totalEquityAnnual"),
		CurrentRatio:     pick("currentRatioQuarterly", "currentRatioAnnual"),
		DividendYield:    pick("dividendYieldIndicatedAnnual", "currentDividendYieldTTM"),
		RevenueGrowthYoY: pick("revenueGrowthTTMYoy", "revenueGrowthQuarterlyYoy"),
		EPSGrowthYoY:     pick("epsGrowthTTMYoy", "epsGrowthQuarterlyYoy"),
		Beta:             pick("beta"),
	}
	return f, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

type profileResponse struct {
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Industry string `json:"finnhubIndustry"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	IPO      string `json:"ipo"`
	WebURL   string `json:"weburl"`
}

func (s *Source) profile(ctx context.Context, ticker string) (*models.InfoData, error) {
	var p profileResponse
	if err := s.get(ctx, "/stock/profile2", map[string][]string{"symbol": {ticker}}, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("no profile for %s: %w", ticker, xerrors.ErrNotFound)
	}
	return &models.InfoData{
		Name:     p.Name,
		Exchange: p.Exchange,
		Industry: p.Industry,
		Country:  p.Country,
		Currency: p.Currency,
		IPO:      p.IPO,
		WebURL:   p.WebURL,
	}, nil
}

type candleResponse struct {
	C []float64 `json:"c"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	O []float64 `json:"o"`
	V []float64 `json:"v"`
	T []int64   `json:"t"`
	S string    `json:"s"`
}

// Candles returns daily bars in [from, to], oldest first.
func (s *Source) Candles(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error) {
	var r candleResponse
	q := map[string][]string{
		"symbol":     {strings.ToUpper(ticker)},
		"resolution": {"D"},
		"from":       {strconv.FormatInt(from.Unix(), 10)},
		"to":         {strconv.FormatInt(to.Unix(), 10)},
	}
	if err := s.get(ctx, "/stock/candle", q, &r); err != nil {
		return nil, err
	}
	if r.S == "no_data" {
		return nil, nil
	}
	n := len(r.T)
	if len(r.C) != n || len(r.H) != n || len(r.L) != n || len(r.O) != n {
		return nil, xerrors.Permanent(xerrors.KindInvalidOutput, 0, fmt.Errorf("candle arrays have mismatched lengths for %s", ticker))
	}
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = models.Candle{
			Bucket: time.Unix(r.T[i], 0).UTC(),
			Symbol: strings.ToUpper(ticker),
			Open:   r.O[i],
			High:   r.H[i],
			Low:    r.L[i],
			Close:  r.C[i],
		}
		if i < len(r.V) {
			out[i].Volume = r.V[i]
		}
	}
	return out, nil
}

func (s *Source) get(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	query["token"] = []string{s.cfg.APIKey}

	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         strings.TrimRight(s.cfg.BaseURL, "/") + path,
		QueryParams: query,
	}, dest)
	if err == nil {
		return nil
	}
	return classify(ctx, path, err)
}

func (s *Source) throttle(ctx context.Context) error {
	for {
		ok, wait := s.limiter.Reserve(limiterKey, s.cfg.Burst, s.cfg.RequestsPerSecond)
		if ok {
			return nil
		}
		if wait <= 0 || wait > maxLocalWait {
			return xerrors.Transient(xerrors.KindRateLimited, 0, fmt.Errorf("finnhub local limit exhausted"))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return xerrors.Transient(xerrors.KindTimeout, 0, ctx.Err())
		case <-t.C:
		}
	}
}

func classify(ctx context.Context, path string, err error) error {
	var (
		se *xhttp.StatusError
		de *xhttp.DecodeError
	)
	switch {
	case errors.As(err, &se):
		return fmt.Errorf("finnhub %s: %w", path, xerrors.FromStatus(se.Code, err))
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("finnhub %s: %w", path, xerrors.Transient(xerrors.KindTimeout, 0, err))
	case errors.As(err, &de):
		return fmt.Errorf("finnhub %s: %w", path, xerrors.Permanent(xerrors.KindInvalidOutput, 0, err))
	default:
		return fmt.Errorf("finnhub %s: %w", path, xerrors.Transient(xerrors.KindUpstream, 0, err))
	}
}
