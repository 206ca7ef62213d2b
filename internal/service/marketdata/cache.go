package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	"Consilium/internal/service/cache"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/logger"
	"Consilium/pkg/metrics"
)

// Policy is the freshness rule for one data category.
type Policy struct {
	TTL           time.Duration
	StaleFallback bool
}

// DefaultPolicies: price 5m, fundamentals 24h, technicals 1h, info 7d. Only price refuses stale data.
func DefaultPolicies() map[models.DataCategory]Policy {
	return map[models.DataCategory]Policy{
		models.CategoryPrice:        {TTL: 5 * time.Minute, StaleFallback: false},
		models.CategoryFundamentals: {TTL: 24 * time.Hour, StaleFallback: true},
		models.CategoryTechnicals:   {TTL: time.Hour, StaleFallback: true},
		models.CategoryInfo:         {TTL: 7 * 24 * time.Hour, StaleFallback: true},
	}
}

// Result is a cached category value plus its provenance.
type Result struct {
	Data      models.CategoryData
	FetchedAt time.Time
	Stale     bool
}

type storedEntry struct {
	Category  models.DataCategory `json:"category"`
	FetchedAt time.Time           `json:"fetched_at"`
	Data      models.CategoryData `json:"data"`
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithLogger(l *logger.Logger) Option { return func(c *Cache) { c.logger = l } }

func WithMetrics(m domrepo.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// WithRetention sets how long entries stay in the store after they go stale.
func WithRetention(d time.Duration) Option { return func(c *Cache) { c.retention = d } }

// WithFetchTimeout bounds one upstream fetch, independent of the waiting callers.
func WithFetchTimeout(d time.Duration) Option { return func(c *Cache) { c.fetchTimeout = d } }

// Cache is a cache-aside layer over a MarketDataSource. Freshness is evaluated on read
// against the injected clock; there is no background sweep.
type Cache struct {
	source       domrepo.MarketDataSource
	store        cache.BytesCache
	policies     map[models.DataCategory]Policy
	retention    time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group
	logger       *logger.Logger
	metrics      domrepo.Metrics
}

func NewCache(source domrepo.MarketDataSource, store cache.BytesCache, policies map[models.DataCategory]Policy, opts ...Option) *Cache {
	merged := DefaultPolicies()
	for k, p := range policies {
		merged[k] = p
	}
	c := &Cache{
		source:       source,
		store:        store,
		policies:     merged,
		retention:    30 * 24 * time.Hour,
		fetchTimeout: 30 * time.Second,
		now:          time.Now,
		logger:       logger.Nop(),
		metrics:      metrics.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func key(ticker string, category models.DataCategory) string {
	return strings.ToUpper(ticker) + ":" + string(category)
}

// Get returns the value for (ticker, category), fetching only that category when the cached
// entry is absent or stale. Concurrent cold reads of one key share a single upstream fetch.
func (c *Cache) Get(ctx context.Context, ticker string, category models.DataCategory) (Result, error) {
	policy, ok := c.policies[category]
	if !ok {
		return Result{}, fmt.Errorf("unknown data category %q", category)
	}

	k := key(ticker, category)
	cached, found := c.load(ctx, k)
	if found && c.fresh(cached, policy) {
		c.metrics.RecordCacheLookup(string(category), "hit")
		return Result{Data: cached.Data, FetchedAt: cached.FetchedAt}, nil
	}

	ch := c.group.DoChan(k, func() (interface{}, error) {
		return c.refresh(ctx, ticker, category, policy)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if res.Err == nil {
		entry := res.Val.(storedEntry)
		c.metrics.RecordCacheLookup(string(category), "miss")
		return Result{Data: entry.Data, FetchedAt: entry.FetchedAt}, nil
	}

	if found && policy.StaleFallback {
		c.metrics.RecordCacheLookup(string(category), "stale")
		c.logger.Warn("serving stale market data",
			logger.String("ticker", ticker),
			logger.String("category", string(category)),
			logger.Duration("age_ms", c.now().Sub(cached.FetchedAt)),
			logger.Error(res.Err),
		)
		return Result{Data: cached.Data, FetchedAt: cached.FetchedAt, Stale: true}, nil
	}

	c.metrics.RecordCacheLookup(string(category), "unavailable")
	return Result{}, &xerrors.DataUnavailableError{Ticker: ticker, Category: string(category), Err: res.Err}
}

// refresh runs inside the single flight. It re-reads the store first so callers that queued
// behind a completed flight do not refetch.
func (c *Cache) refresh(ctx context.Context, ticker string, category models.DataCategory, policy Policy) (storedEntry, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	k := key(ticker, category)
	if cached, ok := c.load(fctx, k); ok && c.fresh(cached, policy) {
		return cached, nil
	}

	start := time.Now()
	data, err := c.source.Fetch(fctx, ticker, category)
	c.metrics.RecordLatency("marketdata_fetch_"+string(category), time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordError("marketdata_fetch")
		return storedEntry{}, fmt.Errorf("fetch %s %s: %w", ticker, category, err)
	}
	data.Category = category

	entry := storedEntry{Category: category, FetchedAt: c.now(), Data: data}
	c.save(fctx, k, entry)
	return entry, nil
}

// PrimePrice overwrites the current price from a live trade, keeping the rest of the quote.
func (c *Cache) PrimePrice(ctx context.Context, ticker string, price float64, at time.Time) {
	k := key(ticker, models.CategoryPrice)
	quote := models.PriceData{}
	if cached, ok := c.load(ctx, k); ok && cached.Data.Price != nil {
		quote = *cached.Data.Price
	}
	quote.Current = price
	quote.AsOf = at
	if quote.PreviousClose > 0 {
		quote.Change = price - quote.PreviousClose
		quote.ChangePercent = quote.Change / quote.PreviousClose * 100
	}
	if quote.High < price {
		quote.High = price
	}
	if quote.Low == 0 || quote.Low > price {
		quote.Low = price
	}

	c.save(ctx, k, storedEntry{
		Category:  models.CategoryPrice,
		FetchedAt: c.now(),
		Data:      models.CategoryData{Category: models.CategoryPrice, Price: &quote},
	})
}

// Invalidate drops the entry so the next read refetches.
func (c *Cache) Invalidate(ctx context.Context, ticker string, category models.DataCategory) error {
	return c.store.Delete(ctx, key(ticker, category))
}

func (c *Cache) fresh(e storedEntry, p Policy) bool {
	return c.now().Sub(e.FetchedAt) < p.TTL
}

func (c *Cache) load(ctx context.Context, k string) (storedEntry, bool) {
	b, ok, err := c.store.GetBytes(ctx, k)
	if err != nil {
		c.logger.Warn("market cache read failed", logger.String("key", k), logger.Error(err))
		return storedEntry{}, false
	}
	if !ok {
		return storedEntry{}, false
	}
	var e storedEntry
	if err := json.Unmarshal(b, &e); err != nil {
		c.logger.Warn("market cache entry corrupt", logger.String("key", k), logger.Error(err))
		return storedEntry{}, false
	}
	return e, true
}

func (c *Cache) save(ctx context.Context, k string, e storedEntry) {
	b, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("market cache encode failed", logger.String("key", k), logger.Error(err))
		return
	}
	if err := c.store.SetBytes(ctx, k, b, c.retention); err != nil {
		c.metrics.RecordError("marketdata_cache_write")
		c.logger.Warn("market cache write failed", logger.String("key", k), logger.Error(err))
	}
}
