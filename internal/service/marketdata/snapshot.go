package marketdata

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/logger"
)

// Snapshot assembles a MarketSnapshot for ticker from the requested categories. Categories
// that are unavailable are left nil and listed in Missing; only context cancellation is an error.
func (c *Cache) Snapshot(ctx context.Context, ticker string, categories []models.DataCategory) (*models.MarketSnapshot, error) {
	snap := &models.MarketSnapshot{
		Ticker: ticker,
		Stamps: make(map[models.DataCategory]models.FieldStamp, len(categories)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, category := range categories {
		g.Go(func() error {
			res, err := c.Get(gctx, ticker, category)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !errors.Is(err, xerrors.ErrDataUnavailable) {
					c.logger.Warn("snapshot category failed",
						logger.String("ticker", ticker),
						logger.String("category", string(category)),
						logger.Error(err))
				}
				snap.Missing = append(snap.Missing, category)
				return nil
			}

			snap.Stamps[category] = models.FieldStamp{FetchedAt: res.FetchedAt, Stale: res.Stale}
			switch category {
			case models.CategoryPrice:
				snap.Price = res.Data.Price
			case models.CategoryFundamentals:
				snap.Fundamentals = res.Data.Fundamentals
			case models.CategoryTechnicals:
				snap.Technicals = res.Data.Technicals
			case models.CategoryInfo:
				snap.Info = res.Data.Info
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortCategories(snap.Missing)
	if len(snap.Missing) > 0 {
		c.logger.Info("partial market snapshot",
			logger.String("ticker", ticker),
			logger.Int("missing", len(snap.Missing)))
	}
	return snap, nil
}

func sortCategories(cs []models.DataCategory) {
	rank := map[models.DataCategory]int{}
	for i, c := range models.AllCategories {
		rank[c] = i
	}
	sort.Slice(cs, func(i, j int) bool { return rank[cs[i]] < rank[cs[j]] })
}
