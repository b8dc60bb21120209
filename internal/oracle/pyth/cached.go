package pyth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// Cached serves quotes from a shared price cache and falls back to the
// underlying source when the cached entry is missing or older than ttl. The
// monitor reads through it so that several processes share one Hermes call.
type Cached struct {
	source domain.QuoteSource
	cache  domain.PriceCache
	feedID string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCached wraps source with cache. A nil cache disables caching.
func NewCached(source domain.QuoteSource, cache domain.PriceCache, feedID string, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		source: source,
		cache:  cache,
		feedID: feedID,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "pyth_cache")),
		now:    time.Now,
	}
}

// Quote returns a quote no older than ttl.
func (c *Cached) Quote(ctx context.Context) (domain.Quote, error) {
	if c.cache != nil {
		q, at, err := c.cache.GetQuote(ctx, c.feedID)
		switch {
		case err == nil && c.now().Sub(at) < c.ttl:
			return q, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			c.logger.Warn("price cache read failed", slog.String("error", err.Error()))
		}
	}

	q, err := c.source.Quote(ctx)
	if err != nil {
		return domain.Quote{}, err
	}

	if c.cache != nil {
		if err := c.cache.SetQuote(ctx, c.feedID, q); err != nil {
			c.logger.Warn("price cache write failed", slog.String("error", err.Error()))
		}
	}
	return q, nil
}

var _ domain.QuoteSource = (*Cached)(nil)
