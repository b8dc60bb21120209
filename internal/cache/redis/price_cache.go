package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each feed's
// latest quote lives at "rangebet:quote:{feedID}" with fields raw, expo,
// publish (unix seconds) and ts (unix nanos of the write). Keys expire after
// ttl so a stalled writer cannot serve an old quote forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(feedID string) string {
	return keyPrefix + "quote:" + feedID
}

// SetQuote stores the quote and refreshes the key TTL.
func (pc *PriceCache) SetQuote(ctx context.Context, feedID string, q domain.Quote) error {
	key := quoteKey(feedID)
	fields := map[string]any{
		"raw":     strconv.FormatInt(q.Raw, 10),
		"expo":    strconv.FormatInt(int64(q.Expo), 10),
		"publish": strconv.FormatInt(q.PublishTime.Unix(), 10),
		"ts":      strconv.FormatInt(time.Now().UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", feedID, err)
	}
	return nil
}

// GetQuote returns the cached quote and the time it was written. It returns
// domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetQuote(ctx context.Context, feedID string) (domain.Quote, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(feedID)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}

	raw, err := strconv.ParseInt(vals["raw"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote raw %s: %w", feedID, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote expo %s: %w", feedID, err)
	}
	publish, err := strconv.ParseInt(vals["publish"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote publish %s: %w", feedID, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", feedID, err)
	}

	q := domain.Quote{Raw: raw, Expo: int32(expo), PublishTime: time.Unix(publish, 0).UTC()}
	return q, time.Unix(0, ts), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
