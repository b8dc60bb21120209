package domain

import (
	"context"
	"time"
)

// PriceCache keeps the last oracle quote per feed.
type PriceCache interface {
	SetQuote(ctx context.Context, feedID string, q Quote) error
	GetQuote(ctx context.Context, feedID string) (Quote, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus publishes engine events for downstream consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
