package pyth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

type memPriceCache struct {
	quote domain.Quote
	at    time.Time
	set   int
}

func (m *memPriceCache) SetQuote(_ context.Context, _ string, q domain.Quote) error {
	m.quote, m.at = q, time.Now()
	m.set++
	return nil
}

func (m *memPriceCache) GetQuote(context.Context, string) (domain.Quote, time.Time, error) {
	if m.at.IsZero() {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	return m.quote, m.at, nil
}

type stubSource struct {
	quote domain.Quote
	err   error
	calls int
}

func (s *stubSource) Quote(context.Context) (domain.Quote, error) {
	s.calls++
	return s.quote, s.err
}

func TestCachedQuote(t *testing.T) {
	src := &stubSource{quote: domain.Quote{Raw: 100, Expo: -2}}
	cache := &memPriceCache{}
	c := NewCached(src, cache, "btc", time.Minute, discardLogger())

	q, err := c.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.Raw)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, cache.set)

	// Served from cache while fresh.
	src.quote.Raw = 200
	q, err = c.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.Raw)
	assert.Equal(t, 1, src.calls)

	// Stale entry goes back to the source.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	q, err = c.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), q.Raw)
	assert.Equal(t, 2, src.calls)
}

func TestCachedQuotePropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	c := NewCached(&stubSource{err: boom}, nil, "btc", time.Minute, discardLogger())
	_, err := c.Quote(context.Background())
	assert.ErrorIs(t, err, boom)
}
