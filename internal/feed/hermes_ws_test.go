package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

const testFeed = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

type memCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	set    chan struct{}
}

func newMemCache() *memCache {
	return &memCache{quotes: map[string]domain.Quote{}, set: make(chan struct{}, 16)}
}

func (c *memCache) SetQuote(_ context.Context, feedID string, q domain.Quote) error {
	c.mu.Lock()
	c.quotes[feedID] = q
	c.mu.Unlock()
	c.set <- struct{}{}
	return nil
}

func (c *memCache) GetQuote(_ context.Context, feedID string) (domain.Quote, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[feedID]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	return q, time.Now(), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hermesServer(t *testing.T, messages ...string) (*httptest.Server, <-chan subscribeCommand) {
	t.Helper()
	subs := make(chan subscribeCommand, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subs <- cmd
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, subs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHermesFeedCachesUpdates(t *testing.T) {
	srv, subs := hermesServer(t,
		`{"type":"response","status":"success"}`,
		`{"type":"price_update","price_feed":{"id":"ffff","price":{"price":"1","conf":"1","expo":-8,"publish_time":1700000000}}}`,
		`{"type":"price_update","price_feed":{"id":"e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43","price":{"price":"10050000000000","conf":"100","expo":-8,"publish_time":1700000001}}}`,
	)
	cache := newMemCache()
	f := NewHermesFeed(wsURL(srv), testFeed, cache, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-subs:
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, []string{strings.TrimPrefix(testFeed, "0x")}, cmd.IDs)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case <-cache.set:
	case <-time.After(5 * time.Second):
		t.Fatal("no quote cached")
	}

	q, _, err := cache.GetQuote(context.Background(), testFeed)
	require.NoError(t, err)
	assert.Equal(t, int64(10050000000000), q.Raw)
	assert.Equal(t, int32(-8), q.Expo)
	assert.Equal(t, "100500", q.Price().String())
	assert.Equal(t, time.Unix(1700000001, 0).UTC(), q.PublishTime)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestHandleMessageRejectedSubscription(t *testing.T) {
	f := NewHermesFeed("ws://unused", testFeed, newMemCache(), quietLogger())
	_, err := f.handleMessage(context.Background(), []byte(`{"type":"response","status":"error","error":"unknown id"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown id")
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	cache := newMemCache()
	f := NewHermesFeed("ws://unused", testFeed, cache, quietLogger())

	for _, raw := range []string{
		`not json`,
		`{"type":"heartbeat"}`,
		`{"type":"price_update"}`,
		`{"type":"price_update","price_feed":{"id":"e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43","price":{"price":"abc","expo":-8,"publish_time":1}}}`,
	} {
		_, err := f.handleMessage(context.Background(), []byte(raw))
		require.NoError(t, err, raw)
	}
	assert.Empty(t, cache.quotes)
}

func TestRunStopsWhenDialFailsAndContextEnds(t *testing.T) {
	f := NewHermesFeed("ws://127.0.0.1:1", testFeed, newMemCache(), quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.Run(ctx))
}
