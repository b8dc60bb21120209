// Package feed streams BTC/USD quotes from the Hermes WebSocket into the
// shared price cache, so the settlement monitor filters positions against a
// live price without polling the REST API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// HermesFeed subscribes to one price feed and writes every update to cache.
type HermesFeed struct {
	wsURL    string
	feedKey  string
	feedHex  string
	cache    domain.PriceCache
	logger   *slog.Logger
	dialer   websocket.Dialer
	pongWait time.Duration
}

// NewHermesFeed creates a feed for feedID. Quotes are cached under feedID
// exactly as given so cached readers using the same key see them.
func NewHermesFeed(wsURL, feedID string, cache domain.PriceCache, logger *slog.Logger) *HermesFeed {
	return &HermesFeed{
		wsURL:    wsURL,
		feedKey:  feedID,
		feedHex:  normaliseFeedID(feedID),
		cache:    cache,
		logger:   logger.With(slog.String("component", "hermes_feed")),
		dialer:   websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		pongWait: pongWait,
	}
}

// Run keeps a subscription open until ctx is cancelled, reconnecting with
// exponential backoff. It returns nil on cancellation.
func (f *HermesFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		subscribed, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "hermes stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

type subscribeCommand struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type streamMessage struct {
	Type      string      `json:"type"`
	Status    string      `json:"status"`
	Error     string      `json:"error"`
	PriceFeed *streamFeed `json:"price_feed"`
}

type streamFeed struct {
	ID    string      `json:"id"`
	Price streamPrice `json:"price"`
}

type streamPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// runConnection dials, subscribes and reads until the connection drops. It
// reports whether the subscription was acknowledged.
func (f *HermesFeed) runConnection(ctx context.Context) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(f.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.pongWait))
	})

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", IDs: []string{f.feedHex}}); err != nil {
		return false, fmt.Errorf("feed: subscribe: %w", err)
	}

	// The pinger is the only writer after the subscribe. It also closes the
	// connection on cancellation to unblock ReadMessage.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	subscribed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.pongWait))

		ack, err := f.handleMessage(ctx, raw)
		if err != nil {
			return subscribed, err
		}
		if ack && !subscribed {
			subscribed = true
			f.logger.InfoContext(ctx, "hermes stream subscribed", slog.String("feed_id", f.feedHex))
		}
	}
}

// handleMessage caches price updates for the subscribed feed. It reports
// whether raw acknowledged the subscription and fails on a rejected one.
func (f *HermesFeed) handleMessage(ctx context.Context, raw []byte) (bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.DebugContext(ctx, "dropping unparseable message", slog.String("error", err.Error()))
		return false, nil
	}

	switch msg.Type {
	case "response":
		if msg.Status != "success" {
			return false, fmt.Errorf("feed: subscription rejected: %s", msg.Error)
		}
		return true, nil

	case "price_update":
		if msg.PriceFeed == nil || normaliseFeedID(msg.PriceFeed.ID) != f.feedHex {
			return false, nil
		}
		q, err := msg.PriceFeed.Price.quote()
		if err != nil {
			f.logger.WarnContext(ctx, "bad price update", slog.String("error", err.Error()))
			return false, nil
		}
		if err := f.cache.SetQuote(ctx, f.feedKey, q); err != nil {
			f.logger.WarnContext(ctx, "cache quote failed", slog.String("error", err.Error()))
		}
		return true, nil
	}
	return false, nil
}

func (p streamPrice) quote() (domain.Quote, error) {
	raw, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("price %q: %w", p.Price, err)
	}
	if raw <= 0 || p.PublishTime <= 0 {
		return domain.Quote{}, errors.New("non-positive price or publish time")
	}
	return domain.Quote{
		Raw:         raw,
		Expo:        p.Expo,
		PublishTime: time.Unix(p.PublishTime, 0).UTC(),
	}, nil
}

func normaliseFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
