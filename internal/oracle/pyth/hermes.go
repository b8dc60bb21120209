// Package pyth fetches BTC/USD price updates from the Pyth Hermes service and
// decodes the accumulator payload that is later posted on-chain.
package pyth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rangebet/internal/config"
	"github.com/alanyoungcy/rangebet/internal/domain"
)

// hermesLimiterKey is the shared rate limit bucket for Hermes requests.
const hermesLimiterKey = "pyth:hermes"

// Client is the Hermes REST client. It implements domain.Oracle and
// domain.QuoteSource.
type Client struct {
	baseURL    string
	feedHex    string
	feedID     [32]byte
	verify     bool
	httpClient *http.Client
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// NewClient creates a Hermes client for the configured feed. limiter may be
// nil, in which case requests are not budgeted.
func NewClient(cfg config.PythConfig, limiter domain.RateLimiter, logger *slog.Logger) (*Client, error) {
	raw := common.FromHex(cfg.FeedID)
	if len(raw) != 32 {
		return nil, fmt.Errorf("pyth: feed id %q is not 32 bytes", cfg.FeedID)
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.HermesURL, "/"),
		feedHex: common.Bytes2Hex(raw),
		verify:  cfg.VerifyProofs,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "pyth")),
	}
	copy(c.feedID[:], raw)
	return c, nil
}

type latestResponse struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
}

// Latest fetches the newest accumulator update for the feed. The returned
// quote is decoded from the same bytes that will be posted on-chain, so the
// bounds computed from it match what the vault program sees.
func (c *Client) Latest(ctx context.Context) (domain.PriceUpdate, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, hermesLimiterKey); err != nil {
			return domain.PriceUpdate{}, fmt.Errorf("pyth: latest: %w", err)
		}
	}

	params := url.Values{}
	params.Add("ids[]", c.feedHex)
	params.Set("encoding", "base64")
	params.Set("parsed", "false")

	body, err := c.doGet(ctx, "/v2/updates/price/latest?"+params.Encode())
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: latest: %w", err)
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: decode latest: %w", err)
	}
	if len(resp.Binary.Data) == 0 {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: latest: empty binary data: %w", domain.ErrPriceUnavailable)
	}
	if resp.Binary.Encoding != "" && resp.Binary.Encoding != "base64" {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: latest: unexpected encoding %q", resp.Binary.Encoding)
	}

	payload, err := base64.StdEncoding.DecodeString(resp.Binary.Data[0])
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: decode payload: %w", err)
	}

	return c.decode(payload)
}

// Quote returns the latest price without keeping the payload.
func (c *Client) Quote(ctx context.Context) (domain.Quote, error) {
	u, err := c.Latest(ctx)
	if err != nil {
		return domain.Quote{}, err
	}
	return u.Quote, nil
}

func (c *Client) decode(payload []byte) (domain.PriceUpdate, error) {
	acc, err := ParseAccumulator(payload)
	if err != nil {
		return domain.PriceUpdate{}, err
	}
	msg, update, err := acc.Find(c.feedID)
	if err != nil {
		return domain.PriceUpdate{}, fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
	}
	if c.verify {
		if err := acc.Verify(update); err != nil {
			return domain.PriceUpdate{}, fmt.Errorf("%w: %w", domain.ErrInvalidPriceProof, err)
		}
	}
	if msg.Price <= 0 {
		return domain.PriceUpdate{}, fmt.Errorf("pyth: non-positive price %d: %w", msg.Price, domain.ErrPriceUnavailable)
	}

	q := domain.Quote{
		Raw:         msg.Price,
		Expo:        msg.Expo,
		PublishTime: time.Unix(msg.PublishTime, 0).UTC(),
	}
	c.logger.Debug("price update fetched",
		slog.String("price", q.Price().String()),
		slog.Time("publish_time", q.PublishTime),
	)
	return domain.PriceUpdate{FeedID: "0x" + c.feedHex, Quote: q, Payload: payload}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hermes status %d: %s: %w", resp.StatusCode, truncate(body, 200), domain.ErrPriceUnavailable)
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// IsUnavailable reports whether err means no usable price could be obtained.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrPriceUnavailable) || errors.Is(err, domain.ErrInvalidPriceProof)
}

var (
	_ domain.Oracle      = (*Client)(nil)
	_ domain.QuoteSource = (*Client)(nil)
)
