// Package oracle provides the currency price mapping used by the
// conversion service. Prices come from an external market-data feed
// with a static fallback table, so callers always get a usable map.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// fallbackPrices covers the platform's principal currencies when the
// upstream feed is unreachable. The stable unit is pinned at 1.
var fallbackPrices = map[string]string{
	"BTC": "65000",
	"ETH": "3000",
	"BNB": "550",
	"SOL": "150",
	"XRP": "0.55",
	"LTC": "85",
}

const cacheKey = "oracle:prices"

// Client fetches currency prices. A zero feed URL means the fallback
// table is always used. When a Redis client is supplied, fetched
// prices are cached read-through with the configured TTL; freshness is
// best-effort and concurrent callers may each trigger a fetch.
type Client struct {
	feedURL    string
	stableUnit string
	httpClient *http.Client
	rdb        *redis.Client
	ttl        time.Duration
}

// NewClient creates an oracle client. rdb may be nil to disable caching.
func NewClient(feedURL, stableUnit string, rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{
		feedURL:    feedURL,
		stableUnit: stableUnit,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		rdb:        rdb,
		ttl:        ttl,
	}
}

// Prices returns the currency → unit-price mapping. It never fails:
// upstream errors degrade to the static fallback table. The stable
// unit is always present at price 1.
func (c *Client) Prices(ctx context.Context) map[string]decimal.Decimal {
	if prices, ok := c.cached(ctx); ok {
		return c.withStableUnit(prices)
	}

	prices, err := c.fetch(ctx)
	if err != nil {
		slog.Warn("price feed unavailable, using fallback table", "err", err)
		return c.withStableUnit(c.fallback())
	}

	c.cache(ctx, prices)
	return c.withStableUnit(prices)
}

func (c *Client) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	if c.feedURL == "" {
		return nil, errNoFeed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errBadStatus(resp.StatusCode)
	}

	var raw map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for code, price := range raw {
		if price.IsPositive() {
			out[code] = price
		}
	}
	return out, nil
}

func (c *Client) fallback() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(fallbackPrices))
	for code, s := range fallbackPrices {
		price, _ := decimal.NewFromString(s)
		out[code] = price
	}
	return out
}

func (c *Client) withStableUnit(prices map[string]decimal.Decimal) map[string]decimal.Decimal {
	prices[c.stableUnit] = decimal.NewFromInt(1)
	return prices
}

// --- Redis read-through cache ---

func (c *Client) cached(ctx context.Context) (map[string]decimal.Decimal, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var prices map[string]decimal.Decimal
	if json.Unmarshal(data, &prices) != nil {
		return nil, false
	}
	return prices, true
}

func (c *Client) cache(ctx context.Context, prices map[string]decimal.Decimal) {
	if c.rdb == nil {
		return
	}
	if data, err := json.Marshal(prices); err == nil {
		c.rdb.Set(ctx, cacheKey, data, c.ttl)
	}
}

var errNoFeed = errors.New("oracle: no feed URL configured")

func errBadStatus(code int) error {
	return fmt.Errorf("oracle: unexpected feed status %d", code)
}
