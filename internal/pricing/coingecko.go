// Package pricing resolves token USD prices from Coingecko. Only pools
// without a USDC side need it; USDC-quoted pools price directly off the
// pool's own sqrt price.
package pricing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"whirlpool-lp/internal/retry"
)

// DefaultBaseURL is the public Coingecko API.
const DefaultBaseURL = "https://api.coingecko.com"

// Client fetches spot prices.
type Client struct {
	http *resty.Client
}

// New creates a pricing client.
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

// USDPrice returns the current USD price for a Coingecko id, retrying
// transient failures forever. Position sizing cannot proceed without
// a price.
func (c *Client) USDPrice(ctx context.Context, id string) (float64, error) {
	return retry.Forever(ctx, func() (float64, error) {
		return c.fetch(ctx, id)
	}, retry.DefaultWait)
}

func (c *Client) fetch(ctx context.Context, id string) (float64, error) {
	var result map[string]map[string]float64
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           id,
			"vs_currencies": "usd",
		}).
		SetResult(&result).
		Get("/api/v3/simple/price")
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("fetch price for %s: status %d", id, resp.StatusCode())
	}

	price, ok := result[id]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no usd price for %s", id)
	}
	return price, nil
}
