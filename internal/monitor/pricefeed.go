package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/toolchat/internal/httpkit"
)

// Quote is the price feed's answer for one asset.
type Quote struct {
	Price float64 `json:"price"`
	// Timestamp is in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
}

// Time converts Timestamp.
func (q Quote) Time() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// PriceSource returns the current price of an asset.
type PriceSource interface {
	Price(ctx context.Context, asset string) (*Quote, error)
}

// PriceFeed reads prices from GET <base>/<asset>/price.
type PriceFeed struct {
	baseURL string
	client  *http.Client
}

// NewPriceFeed creates a feed client. timeout <= 0 uses the httpkit
// default.
func NewPriceFeed(baseURL string, timeout time.Duration) *PriceFeed {
	opts := []httpkit.ClientOption{}
	if timeout > 0 {
		opts = append(opts, httpkit.WithTimeout(timeout))
	}
	return &PriceFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpkit.NewClient(opts...),
	}
}

// Price fetches the current quote for asset.
func (f *PriceFeed) Price(ctx context.Context, asset string) (*Quote, error) {
	endpoint := f.baseURL + "/" + url.PathEscape(asset) + "/price"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("fetch price: HTTP %d: %s", resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var q Quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&q); err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}
	return &q, nil
}
