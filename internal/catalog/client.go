// Package catalog holds the HTTP client procurement uses to snapshot catalog
// items. The catalog subsystem itself is an external collaborator; this
// client is its sole consumer on the procurement side.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ItemSnapshot carries the catalog fields frozen into a PO line at add-time.
type ItemSnapshot struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	LeadTimeDays int             `json:"lead_time_days"`
	InStock      bool            `json:"in_stock"`
	Supplier     string          `json:"supplier"`
	SupplierCode string          `json:"supplier_code"`
}

var (
	// ErrUnavailable indicates the catalog service is unreachable, timed
	// out, or failed with a server error.
	ErrUnavailable = errors.New("catalog: upstream unavailable")
	// ErrItemNotFound indicates the catalog has no such item.
	ErrItemNotFound = errors.New("catalog: item not found")
)

// UpstreamError preserves a catalog-side client error (4xx other than 404)
// so the original message reaches the caller instead of being generalized.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog: upstream error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client fetches catalog item snapshots over HTTP with a finite timeout.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a catalog client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetItem returns the current snapshot for a catalog item id. Transport
// failures and timeouts surface as ErrUnavailable; a 404 as ErrItemNotFound
// naming the id; other 5xx as ErrUnavailable; other 4xx forward the upstream
// message.
func (c *Client) GetItem(ctx context.Context, id string) (ItemSnapshot, error) {
	url := fmt.Sprintf("%s/api/catalog/items/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ItemSnapshot{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("cannot reach catalog service", slog.String("url", url), slog.Any("error", err))
		return ItemSnapshot{}, fmt.Errorf("%w: %s unreachable", ErrUnavailable, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			body.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		c.logger.Error("catalog service returned an error",
			slog.String("item_id", id),
			slog.Int("upstream_status", resp.StatusCode),
			slog.String("upstream_error", body.Error))

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ItemSnapshot{}, fmt.Errorf("%w: %q", ErrItemNotFound, id)
		case resp.StatusCode >= 500:
			return ItemSnapshot{}, fmt.Errorf("%w: %s", ErrUnavailable, body.Error)
		default:
			return ItemSnapshot{}, &UpstreamError{StatusCode: resp.StatusCode, Message: body.Error}
		}
	}

	var item ItemSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return ItemSnapshot{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return item, nil
}
