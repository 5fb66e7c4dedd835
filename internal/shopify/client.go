package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"shopify-sync-service/internal/config"
	"shopify-sync-service/internal/logger"
)

// APIError is a non-2xx response from the Admin API.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is populated from the Retry-After header on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify api error %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is an upstream 429. Callers use this to
// stop a batch early instead of crashing it.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Client wraps the Admin REST API for a single shop. Every request waits on a
// token-bucket limiter so the upstream per-second budget is respected even
// when several sync tasks run at once.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(cfg config.ShopifyConfig) (*Client, error) {
	domain := strings.TrimSpace(cfg.ShopDomain)
	if domain == "" {
		return nil, errors.New("shop domain is empty")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("access token is empty")
	}

	qps := cfg.RequestsPerSec
	if qps <= 0 {
		qps = 2
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 250
	}

	return &Client{
		baseURL:  fmt.Sprintf("https://%s/admin/api/%s", domain, cfg.APIVersion),
		token:    cfg.AccessToken,
		pageSize: pageSize,
		http:     &http.Client{Timeout: cfg.GetRequestTimeout()},
		limiter:  rate.NewLimiter(rate.Limit(qps), 1),
	}, nil
}

// ListOrders fetches one page of orders inside the window. Pass the
// NextPageInfo of the previous page to continue; an empty NextPageInfo on the
// result means the listing is exhausted.
func (c *Client) ListOrders(ctx context.Context, window OrderWindow, pageInfo string) (OrdersPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	if pageInfo != "" {
		// Shopify rejects filter params on cursor-continuation requests.
		params.Set("page_info", pageInfo)
	} else {
		params.Set("status", "any")
		if !window.From.IsZero() {
			params.Set("created_at_min", window.From.UTC().Format(time.RFC3339))
		}
		if !window.To.IsZero() {
			params.Set("created_at_max", window.To.UTC().Format(time.RFC3339))
		}
	}

	var payload struct {
		Orders []Order `json:"orders"`
	}
	next, err := c.getPaged(ctx, "/orders.json", params, &payload)
	if err != nil {
		return OrdersPage{}, err
	}
	return OrdersPage{Orders: payload.Orders, NextPageInfo: next}, nil
}

// ListProducts fetches one page of the full catalog.
func (c *Client) ListProducts(ctx context.Context, pageInfo string) (ProductsPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	if pageInfo != "" {
		params.Set("page_info", pageInfo)
	}

	var payload struct {
		Products []Product `json:"products"`
	}
	next, err := c.getPaged(ctx, "/products.json", params, &payload)
	if err != nil {
		return ProductsPage{}, err
	}
	return ProductsPage{Products: payload.Products, NextPageInfo: next}, nil
}

// GetOrderRefunds returns every refund record attached to the order.
func (c *Client) GetOrderRefunds(ctx context.Context, orderID int64) ([]Refund, error) {
	var payload struct {
		Refunds []Refund `json:"refunds"`
	}
	path := fmt.Sprintf("/orders/%d/refunds.json", orderID)
	if _, err := c.getPaged(ctx, path, url.Values{}, &payload); err != nil {
		return nil, err
	}
	return payload.Refunds, nil
}

// CountOrders asks upstream how many orders exist inside the window.
func (c *Client) CountOrders(ctx context.Context, window OrderWindow) (int64, error) {
	params := url.Values{}
	params.Set("status", "any")
	if !window.From.IsZero() {
		params.Set("created_at_min", window.From.UTC().Format(time.RFC3339))
	}
	if !window.To.IsZero() {
		params.Set("created_at_max", window.To.UTC().Format(time.RFC3339))
	}

	var payload struct {
		Count int64 `json:"count"`
	}
	if _, err := c.getPaged(ctx, "/orders/count.json", params, &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// getPaged performs one rate-limited GET and returns the page_info cursor for
// the next page, if the Link header advertises one.
func (c *Client) getPaged(ctx context.Context, path string, params url.Values, out interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("shopify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, convErr := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); convErr == nil {
				apiErr.RetryAfter = time.Duration(secs * float64(time.Second))
			}
			logger.Log.Warn("Shopify rate limit hit",
				zap.String("path", path),
				zap.Duration("retryAfter", apiErr.RetryAfter),
			)
		}
		return "", apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("failed to decode shopify response for %s: %w", path, err)
	}

	return nextPageInfo(resp.Header.Get("Link")), nil
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageInfo extracts the page_info cursor from a Link header like
// <https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=XYZ&limit=250>; rel="next".
func nextPageInfo(link string) string {
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		m := linkNextRe.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		u, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		if info := u.Query().Get("page_info"); info != "" {
			return info
		}
	}
	return ""
}
