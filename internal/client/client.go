// Package client is an HTTP client for the orderz REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/service"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the orderz server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orderz: HTTP %d: %s", e.StatusCode, e.Message)
}

// PlacedOrder is the response of PlaceOrder.
type PlacedOrder struct {
	Order  service.Order       `json:"order"`
	Priced service.PricedOrder `json:"priced"`
}

func (c *Client) GenerateMetadata(ctx context.Context, req service.MetadataRequest) (metadata.ProductMetadata, error) {
	var out metadata.ProductMetadata
	err := c.call(ctx, http.MethodPost, "/v1/products/metadata", req, &out)
	return out, err
}

func (c *Client) PriceOrder(ctx context.Context, req service.OrderRequest) (service.PricedOrder, error) {
	var out service.PricedOrder
	err := c.call(ctx, http.MethodPost, "/v1/orders/price", req, &out)
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, req service.OrderRequest) (PlacedOrder, error) {
	var out PlacedOrder
	err := c.call(ctx, http.MethodPost, "/v1/orders", req, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (service.Order, error) {
	var out service.Order
	err := c.call(ctx, http.MethodGet, "/v1/orders/"+id.String(), nil, &out)
	return out, err
}

func (c *Client) RepriceOrder(ctx context.Context, id uuid.UUID) (service.PricedOrder, error) {
	var out service.PricedOrder
	err := c.call(ctx, http.MethodPost, "/v1/orders/"+id.String()+"/reprice", nil, &out)
	return out, err
}

func (c *Client) ListVersions(ctx context.Context) ([]catalog.Version, error) {
	var out []catalog.Version
	err := c.call(ctx, http.MethodGet, "/v1/catalog/versions", nil, &out)
	return out, err
}

// Snapshot exports the catalog of a version, or the live catalog at an
// instant. Both nil means the live catalog now.
func (c *Client) Snapshot(ctx context.Context, at *time.Time, versionID *uuid.UUID) (catalog.Export, error) {
	query := url.Values{}
	if at != nil {
		query.Set("at", at.Format(time.RFC3339Nano))
	}
	if versionID != nil {
		query.Set("version", versionID.String())
	}
	path := "/v1/catalog"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out catalog.Export
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("orderz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("orderz: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("orderz: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("orderz: decode response: %w", err)
	}
	return nil
}

// decodeAPIError reads the {"error": "..."} body the server writes, falling
// back to the raw body for proxies and the rate limiter.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
