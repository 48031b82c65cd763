// Package civitai fetches single pages from the Civitai images API.
package civitai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/models"
)

// MaxLimit is the largest page size the API serves.
const MaxLimit = 200

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Sort    string
	Period  string
	Timeout time.Duration
}

// Client requests one page at a time. It does not retry.
type Client struct {
	baseURL    string
	apiKey     string
	sort       string
	period     string
	httpClient *http.Client
	logger     *zap.Logger // optional
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a logger for request tracing.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// NewClient returns a client for opts.BaseURL.
func NewClient(opts Options, clientOpts ...ClientOption) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		sort:       opts.Sort,
		period:     opts.Period,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
	for _, o := range clientOpts {
		o(c)
	}
	return c
}

// Page is one decoded response.
type Page struct {
	Items      []models.RawItem
	NextCursor string
	// TotalItems is the upstream total when reported, else -1.
	TotalItems int64
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

type pageResponse struct {
	Items    []json.RawMessage `json:"items"`
	Metadata struct {
		NextCursor json.RawMessage `json:"nextCursor"`
		TotalItems *int64          `json:"totalItems"`
	} `json:"metadata"`
}

// FetchPage requests up to limit items starting at cursor ("" for the first page).
func (c *Client) FetchPage(ctx context.Context, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if c.sort != "" {
		q.Set("sort", c.sort)
	}
	if c.period != "" {
		q.Set("period", c.period)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := c.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()
	if c.logger != nil {
		c.logger.Debug("upstream page fetched",
			zap.String("cursor", cursor),
			zap.Int("limit", limit),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var decoded pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}

	page := &Page{
		Items:      make([]models.RawItem, len(decoded.Items)),
		NextCursor: cursorString(decoded.Metadata.NextCursor),
		TotalItems: -1,
	}
	for i, raw := range decoded.Items {
		page.Items[i] = models.RawItem(raw)
	}
	if decoded.Metadata.TotalItems != nil {
		page.TotalItems = *decoded.Metadata.TotalItems
	}
	return page, nil
}

// cursorString accepts the cursor as a JSON string or number.
func cursorString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}
