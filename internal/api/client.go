// Package api talks to the backend of the public election results site.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"resultados/internal/logging"
)

const (
	nomenclatorPath = "/backend-difu/nomenclator/getNomenclator"
	scopeDataPath   = "/backend-difu/scope/data/getScopeData/%s/1"
)

// Client fetches documents from the results backend
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	logger    *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithUserAgent sets the User-Agent header sent with every request
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NomenclatorURL is the catalog endpoint
func (c *Client) NomenclatorURL() string {
	return c.baseURL + nomenclatorPath
}

// ScopeDataURL is the result endpoint of one station
func (c *Client) ScopeDataURL(code string) string {
	return c.baseURL + fmt.Sprintf(scopeDataPath, url.PathEscape(code))
}

// GetNomenclator downloads the raw catalog document
func (c *Client) GetNomenclator(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.NomenclatorURL())
}

// GetScopeData downloads the raw result document of one polling station
func (c *Client) GetScopeData(ctx context.Context, code string) ([]byte, error) {
	return c.get(ctx, c.ScopeDataURL(code))
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "es-AR,es;q=0.9")

	c.logger.Debug("sending request", zap.String("url", u))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", u, err)
	}
	c.logger.Debug("received response",
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.String("size", humanize.Bytes(uint64(len(body)))))
	return body, nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}
