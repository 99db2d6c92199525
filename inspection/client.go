// Package inspection is a client for the detection service's REST API:
// warnings, detection records, models and aggregate statistics. Responses
// can be cached in memory for a short TTL so dashboards polling the same
// pages do not hit the service on every refresh.
package inspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

const (
	apiPrefix      = "/yolo/api/"
	defaultTimeout = 10 * time.Second
	maxBodySize    = 8 << 20
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// CacheTTL > 0 keeps successful responses for that long.
	CacheTTL time.Duration
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// APIError is a response whose envelope code is not 0.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inspection %s: code %d: %s", e.Path, e.Code, e.Msg)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inspection %s: http %d: %s", e.Path, e.StatusCode, e.Body)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	cache  *bigcache.BigCache
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("inspection base url is empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid inspection base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{base: base, http: hc, logger: logger.With("component", "inspection")}
	if cfg.CacheTTL > 0 {
		cacheCfg := bigcache.DefaultConfig(cfg.CacheTTL)
		cacheCfg.Shards = 16
		cacheCfg.MaxEntriesInWindow = 1024
		cacheCfg.CleanWindow = cfg.CacheTTL
		cacheCfg.Verbose = false
		cache, err := bigcache.New(context.Background(), cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the response cache.
func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

func (c *Client) Warnings(ctx context.Context, p Page) (WarningsData, error) {
	return get[WarningsData](ctx, c, "warnings/", p.query())
}

func (c *Client) DetectionRecords(ctx context.Context, p Page) (DetectionRecordsData, error) {
	return get[DetectionRecordsData](ctx, c, "detection-records/", p.query())
}

func (c *Client) Models(ctx context.Context, p Page) (ModelsData, error) {
	return get[ModelsData](ctx, c, "models/", p.query())
}

func (c *Client) DetectionStats(ctx context.Context) (DetectionStatsData, error) {
	return get[DetectionStatsData](ctx, c, "detection-stats/", nil)
}

func (c *Client) CameraStats(ctx context.Context) (CameraStatsData, error) {
	return get[CameraStatsData](ctx, c, "cameras/detection-stats/", nil)
}

func (p Page) query() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return q
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var zero T
	u := *c.base
	u.Path = c.base.Path + apiPrefix + path
	u.RawQuery = query.Encode()
	key := u.String()

	body, cached := c.cached(key)
	if !cached {
		var err error
		body, err = c.fetch(ctx, key, u.Path)
		if err != nil {
			return zero, err
		}
	}

	var resp Response[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return zero, fmt.Errorf("inspection %s: decode response: %w", u.Path, err)
	}
	if resp.Code != 0 {
		msg := ""
		if resp.Msg != nil {
			msg = *resp.Msg
		}
		return zero, &APIError{Path: u.Path, Code: resp.Code, Msg: msg}
	}
	if !cached && c.cache != nil {
		if err := c.cache.Set(key, body); err != nil {
			c.logger.Debug("Failed to cache response", "url", key, "error", err)
		}
	}
	return resp.Data, nil
}

func (c *Client) cached(key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, err := c.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.logger.Debug("Response cache lookup failed", "url", key, "error", err)
		}
		return nil, false
	}
	return body, true
}

func (c *Client) fetch(ctx context.Context, rawURL, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inspection %s: build request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inspection %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("inspection %s: read body: %w", path, err)
	}
	c.logger.Debug("Inspection request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
