// Package catalog fetches and parses search results from the upstream public
// library catalog, retrying transient failures.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/metrics"
	"github.com/bibliored/bibliored-server/internal/ratelimit"
)

const (
	// maxBodySize caps how much of a results page is read.
	maxBodySize = 5 << 20

	searchPath = "/F/"

	// Fixed catalog search parameters.
	findCode      = "WRD"
	localBase     = "BPU01"
	regionFilter  = "WRG"
	communeFilter = "WCM"
)

// Client is a rate-limited, retrying catalog client.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger

	baseURL    *url.URL
	region     string
	commune    string
	userAgent  string
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	parse func(r io.Reader) ([]RawCandidate, int, error)
}

// New creates a catalog client from cfg.
func New(cfg config.CatalogConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		http:       &http.Client{},
		limiter:    ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		logger:     logger,
		baseURL:    base,
		region:     cfg.Region,
		commune:    cfg.Commune,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		attempts:   attempts,
		retryDelay: cfg.RetryDelay,
		sleep:      sleepContext,
		parse:      parseResults,
	}, nil
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// BaseURL returns the configured catalog base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SearchURL returns the upstream URL queried for term.
func (c *Client) SearchURL(term string) string {
	query := url.Values{}
	query.Set("func", "find-b")
	query.Set("request", term)
	query.Set("find_code", findCode)
	query.Set("adjacent", "N")
	query.Set("local_base", localBase)
	query.Set("filter_code_1", regionFilter)
	query.Set("filter_request_1", c.region)
	query.Set("filter_code_2", communeFilter)
	query.Set("filter_request_2", c.commune)

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + searchPath
	u.RawQuery = query.Encode()
	return u.String()
}

// FetchAndParse searches the catalog for term and parses the result rows.
//
// Transport errors, timeouts, 5xx and 429 responses are retried, up to the
// configured number of attempts with a fixed delay in between. Any other
// non-2xx status fails at once. The page is parsed once, after it was
// fetched. When ctx is done the loop stops immediately. Every failure that
// is not the caller giving up matches ErrRetrievalFailed.
func (c *Client) FetchAndParse(ctx context.Context, term string) (*Result, error) {
	sourceURL := c.SearchURL(term)

	pg, attempts, err := c.fetch(ctx, term, sourceURL)
	if err != nil {
		return nil, err
	}

	reader, err := charset.NewReader(bytes.NewReader(pg.body), pg.contentType)
	if err != nil {
		return nil, wrapError("search", term, attempts, true, fmt.Errorf("decode response: %w", err))
	}

	rows, skipped, err := c.parse(reader)
	if err != nil {
		c.logger.Error("Catalog response unparseable", "term", term, "error", err)
		return nil, wrapError("search", term, attempts, true, fmt.Errorf("parse response: %w", err))
	}

	c.logger.Debug("Catalog search completed",
		"term", term,
		"attempt", attempts,
		"rows", len(rows),
		"skipped", skipped,
	)

	return &Result{
		Candidates: rows,
		SourceURL:  sourceURL,
		Attempts:   attempts,
		Skipped:    skipped,
	}, nil
}

// page is a raw results page as returned by the catalog.
type page struct {
	body        []byte
	contentType string
}

// fetch retrieves the results page, retrying transient failures. It also
// returns the number of attempts made.
func (c *Client) fetch(ctx context.Context, term, sourceURL string) (*page, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, attempt - 1, wrapError("search", term, attempt-1, false, err)
			}
		}

		start := time.Now()
		pg, err := c.fetchOnce(ctx, sourceURL)
		took := time.Since(start)

		if err == nil {
			metrics.ObserveCatalogAttempt("ok", took)
			return pg, attempt, nil
		}

		if ctx.Err() != nil {
			metrics.ObserveCatalogAttempt("canceled", took)
			return nil, attempt, wrapError("search", term, attempt, false, ctx.Err())
		}

		metrics.ObserveCatalogAttempt("error", took)
		lastErr = err

		if !retryable(err) {
			c.logger.Error("Catalog rejected request", "term", term, "attempt", attempt, "error", err)
			return nil, attempt, wrapError("search", term, attempt, true, err)
		}

		c.logger.Warn("Catalog request failed",
			"term", term,
			"attempt", attempt,
			"max_attempts", c.attempts,
			"error", err,
		)
	}

	c.logger.Error("Catalog search failed", "term", term, "attempts", c.attempts, "error", lastErr)
	return nil, c.attempts, wrapError("search", term, c.attempts, true, lastErr)
}

// retryable reports whether a failed attempt may succeed when repeated.
// Only statuses outside 2xx, 429 and 5xx are final.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnexpectedStatus)
}

// fetchOnce performs a single attempt bounded by the per-attempt timeout.
func (c *Client) fetchOnce(ctx context.Context, sourceURL string) (*page, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := c.doRequest(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return &page{body: body, contentType: contentType}, nil
}

// doRequest executes an HTTP request with rate limiting.
func (c *Client) doRequest(ctx context.Context, sourceURL string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx, c.baseURL.Host); err != nil {
		return nil, "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.Header.Get("Content-Type"), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	default:
		return nil, "", fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsCanceled reports whether err came from the caller giving up rather than
// the catalog failing.
func IsCanceled(err error) bool {
	var catalogErr *Error
	if errors.As(err, &catalogErr) {
		return !catalogErr.failed
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
