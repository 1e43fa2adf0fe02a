package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
	ErrRangeMismatch     = errors.New("http: response range does not match request")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int

	// Timeout for individual requests, zero means none.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration

	// Logger receives retry diagnostics. Default: zap.NewNop()
	Logger *zap.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 32,
		RetryAttempts:       3,
		RetryBackoff:        500 * time.Millisecond,
		RetryMaxBackoff:     10 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Response is the body of a successful GET.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string
}

// Client is an HTTP client for downloads with retry on transient failures.
type Client struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 32
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // byte offsets must match the stored file
	}

	return &Client{
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
		opts:   opts,
		logger: opts.Logger.Named("http"),
	}
}

// Head fetches metadata for url.
func (c *Client) Head(ctx context.Context, url string, headers map[string]string) (*FileInfo, error) {
	resp, err := c.do(ctx, http.MethodHead, url, headers, nil)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// Get fetches the whole body of url.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// GetRange fetches bytes [start, end] of url. end is inclusive as in the
// Range header.
func (c *Client) GetRange(ctx context.Context, url string, headers map[string]string, start, end int64) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, url, headers, func(req *http.Request) {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	})
	if err != nil {
		return nil, err
	}

	// A 200 without Content-Range means the server ignored the range.
	contentRange := resp.Header.Get("Content-Range")
	if resp.StatusCode == http.StatusOK && contentRange == "" {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	if err := checkContentRange(contentRange, start, end); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// do issues the request, retrying network failures and 5xx responses.
func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, prepare func(*http.Request)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("http: create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if prepare != nil {
			prepare(req)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %s", ErrServerError, resp.Status)
			continue
		}

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp, nil
	}

	return nil, fmt.Errorf("http: %s %s failed after %d attempts: %w", method, url, c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff || backoff <= 0 {
		backoff = c.opts.RetryMaxBackoff
	}

	// Jitter between 0.5x and 1.5x.
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("http: unexpected status code: %d", code)
	}
}

// cleanETag removes quotes and the weak prefix from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// checkContentRange verifies that a partial response covers bytes start-end.
// The server may shorten the end to the last byte of the resource.
func checkContentRange(header string, start, end int64) error {
	gotStart, gotEnd, total, err := ParseContentRange(header)
	if err != nil {
		return err
	}
	clamped := total >= 0 && gotEnd == total-1 && end > gotEnd
	if gotStart != start || (gotEnd != end && !clamped) {
		return fmt.Errorf("%w: requested %d-%d, got %q", ErrRangeMismatch, start, end, header)
	}
	return nil
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("http: invalid Content-Range: %q", header)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("http: invalid Content-Range: %q", header)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("http: invalid Content-Range: %q", header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("http: invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("http: invalid end byte: %w", err)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("http: invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
