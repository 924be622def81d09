package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

// ErrRetriesExhausted marks a call that kept hitting throttling responses
// until the attempt budget ran out.
var ErrRetriesExhausted = errors.New("max retries reached")

// HTTPError is a non-retryable HTTP status returned by the remote site.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Executor issues paced, single-flight HTTP calls on behalf of a harvest run.
type Executor interface {
	// Get fetches a landing page.
	Get(ctx context.Context, rawURL string) (string, error)
	// Execute submits a synthesized pagination payload to a form action.
	Execute(ctx context.Context, method, action string, payload url.Values) (string, error)
}

// Options controls HTTP behaviour and the politeness envelope.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string

	BaseDelay  time.Duration
	MaxJitter  time.Duration
	MaxRetries int
	MaxBackoff time.Duration

	// Limiter is an optional token bucket shared across concurrent sources.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Client implements Executor via the Go http.Client. Every attempt is
// preceded by a base-delay-plus-jitter sleep; throttling responses (429/503)
// escalate the delay exponentially up to MaxBackoff, honoring a valid
// Retry-After header when the server supplies one. The escalated delay is
// local to one call and decays back to the base delay for the next call.
type Client struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	maxBodyBytes int64

	baseDelay  time.Duration
	maxJitter  time.Duration
	maxRetries int
	maxBackoff time.Duration
	limiter    *rate.Limiter

	logger *slog.Logger

	// sleep is swappable so tests do not wait out real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a polite HTTP executor from the provided options.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 6
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent:    opts.UserAgent,
		extraHeaders: headers,
		maxBodyBytes: opts.MaxBodyBytes,
		baseDelay:    opts.BaseDelay,
		maxJitter:    opts.MaxJitter,
		maxRetries:   opts.MaxRetries,
		maxBackoff:   opts.MaxBackoff,
		limiter:      opts.Limiter,
		logger:       opts.Logger,
		sleep:        sleepCtx,
	}, nil
}

// Get fetches a landing page with the same politeness envelope as Execute.
func (c *Client) Get(ctx context.Context, rawURL string) (string, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// Execute submits the synthesized form payload to the pagination action.
func (c *Client) Execute(ctx context.Context, method, action string, payload url.Values) (string, error) {
	if method == "" {
		method = http.MethodPost
	}
	return c.do(ctx, strings.ToUpper(method), action, payload)
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload url.Values) (string, error) {
	delay := c.baseDelay

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.sleep(ctx, delay+c.jitter()); err != nil {
			return "", err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		req, err := c.buildRequest(ctx, method, rawURL, payload)
		if err != nil {
			return "", err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport-level failures back off the same way as throttling.
			c.logger.Warn("request failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
			delay = c.escalate(delay)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			hint := retryAfter(resp.Header)
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if hint > 0 {
				delay = hint
			} else {
				delay = c.escalate(delay)
			}
			c.logger.Warn("throttled by server", "url", rawURL, "status", resp.StatusCode, "next_delay", delay, "attempt", attempt)
			continue
		}

		body, err := c.readBody(resp)
		if err != nil {
			return "", err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
		}
		return string(body), nil
	}

	return "", fmt.Errorf("%w after %d attempts for %s", ErrRetriesExhausted, c.maxRetries, rawURL)
}

func (c *Client) buildRequest(ctx context.Context, method, rawURL string, payload url.Values) (*http.Request, error) {
	var body io.Reader
	if payload != nil && method != http.MethodGet {
		body = strings.NewReader(payload.Encode())
	}
	target := rawURL
	if payload != nil && method == http.MethodGet {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + payload.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-CH,de;q=0.9,fr;q=0.8,en;q=0.7")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

// escalate doubles the current delay, never decreasing and never exceeding
// the configured cap.
func (c *Client) escalate(current time.Duration) time.Duration {
	next := current * 2
	if next < c.baseDelay {
		next = c.baseDelay
	}
	if next <= current {
		next = current + time.Millisecond
	}
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	if next < current {
		next = current
	}
	return next
}

func (c *Client) jitter() time.Duration {
	if c.maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(c.maxJitter)))
}

func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
