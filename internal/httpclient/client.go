// Package httpclient is the JSON-over-HTTP client used for every remote
// collaborator of the engine (language servers, Duckling). It adds a
// per-client rate limiter, bounded retries with exponential backoff and
// destination checks on top of net/http.
package httpclient

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

	"golang.org/x/time/rate"

	"github.com/teranos/nlu/errors"
)

// Options configures a Client. Zero values pick the defaults noted per field.
type Options struct {
	Timeout           time.Duration // Per attempt (default: 20s)
	MaxRetries        int           // Attempts per call (default: 3)
	InitialBackoff    time.Duration // Doubled after each failed attempt (default: 250ms)
	RequestsPerSecond float64       // 0 = unlimited
	Authorization     string        // Sent verbatim as the Authorization header
	BlockPrivateIP    bool
	AllowedSchemes    []string // Default: ["http", "https"]
	MaxRedirects      int      // Default: 10
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client performs JSON requests with retries.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	guard   guard
	opts    Options

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client with its own transport.
func New(opts Options) *Client {
	opts = withDefaults(opts)
	c := newClient(&http.Client{Timeout: opts.Timeout}, opts)
	c.http.Transport = &http.Transport{
		DialContext:           c.guard.dialer(),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return c
}

// Wrap builds a Client on top of an existing http.Client, typically the one
// of an httptest.Server. Private addresses are never blocked.
func Wrap(hc *http.Client, opts Options) *Client {
	opts.BlockPrivateIP = false
	return newClient(hc, withDefaults(opts))
}

func withDefaults(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if len(opts.AllowedSchemes) == 0 {
		opts.AllowedSchemes = []string{"http", "https"}
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	return opts
}

func newClient(hc *http.Client, opts Options) *Client {
	c := &Client{
		http:  hc,
		guard: guard{allowedSchemes: opts.AllowedSchemes, blockPrivateIP: opts.BlockPrivateIP},
		opts:  opts,
		sleep: sleepCtx,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	c.http.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Newf("stopped after %d redirects", c.opts.MaxRedirects)
		}
		if err := c.guard.check(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}
	return c
}

// ValidateURL parses rawURL and checks it against the client's destination rules.
func (c *Client) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.guard.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetJSON issues a GET and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", out)
}

// PostJSON encodes in as the request body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to encode request body")
	}
	return c.do(ctx, http.MethodPost, rawURL, body, "application/json", out)
}

// PostForm sends form as an url-encoded body and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string, out any) error {
	u, err := c.ValidateURL(rawURL)
	if err != nil {
		return errors.Wrapf(err, "request to %s blocked", rawURL)
	}

	backoff := c.opts.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, backoff); err != nil {
				return errors.Wrapf(err, "%s %s interrupted after %d attempts", method, u.Path, attempt-1)
			}
			backoff *= 2
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "rate limiter wait failed")
			}
		}

		lastErr = c.attempt(ctx, method, u, body, contentType, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(ctx, lastErr) {
			break
		}
	}
	return errors.Wrapf(lastErr, "%s %s failed", method, u.Redacted())
}

func (c *Client) attempt(ctx context.Context, method string, u *url.URL, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.opts.Authorization != "" {
		req.Header.Set("Authorization", c.opts.Authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
