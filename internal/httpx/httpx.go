package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/apierr"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=httpx_test -destination=mock_http_client_test.go -source=httpx.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 64 << 10

// RetryPolicy controls retries of transient statuses (429, 503).
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps any single wait, Retry-After included. 0 means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries a transient status up to three times, waiting
// 500ms before the first retry and never more than 10s per wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Client is a small wrapper around http.Client with sane defaults, session
// headers and retry of transient statuses.
type Client struct {
	HTTP      HTTPClient
	BaseURL   string
	UserAgent string
	Headers   map[string]string
	Session   *Session
	Retry     RetryPolicy

	log   zerolog.Logger
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc HTTPClient) Option { return func(c *Client) { c.HTTP = hc } }

func WithBaseURL(base string) Option { return func(c *Client) { c.BaseURL = base } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.UserAgent = ua } }

// WithHeaders adds fixed headers sent with every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			c.Headers[k] = v
		}
	}
}

func WithSession(s *Session) Option { return func(c *Client) { c.Session = s } }

func WithRetry(p RetryPolicy) Option { return func(c *Client) { c.Retry = p } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithSleeper replaces the context-aware wait between retries.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithClock replaces time.Now, used to resolve HTTP-date Retry-After values.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(timeout time.Duration, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	c := &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "marketdata/1.0",
		Retry:     DefaultRetryPolicy(),
		log:       zerolog.Nop(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req with the default and session headers attached. Responses with
// a 429 or 503 status are retried per the retry policy; any other non-2xx
// status is returned at once as an error from package apierr. On success the
// caller owns the response body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	c.decorate(ctx, req)

	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 {
			var err error
			if r, err = rewind(req); err != nil {
				return nil, err
			}
		}
		resp, err := c.HTTP.Do(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		statusErr := apierr.FromResponse(req.Method, req.URL.String(), resp.StatusCode, body)
		if !apierr.IsRetryable(statusErr) || attempt >= c.Retry.MaxRetries {
			return nil, statusErr
		}

		delay, fromHeader := c.retryAfter(resp.Header)
		if !fromHeader {
			delay = c.backoff(attempt)
		}
		if c.Retry.MaxDelay > 0 && delay > c.Retry.MaxDelay {
			delay = c.Retry.MaxDelay
		}
		c.log.Warn().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Int("retry", attempt+1).
			Dur("delay", delay).
			Msg("transient status, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Request issues method against path, which must be relative to BaseURL.
// params become the query string; a non-nil body is sent as JSON.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any) (*http.Response, error) {
	target, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, req)
}

// GetJSON performs a GET against path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.Request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) resolve(path string, params url.Values) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing path %q: %w", path, err)
	}
	if u.IsAbs() || u.Host != "" {
		return "", fmt.Errorf("path %q must be relative to the backend origin", path)
	}
	if c.BaseURL == "" {
		return "", errors.New("httpx: base URL not configured")
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + params.Encode()
	}
	return target, nil
}

// EffectiveSession returns the session headers a request made with ctx would
// carry.
func (c *Client) EffectiveSession(ctx context.Context) SessionSnapshot {
	snap := c.Session.Snapshot()
	if override, ok := sessionFromContext(ctx); ok {
		snap = snap.Merge(override)
	}
	return snap
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	c.EffectiveSession(ctx).Apply(req.Header)
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.Retry.BaseDelay << attempt
}

// retryAfter parses a Retry-After header in delta-seconds or HTTP-date form.
func (c *Client) retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(c.now())
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// rewind returns a copy of req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("httpx: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding body: %w", err)
	}
	r.Body = body
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
