package ldapi

import (
	"bytes"
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

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL          = "https://app.launchdarkly.com/"
	defaultTimeout          = 30 * time.Second
	defaultRateLimitWait    = 2 * time.Second
	defaultRateLimitMaxWait = time.Minute
	defaultServerRetryDelay = time.Second
	defaultMaxAttempts      = 20

	// Reset hints at or above this value are epoch milliseconds, below it a delay.
	epochMillisThreshold = 1_000_000_000_000

	apiVersionHeader = "LD-API-Version"
	apiVersion       = "beta"
)

// RetryPolicy controls how failed requests are retried.
type RetryPolicy struct {
	// RateLimitWait is used on 429 when the response carries no reset hint.
	RateLimitWait time.Duration
	// RateLimitMaxWait caps a header-derived wait.
	RateLimitMaxWait time.Duration
	// ServerRetryDelay is used after a 5xx status or a transport failure.
	ServerRetryDelay time.Duration
	// MaxAttempts bounds attempts per logical request. Zero retries forever.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitWait:    defaultRateLimitWait,
		RateLimitMaxWait: defaultRateLimitMaxWait,
		ServerRetryDelay: defaultServerRetryDelay,
		MaxAttempts:      defaultMaxAttempts,
	}
}

// Observer receives request outcomes, typically to feed metrics.
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
	ObserveRetry(reason string)
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, int, time.Duration) {}
func (noopObserver) ObserveRetry(string)                       {}

// Client is a rate-limit aware LaunchDarkly REST client.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
	policy     RetryPolicy
	limiter    *rate.Limiter
	observer   Observer
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRetryPolicy overrides retry behaviour. Non-positive durations keep their defaults.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p.RateLimitWait > 0 {
			c.policy.RateLimitWait = p.RateLimitWait
		}
		if p.RateLimitMaxWait > 0 {
			c.policy.RateLimitMaxWait = p.RateLimitMaxWait
		}
		if p.ServerRetryDelay > 0 {
			c.policy.ServerRetryDelay = p.ServerRetryDelay
		}
		if p.MaxAttempts >= 0 {
			c.policy.MaxAttempts = p.MaxAttempts
		}
	}
}

// WithRequestsPerSecond paces outgoing requests with a token bucket. Zero disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithObserver registers an observer for request and retry events.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New constructs a Client for the given base URL and API access token.
func New(base, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if !strings.HasSuffix(trimmed, "/") {
		trimmed += "/"
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("api key required")
	}
	cli := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
		policy:     DefaultRetryPolicy(),
		observer:   noopObserver{},
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the API root every relative path is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Request describes one logical API call. Body is replayed verbatim on every attempt.
type Request struct {
	Method string
	// Path is resolved against the base URL unless it is absolute. A leading
	// slash keeps the base URL path prefix.
	Path string
	Body []byte
}

// Do sends the request and retries rate-limited, server and connectivity
// failures according to the retry policy. The returned response is 2xx and
// the caller owns its body.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	if c == nil {
		return nil, errors.New("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := c.resolve(r.Path)
	if err != nil {
		return nil, err
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := c.newRequest(ctx, method, target, r.Body)
		if err != nil {
			return nil, err
		}

		var (
			wait    time.Duration
			reason  string
			lastErr error
		)
		start := c.now()
		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			reason = "transport"
			wait = c.policy.ServerRetryDelay
			lastErr = fmt.Errorf("perform request: %w", err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.observer.ObserveRequest(method, resp.StatusCode, c.now().Sub(start))
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			c.observer.ObserveRequest(method, resp.StatusCode, c.now().Sub(start))
			reason = "rate_limited"
			wait = c.rateLimitWait(resp.Header)
			lastErr = c.discard(req, resp)
		case resp.StatusCode >= 500:
			c.observer.ObserveRequest(method, resp.StatusCode, c.now().Sub(start))
			reason = "server_error"
			wait = c.policy.ServerRetryDelay
			lastErr = c.discard(req, resp)
		default:
			c.observer.ObserveRequest(method, resp.StatusCode, c.now().Sub(start))
			defer resp.Body.Close()
			return nil, transportErrorFor(req, resp)
		}

		if c.policy.MaxAttempts > 0 && attempt >= c.policy.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
		}
		c.log.Warn("retrying launchdarkly request",
			"reason", reason,
			"method", method,
			"url", target.String(),
			"attempt", attempt,
			"wait", wait.String(),
			"error", lastErr,
		)
		c.observer.ObserveRetry(reason)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) doJSON(ctx context.Context, r Request, v any) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, target *url.URL, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set(apiVersionHeader, apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if ref.Scheme == "" && ref.Host == "" && strings.HasPrefix(ref.Path, "/") {
		// Root-relative links stay under a path-prefixed base such as a proxy.
		prefix := strings.TrimSuffix(c.baseURL.Path, "/")
		if prefix != "" && ref.Path != prefix && !strings.HasPrefix(ref.Path, prefix+"/") {
			ref.Path = prefix + ref.Path
			ref.RawPath = ""
		}
	}
	return c.baseURL.ResolveReference(ref), nil
}

// discard drains a retryable response and returns it as an error.
func (c *Client) discard(req *http.Request, resp *http.Response) error {
	defer resp.Body.Close()
	err := transportErrorFor(req, resp)
	_, _ = io.Copy(io.Discard, resp.Body)
	return err
}

// rateLimitWait derives the pause after a 429 from the response headers.
func (c *Client) rateLimitWait(h http.Header) time.Duration {
	wait := c.policy.RateLimitWait
	if raw := strings.TrimSpace(h.Get("X-Ratelimit-Reset")); raw != "" {
		if reset, err := strconv.ParseInt(raw, 10, 64); err == nil && reset >= 0 {
			if reset >= epochMillisThreshold {
				wait = time.UnixMilli(reset).Sub(c.now())
			} else {
				wait = time.Duration(reset) * time.Millisecond
			}
		}
	} else if raw := strings.TrimSpace(h.Get("Retry-After")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait < 0 {
		wait = 0
	}
	if limit := c.policy.RateLimitMaxWait; limit > 0 && wait > limit {
		wait = limit
	}
	return wait
}

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
