// Package api implements a JSON HTTP client shared by provider adapters.
// Requests are authenticated with a bearer token, throttled client-side,
// and guarded by a circuit breaker. Failures are returned as
// *rpa.ProviderError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerMinute is the default client-side request rate.
const DefaultRequestsPerMinute = 60

// maxErrorBody limits how much of an error response body is kept.
const maxErrorBody = 4096

// Client is a JSON HTTP client for a single provider.
type Client struct {
	kind    rpa.ProviderKind
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

type config struct {
	ts      oauth2.TokenSource
	client  *http.Client
	rpm     int
	logger  log.Logger
	breaker gobreaker.Settings
	timeout time.Duration
}

// Option configures a Client.
type Option func(*config)

// WithAPIKey authenticates requests with a static bearer token.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key})
	}
}

// WithTokenSource authenticates requests with tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *config) {
		c.ts = ts
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithRequestsPerMinute sets the client-side request rate.
// A rate less than 1 disables throttling.
func WithRequestsPerMinute(rpm int) Option {
	return func(c *config) {
		c.rpm = rpm
	}
}

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBreakerTimeout sets how long the circuit breaker stays open.
func WithBreakerTimeout(d time.Duration) Option {
	return func(c *config) {
		c.breaker.Timeout = d
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New creates a new provider client for baseURL.
func New(kind rpa.ProviderKind, baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s base url: %w", kind, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base url: %s", kind, baseURL)
	}
	cfg := &config{
		rpm:     DefaultRequestsPerMinute,
		logger:  log.NopLogger,
		timeout: 30 * time.Second,
		breaker: gobreaker.Settings{
			Name:        string(kind),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ts == nil {
		return nil, fmt.Errorf("missing %s credentials", kind)
	}

	base := cfg.client
	if base == nil {
		base = &http.Client{Timeout: cfg.timeout}
	}
	// the oauth2 transport wraps the base client's transport
	client := oauth2.NewClient(context.WithValue(context.Background(), oauth2.HTTPClient, base), cfg.ts)
	client.Timeout = base.Timeout

	c := &Client{
		kind:    kind,
		baseURL: u,
		client:  client,
		logger:  cfg.logger,
	}
	if cfg.rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.rpm)), cfg.rpm)
	}

	settings := cfg.breaker
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.IsSuccessful = func(err error) bool {
		// only transient provider failures count against the breaker
		if err == nil || errors.Is(err, context.Canceled) {
			return true
		}
		var provErr *rpa.ProviderError
		return errors.As(err, &provErr) && !provErr.Transient
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Info(
			logkeys.Message, "circuit breaker state change",
			logkeys.Provider, name,
			"from", from.String(),
			"to", to.String(),
		)
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)
	return c, nil
}

// Kind returns the provider kind of c.
func (c *Client) Kind() rpa.ProviderKind {
	return c.kind
}

// Do sends in as JSON to path using method and decodes the response into out.
// Either in or out may be nil. Op names the operation in errors.
func (c *Client) Do(ctx context.Context, op, method, path string, in, out interface{}) error {
	logger := ctxlog.Logger(ctx, c.logger).With(logkeys.Provider, c.kind, "op", op)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: rate limit wait: %w", c.kind, op, err)
		}
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, op, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &rpa.ProviderError{Provider: c.kind, Op: op, Transient: true, Err: err}
	}
	if err != nil {
		logger.Debug(logkeys.Message, "provider request", logkeys.Error, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &rpa.ProviderError{Provider: c.kind, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &rpa.ProviderError{Provider: c.kind, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &rpa.ProviderError{
			Provider:   c.kind,
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  TransientStatus(resp.StatusCode),
			Err:        errors.New(msg),
		}
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rpa.ProviderError{Provider: c.kind, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// transportError converts a failed round trip into a provider error.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", c.kind, op, ctx.Err())
	}
	provErr := &rpa.ProviderError{Provider: c.kind, Op: op, Transient: true, Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		provErr.StatusCode = retrieveErr.Response.StatusCode
		provErr.Transient = TransientStatus(provErr.StatusCode)
	}
	return provErr
}

// TransientStatus reports whether an HTTP status code is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
