// Package transport provides the HTTP Requester of the scroll engine with
// caching, rate limiting, and error handling.
package transport

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

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/Sternrassler/scrolltable/pkg/cache"
	"github.com/Sternrassler/scrolltable/pkg/logging"
	"github.com/Sternrassler/scrolltable/pkg/ratelimit"
	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
)

var _ scrolltable.Requester = (*Client)(nil)

// Client fetches pages from a remote endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// URL is the absolute endpoint URL.
	URL string

	// Method is GET or POST. GET sends the parameters in the query string,
	// POST in the body.
	Method string

	// DataType selects the body decoding: json, jsonp or text.
	DataType string

	// ContentType of POST bodies. A type containing "json" sends the
	// parameters as a JSON object, anything else as a form.
	ContentType string

	// JSONPCallback is the query parameter naming the padding function.
	JSONPCallback string

	// Headers are added to every request.
	Headers http.Header

	// UserAgent header.
	UserAgent string

	// Timeout of a single attempt.
	Timeout time.Duration

	// Cache stores GET responses when set.
	Cache *cache.Manager

	// CacheTTL is used when a response carries no freshness headers.
	CacheTTL time.Duration

	// RateLimiter gates requests when set.
	RateLimiter *ratelimit.Tracker

	// Retry controls retries of failed attempts.
	Retry RetryConfig
}

// DefaultConfig returns a default configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Method:        http.MethodGet,
		DataType:      DataTypeJSON,
		JSONPCallback: "callback",
		UserAgent:     "scrolltable/1.0",
		Timeout:       30 * time.Second,
		CacheTTL:      cache.DefaultTTL,
		Retry:         DefaultRetryConfig(),
	}
}

// ConfigFromEngine derives a client configuration from the transport
// settings of an engine configuration.
func ConfigFromEngine(ec scrolltable.Config) Config {
	cfg := DefaultConfig(ec.URL)
	if ec.Method != "" {
		cfg.Method = strings.ToUpper(ec.Method)
	}
	if ec.DataType != "" {
		cfg.DataType = strings.ToLower(ec.DataType)
	}
	cfg.ContentType = ec.ContentType
	return cfg
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	endpoint, err := url.Parse(cfg.URL)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("url must be absolute (got %q)", cfg.URL)
	}

	switch cfg.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("method must be GET or POST (got %q)", cfg.Method)
	}

	switch cfg.DataType {
	case DataTypeJSON, DataTypeJSONP, DataTypeText:
	default:
		return nil, fmt.Errorf("data_type must be json, jsonp or text (got %q)", cfg.DataType)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   endpoint,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentTransport).With().Str("url", cfg.URL).Logger(),
	}, nil
}

// Request implements scrolltable.Requester. The fetch runs on its own
// goroutine and reports through exactly one continuation.
func (c *Client) Request(ctx context.Context, params scrolltable.Params, onSuccess func(raw any), onError func(err error)) {
	go func() {
		raw, err := c.Fetch(ctx, params)
		if err != nil {
			onError(err)
			return
		}
		onSuccess(raw)
	}()
}

// Fetch performs one page request and returns the decoded body.
func (c *Client) Fetch(ctx context.Context, params scrolltable.Params) (any, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	values := encodeParams(params)

	if c.config.DataType == DataTypeJSONP && c.config.Method == http.MethodGet {
		values.Set(c.config.JSONPCallback, c.config.JSONPCallback)
	}

	cacheable := c.config.Cache != nil && c.config.Method == http.MethodGet
	key := cache.PageKey{URL: c.config.URL, Params: values}

	if cacheable {
		entry, err := c.config.Cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("key", key.String()).Msg("Serving page from cache")
			requestsTotal.WithLabelValues("cached").Inc()
			return c.decode(entry.Data)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	if err := c.gate(ctx); err != nil {
		fetchErrorsTotal.WithLabelValues(string(classOf(err))).Inc()
		return nil, err
	}

	var body []byte
	var header http.Header
	var status int

	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		status, header, body, attemptErr = c.do(ctx, values)
		if attemptErr != nil {
			class := classOf(attemptErr)
			fetchErrorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Err(attemptErr).
				Str("error_class", string(class)).
				Msg("Page request failed")
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.decode(body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, err
	}

	if cacheable && status == http.StatusOK {
		entry := cache.NewEntry(status, header, body, c.config.CacheTTL)
		if err := c.config.Cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return raw, nil
}

// gate consults the rate limiter.
func (c *Client) gate(ctx context.Context) error {
	if c.config.RateLimiter == nil {
		return nil
	}

	allowed, err := c.config.RateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		// A broken limiter store must not stop the feed.
		c.logger.Warn().Err(err).Msg("Rate limit check failed")
		return nil
	}

	if !allowed {
		requestsTotal.WithLabelValues("rate_limited").Inc()
		return &FetchError{
			Class:   ErrorClassRateLimit,
			Message: c.config.RateLimiter.Scope(),
			Err:     ErrRateLimited,
		}
	}

	return nil
}

// do executes a single HTTP attempt.
func (c *Client) do(ctx context.Context, values url.Values) (int, http.Header, []byte, error) {
	req, err := c.newRequest(ctx, values)
	if err != nil {
		return 0, nil, nil, &FetchError{Class: ErrorClassClient, Message: "build request", Err: err}
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("query", req.URL.RawQuery).
		Msg("Executing page request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		return 0, nil, nil, &FetchError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if c.config.RateLimiter != nil {
		if err := c.config.RateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	requestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, &FetchError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		return resp.StatusCode, resp.Header, body, &FetchError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) newRequest(ctx context.Context, values url.Values) (*http.Request, error) {
	u := *c.endpoint

	var body io.Reader
	contentType := ""

	if c.config.Method == http.MethodGet {
		query := u.Query()
		for name, vs := range values {
			query[name] = vs
		}
		u.RawQuery = query.Encode()
	} else if strings.Contains(c.config.ContentType, "json") {
		payload, err := json.Marshal(flatten(values))
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = c.config.ContentType
	} else {
		body = strings.NewReader(values.Encode())
		contentType = c.config.ContentType
		if contentType == "" {
			contentType = "application/x-www-form-urlencoded"
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.config.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	for name, vs := range c.config.Headers {
		for _, v := range vs {
			req.Header.Add(name, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	return req, nil
}

func (c *Client) decode(body []byte) (any, error) {
	raw, err := Decode(c.config.DataType, body)
	if err != nil {
		return nil, &FetchError{Class: ErrorClassDecode, Message: c.config.DataType, Err: err}
	}
	return raw, nil
}

// Purge drops every cached page of the endpoint. A client without cache
// purges nothing.
func (c *Client) Purge(ctx context.Context) (int, error) {
	if c.config.Cache == nil {
		return 0, nil
	}
	return c.config.Cache.Purge(ctx, c.config.URL)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// encodeParams converts request parameters to url.Values. Slices become
// repeated values, nil values are dropped.
func encodeParams(params scrolltable.Params) url.Values {
	values := url.Values{}
	for name, v := range params {
		if v == nil {
			continue
		}
		switch v.(type) {
		case []string, []any, []int:
			values[name] = cast.ToStringSlice(v)
		default:
			values.Set(name, cast.ToString(v))
		}
	}
	return values
}

// flatten turns single values back into scalars for JSON bodies.
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for name, vs := range values {
		if len(vs) == 1 {
			out[name] = vs[0]
		} else {
			out[name] = vs
		}
	}
	return out
}
