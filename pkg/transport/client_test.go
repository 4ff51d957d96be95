package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/scrolltable/internal/testutil"
	"github.com/Sternrassler/scrolltable/pkg/cache"
	"github.com/Sternrassler/scrolltable/pkg/ratelimit"
	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
)

// setupTestRedis creates a test Redis client and skips when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func pageParams(page int) scrolltable.Params {
	return scrolltable.Params{scrolltable.ParamPage: page, scrolltable.ParamPageSize: 10}
}

func TestNew_Validation(t *testing.T) {
	valid := DefaultConfig("http://api.example.com/items")

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing url", mutate: func(c *Config) { c.URL = "" }, errorMsg: "url is required"},
		{name: "relative url", mutate: func(c *Config) { c.URL = "/items" }, errorMsg: `url must be absolute (got "/items")`},
		{name: "bad method", mutate: func(c *Config) { c.Method = "PUT" }, errorMsg: `method must be GET or POST (got "PUT")`},
		{name: "bad data type", mutate: func(c *Config) { c.DataType = "xml" }, errorMsg: `data_type must be json, jsonp or text (got "xml")`},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errorMsg: "timeout must be > 0 (got 0s)"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, errorMsg: "max_attempts must be >= 1 (got 0)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			_, err := New(cfg)
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.errorMsg)
		})
	}
}

func TestConfigFromEngine(t *testing.T) {
	cfg := ConfigFromEngine(scrolltable.Config{
		URL:         "http://api.example.com/items",
		Method:      "post",
		DataType:    "JSONP",
		ContentType: "application/json",
	})

	assert.Equal(t, "http://api.example.com/items", cfg.URL)
	assert.Equal(t, http.MethodPost, cfg.Method)
	assert.Equal(t, DataTypeJSONP, cfg.DataType)
	assert.Equal(t, "application/json", cfg.ContentType)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)

	defaults := ConfigFromEngine(scrolltable.Config{URL: "http://h/x"})
	assert.Equal(t, http.MethodGet, defaults.Method)
	assert.Equal(t, DataTypeJSON, defaults.DataType)
}

func TestFetch_GetQuery(t *testing.T) {
	mock := testutil.NewMockPages(25)
	defer mock.Close()

	cfg := DefaultConfig(mock.URL())
	cfg.Headers = http.Header{"X-Token": {"secret"}}
	c := newClient(t, cfg)

	raw, err := c.Fetch(context.Background(), pageParams(3))
	require.NoError(t, err)

	resp := scrolltable.IdentityFormat(raw)
	assert.Equal(t, 25, resp.Count("count"))
	assert.Len(t, resp.Records("result"), 5)

	method, params, header := mock.LastRequest()
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "3", params.Get("page"))
	assert.Equal(t, "10", params.Get("pagesize"))
	assert.Equal(t, "secret", header.Get("X-Token"))
	assert.Equal(t, "scrolltable/1.0", header.Get("User-Agent"))
}

func TestFetch_PostBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantHeader  string
	}{
		{name: "form", contentType: "", wantHeader: "application/x-www-form-urlencoded"},
		{name: "json", contentType: "application/json", wantHeader: "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockPages(25)
			defer mock.Close()

			cfg := DefaultConfig(mock.URL())
			cfg.Method = http.MethodPost
			cfg.ContentType = tt.contentType
			c := newClient(t, cfg)

			raw, err := c.Fetch(context.Background(), pageParams(2))
			require.NoError(t, err)
			assert.Len(t, scrolltable.IdentityFormat(raw).Records("result"), 10)

			method, params, header := mock.LastRequest()
			assert.Equal(t, http.MethodPost, method)
			assert.Equal(t, "2", params.Get("page"))
			assert.Equal(t, tt.wantHeader, header.Get("Content-Type"))
		})
	}
}

func TestFetch_JSONP(t *testing.T) {
	mock := testutil.NewMockPages(3)
	defer mock.Close()

	cfg := DefaultConfig(mock.URL())
	cfg.DataType = DataTypeJSONP
	c := newClient(t, cfg)

	raw, err := c.Fetch(context.Background(), pageParams(1))
	require.NoError(t, err)
	assert.Equal(t, 3, scrolltable.IdentityFormat(raw).Count("count"))

	_, params, _ := mock.LastRequest()
	assert.Equal(t, "callback", params.Get("callback"))
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name      string
		resp      testutil.MockResponse
		wantClass ErrorClass
		wantCode  int
	}{
		{name: "not found", resp: testutil.MockResponse{StatusCode: 404}, wantClass: ErrorClassClient, wantCode: 404},
		{name: "server error", resp: testutil.MockResponse{StatusCode: 500}, wantClass: ErrorClassServer, wantCode: 500},
		{name: "too many requests", resp: testutil.MockResponse{StatusCode: 429}, wantClass: ErrorClassRateLimit, wantCode: 429},
		{name: "broken body", resp: testutil.MockResponse{StatusCode: 200, Body: "{oops"}, wantClass: ErrorClassDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockPages(10)
			defer mock.Close()
			mock.Enqueue(tt.resp)

			c := newClient(t, DefaultConfig(mock.URL()))

			_, err := c.Fetch(context.Background(), pageParams(1))

			var fe *FetchError
			require.True(t, errors.As(err, &fe), "error = %v", err)
			assert.Equal(t, tt.wantClass, fe.Class)
			assert.Equal(t, tt.wantCode, fe.StatusCode)
			assert.Equal(t, 1, mock.RequestCount(), "single attempt by default")
		})
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockPages(10)
	defer mock.Close()
	mock.Enqueue(testutil.MockResponse{StatusCode: 503}, testutil.MockResponse{StatusCode: 502})

	cfg := DefaultConfig(mock.URL())
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffMultiplier: 2}
	c := newClient(t, cfg)

	raw, err := c.Fetch(context.Background(), pageParams(1))
	require.NoError(t, err)
	assert.Len(t, scrolltable.IdentityFormat(raw).Records("result"), 10)
	assert.Equal(t, 3, mock.RequestCount())
}

func TestFetch_NetworkError(t *testing.T) {
	mock := testutil.NewMockPages(10)
	url := mock.URL()
	mock.Close()

	c := newClient(t, DefaultConfig(url))

	_, err := c.Fetch(context.Background(), pageParams(1))
	assert.Equal(t, ErrorClassNetwork, classOf(err))
}

func TestRequest_Async(t *testing.T) {
	mock := testutil.NewMockPages(10)
	defer mock.Close()

	c := newClient(t, DefaultConfig(mock.URL()))

	var wg sync.WaitGroup
	wg.Add(1)

	var got any
	c.Request(context.Background(), pageParams(1),
		func(raw any) { got = raw; wg.Done() },
		func(err error) { t.Errorf("unexpected error: %v", err); wg.Done() },
	)
	wg.Wait()

	assert.Equal(t, 10, scrolltable.IdentityFormat(got).Count("count"))
}

func TestFetch_Cache(t *testing.T) {
	mock := testutil.NewMockPages(25)
	defer mock.Close()
	mock.SetHeader("Cache-Control", "max-age=60")

	cfg := DefaultConfig(mock.URL())
	cfg.Cache = cache.NewManager(setupTestRedis(t))
	c := newClient(t, cfg)
	ctx := context.Background()

	_, err := c.Fetch(ctx, pageParams(1))
	require.NoError(t, err)
	raw, err := c.Fetch(ctx, pageParams(1))
	require.NoError(t, err)

	assert.Equal(t, 1, mock.RequestCount(), "second fetch served from cache")
	assert.Equal(t, 25, scrolltable.IdentityFormat(raw).Count("count"))

	_, err = c.Fetch(ctx, pageParams(2))
	require.NoError(t, err)
	assert.Equal(t, 2, mock.RequestCount())

	removed, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = c.Fetch(ctx, pageParams(1))
	require.NoError(t, err)
	assert.Equal(t, 3, mock.RequestCount())
}

func TestFetch_RateLimited(t *testing.T) {
	mock := testutil.NewMockPages(25)
	defer mock.Close()
	mock.SetHeader(ratelimit.HeaderRemaining, "2")
	mock.SetHeader(ratelimit.HeaderReset, "60")

	cfg := DefaultConfig(mock.URL())
	cfg.RateLimiter = ratelimit.NewTracker(setupTestRedis(t), "mock", zerolog.Nop())
	c := newClient(t, cfg)
	ctx := context.Background()

	_, err := c.Fetch(ctx, pageParams(1))
	require.NoError(t, err)

	_, err = c.Fetch(ctx, pageParams(2))
	assert.True(t, errors.Is(err, ErrRateLimited), "error = %v", err)
	assert.Equal(t, ErrorClassRateLimit, classOf(err))
	assert.Equal(t, 1, mock.RequestCount())
}

func TestEncodeParams(t *testing.T) {
	values := encodeParams(scrolltable.Params{
		"page":  2,
		"tags":  []string{"a", "b"},
		"skip":  nil,
		"ratio": 0.5,
	})

	assert.Equal(t, "2", values.Get("page"))
	assert.Equal(t, []string{"a", "b"}, values["tags"])
	assert.Equal(t, "0.5", values.Get("ratio"))
	_, ok := values["skip"]
	assert.False(t, ok)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		dataType string
		body     string
		want     any
		wantErr  bool
	}{
		{name: "json", dataType: DataTypeJSON, body: `{"count":1}`, want: map[string]any{"count": float64(1)}},
		{name: "jsonp", dataType: DataTypeJSONP, body: `cb({"count":1});`, want: map[string]any{"count": float64(1)}},
		{name: "jsonp without padding", dataType: DataTypeJSONP, body: `{"count":1}`, want: map[string]any{"count": float64(1)}},
		{name: "text", dataType: DataTypeText, body: "hello", want: "hello"},
		{name: "bad json", dataType: DataTypeJSON, body: "{", wantErr: true},
		{name: "unterminated jsonp", dataType: DataTypeJSONP, body: `cb({"count":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.dataType, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
