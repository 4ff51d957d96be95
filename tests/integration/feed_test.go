//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/scrolltable/internal/testutil"
	"github.com/Sternrassler/scrolltable/pkg/cache"
	"github.com/Sternrassler/scrolltable/pkg/pagination"
	"github.com/Sternrassler/scrolltable/pkg/ratelimit"
	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
	"github.com/Sternrassler/scrolltable/pkg/surface"
	"github.com/Sternrassler/scrolltable/pkg/transport"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

func newFeed(t *testing.T, client *transport.Client, height float64) (*scrolltable.Engine, *surface.Text) {
	t.Helper()

	view := surface.NewText(height, 20)
	render, err := scrolltable.TextTemplate("{{.id}}")
	require.NoError(t, err)

	engine, err := scrolltable.New(view, scrolltable.FetchFunc(client.Fetch), scrolltable.Config{
		LoadingTemplate:   "loading...",
		CompletedTemplate: "no more items",
		Template:          render,
	})
	require.NoError(t, err)

	trigger, err := scrolltable.Mount(context.Background(), engine, view, view)
	require.NoError(t, err)
	t.Cleanup(trigger.Detach)

	return engine, view
}

func TestFeed_CachedScroll(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockPages(60)
	defer mock.Close()
	mock.SetHeader("Cache-Control", "max-age=300")

	cfg := transport.DefaultConfig(mock.URL())
	cfg.Cache = cache.NewManager(rdb)
	client, err := transport.New(cfg)
	require.NoError(t, err)

	// First feed: 400 high viewport loads 3 pages, scrolling loads the rest.
	engine, view := newFeed(t, client, 400)
	require.Equal(t, 3, mock.RequestCount())

	for engine.Status() != scrolltable.StatusCompleted {
		view.ScrollBy(200)
	}
	assert.Equal(t, 60, engine.Len())
	assert.Equal(t, 6, mock.RequestCount())

	// A second feed over the same endpoint is served from Redis.
	second, view2 := newFeed(t, client, 2000)
	for second.Status() != scrolltable.StatusCompleted {
		view2.ScrollBy(200)
	}
	assert.Equal(t, 60, second.Len())
	assert.Equal(t, 6, mock.RequestCount())

	removed, err := client.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, removed)
}

func TestFeed_RefreshAfterPurge(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockPages(30)
	defer mock.Close()
	mock.SetHeader("Cache-Control", "max-age=300")

	cfg := transport.DefaultConfig(mock.URL())
	cfg.Cache = cache.NewManager(rdb)
	client, err := transport.New(cfg)
	require.NoError(t, err)

	engine, _ := newFeed(t, client, 2000)
	require.Equal(t, scrolltable.StatusCompleted, engine.Status())
	require.Equal(t, 30, engine.Len())

	mock.SetTotal(12)
	_, err = client.Purge(context.Background())
	require.NoError(t, err)

	engine.Refresh(context.Background())

	assert.Equal(t, 12, engine.Len())
	assert.Equal(t, scrolltable.StatusCompleted, engine.Status())
}

func TestFeed_RateLimitBlocks(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockPages(100)
	defer mock.Close()
	mock.SetHeader(ratelimit.HeaderRemaining, "3")
	mock.SetHeader(ratelimit.HeaderReset, "60")

	u, _ := url.Parse(mock.URL())
	cfg := transport.DefaultConfig(mock.URL())
	cfg.RateLimiter = ratelimit.NewTracker(rdb, u.Host, zerolog.Nop())
	client, err := transport.New(cfg)
	require.NoError(t, err)

	var failures []error
	view := surface.NewText(400, 20)
	engine, err := scrolltable.New(view, scrolltable.FetchFunc(client.Fetch), scrolltable.Config{
		LoadingTemplate: "loading...",
		Error: func(err error) bool {
			failures = append(failures, err)
			return true
		},
	})
	require.NoError(t, err)

	_, err = scrolltable.Mount(context.Background(), engine, view, view)
	require.NoError(t, err)

	// Page 1 reports a critical budget, so page 2 is blocked locally.
	assert.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, 10, engine.Len())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], transport.ErrRateLimited)
	assert.Equal(t, scrolltable.StatusIdle, engine.Status())
	assert.Equal(t, 1, engine.Cursor().Current, "failed page is rolled back")

	// Once the window is cleared the feed resumes.
	require.NoError(t, cfg.RateLimiter.Reset(context.Background()))
	mock.SetHeader(ratelimit.HeaderRemaining, "90")
	view.ScrollBy(1)
	assert.Greater(t, mock.RequestCount(), 1)
}

func TestTracker_SharedState(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	writer := ratelimit.NewTracker(rdb, "api.example.com", zerolog.Nop())
	reader := ratelimit.NewTracker(rdb, "api.example.com", zerolog.Nop())

	headers := http.Header{}
	headers.Set(ratelimit.HeaderRemaining, "15")
	headers.Set(ratelimit.HeaderReset, "120")
	require.NoError(t, writer.UpdateFromHeaders(ctx, headers))

	state, err := reader.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, state.Remaining)
	assert.True(t, state.NeedsThrottling())
	assert.InDelta(t, 120, state.TimeUntilReset().Seconds(), 5)

	ttl, err := rdb.TTL(ctx, ratelimit.KeyPrefix+"api.example.com").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 2*time.Minute, "state outlives the window")
}

func TestBatchFetcher_WarmsCache(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockPages(95)
	defer mock.Close()
	mock.SetHeader("Cache-Control", "max-age=300")

	cfg := transport.DefaultConfig(mock.URL())
	cfg.Cache = cache.NewManager(rdb)
	client, err := transport.New(cfg)
	require.NoError(t, err)

	fetcher := pagination.NewBatchFetcher(
		pagination.Source{Fetch: client.Fetch, Config: scrolltable.Config{}},
		pagination.DefaultConfig(),
	)
	pages, err := fetcher.FetchAllPages(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages.Records(), 95)
	assert.Equal(t, 10, mock.RequestCount())

	engine, view := newFeed(t, client, 400)
	for engine.Status() != scrolltable.StatusCompleted {
		view.ScrollBy(200)
	}
	assert.Equal(t, 95, engine.Len())
	assert.Equal(t, 10, mock.RequestCount(), "feed served entirely from the warmed cache")
}
