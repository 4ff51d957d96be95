package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/scrolltable/internal/config"
	"github.com/Sternrassler/scrolltable/pkg/cache"
	"github.com/Sternrassler/scrolltable/pkg/logging"
	"github.com/Sternrassler/scrolltable/pkg/metrics"
	"github.com/Sternrassler/scrolltable/pkg/pagination"
	"github.com/Sternrassler/scrolltable/pkg/ratelimit"
	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
	"github.com/Sternrassler/scrolltable/pkg/surface"
	"github.com/Sternrassler/scrolltable/pkg/transport"
)

// maxConsecutiveFailures aborts a scroll run against a broken endpoint.
const maxConsecutiveFailures = 3

// engineConfig maps the feed configuration onto the engine configuration.
func engineConfig(cfg *config.Config) (scrolltable.Config, error) {
	render, err := scrolltable.TextTemplate(cfg.Feed.Template)
	if err != nil {
		return scrolltable.Config{}, err
	}

	extra := cfg.Feed.Params

	return scrolltable.Config{
		URL:               cfg.Feed.URL,
		Method:            cfg.Feed.Method,
		DataType:          cfg.Feed.DataType,
		ContentType:       cfg.Feed.ContentType,
		LoadingTemplate:   cfg.Feed.LoadingTemplate,
		NoDataTemplate:    cfg.Feed.NoDataTemplate,
		CompletedTemplate: cfg.Feed.CompletedTemplate,
		Template:          render,
		DefaultPage:       cfg.Feed.DefaultPage,
		PageSize:          cfg.Feed.PageSize,
		CountKey:          cfg.Feed.CountKey,
		ResultKey:         cfg.Feed.ResultKey,
		IDField:           cfg.Feed.IDField,
		FormatRequest: func(p scrolltable.Params) scrolltable.Params {
			for k, v := range extra {
				p[k] = v
			}
			return p
		},
	}, nil
}

// connectRedis returns nil when no Redis address is configured.
func connectRedis(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// buildClient creates the HTTP requester, wired to Redis when available.
func buildClient(ec scrolltable.Config, cfg *config.Config, rdb *redis.Client) (*transport.Client, error) {
	tc := transport.ConfigFromEngine(ec)
	tc.UserAgent = cfg.Transport.UserAgent
	tc.Timeout = cfg.Transport.Timeout
	tc.CacheTTL = cfg.Transport.CacheTTL
	tc.Retry.MaxAttempts = cfg.Transport.MaxAttempts
	tc.Retry.InitialBackoff = cfg.Transport.InitialBackoff
	tc.Retry.MaxBackoff = cfg.Transport.MaxBackoff

	if len(cfg.Transport.Headers) > 0 {
		tc.Headers = http.Header{}
		for k, v := range cfg.Transport.Headers {
			tc.Headers.Set(k, v)
		}
	}

	if rdb != nil {
		if cfg.Redis.Cache {
			tc.Cache = cache.NewManager(rdb)
		}
		if cfg.Redis.RateLimit {
			scope := cfg.Feed.URL
			if u, err := url.Parse(cfg.Feed.URL); err == nil {
				scope = u.Host
			}
			tc.RateLimiter = ratelimit.NewTracker(rdb, scope, log.Logger)
		}
	}

	return transport.New(tc)
}

// runScroll scrolls a text viewport over the feed until it completes and
// renders the result to out.
func runScroll(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := logging.NewLogger(logging.ComponentCLI)

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, rdb, logger)
		defer srv.Close()
	}

	ec, err := engineConfig(cfg)
	if err != nil {
		return err
	}

	client, err := buildClient(ec, cfg, rdb)
	if err != nil {
		return err
	}

	var failures int
	var lastErr error
	ec.Success = func(any) bool {
		failures = 0
		return true
	}
	ec.Error = func(err error) bool {
		failures++
		lastErr = err
		return true
	}

	view := surface.NewText(cfg.Viewport.Height, cfg.Viewport.RowHeight)

	engine, err := scrolltable.New(view, scrolltable.FetchFunc(client.Fetch), ec)
	if err != nil {
		return err
	}

	trigger, err := scrolltable.Mount(ctx, engine, view, view)
	if err != nil {
		return err
	}
	defer trigger.Detach()

	steps := 0
	for engine.Status() != scrolltable.StatusCompleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if failures >= maxConsecutiveFailures {
			return fmt.Errorf("giving up after %d failed loads: %w", failures, lastErr)
		}
		if steps >= cfg.Viewport.MaxSteps {
			logger.Warn().Int("steps", steps).Msg("Stopped before the feed completed")
			break
		}
		view.ScrollBy(cfg.Viewport.Step)
		steps++
	}

	cursor := engine.Cursor()
	logger.Info().
		Int("records", engine.Len()).
		Int("pages", cursor.Current).
		Int("total", cursor.Total).
		Int("steps", steps).
		Msg("Feed finished")

	return view.Render(out)
}

// runDump fetches every page in parallel and writes one JSON object per record.
func runDump(ctx context.Context, cfg *config.Config, concurrency int, out io.Writer) error {
	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ec, err := engineConfig(cfg)
	if err != nil {
		return err
	}

	client, err := buildClient(ec, cfg, rdb)
	if err != nil {
		return err
	}

	fetcher := pagination.NewBatchFetcher(
		pagination.Source{Fetch: client.Fetch, Config: ec},
		pagination.Config{MaxConcurrency: concurrency, Timeout: cfg.Transport.Timeout},
	)

	pages, fetchErr := fetcher.FetchAllPages(ctx)

	enc := json.NewEncoder(out)
	for _, record := range pages.Records() {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	return fetchErr
}

// runPurge drops the cached pages of the endpoint.
func runPurge(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Redis.Addr == "" {
		return errors.New("purge needs redis.addr")
	}

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	removed, err := cache.NewManager(rdb).Purge(ctx, cfg.Feed.URL)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "purged %d pages\n", removed)
	return nil
}

// startMetricsServer serves /metrics, /health and /ready in the background.
func startMetricsServer(addr string, rdb *redis.Client, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when Redis, if used, answers a ping.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
