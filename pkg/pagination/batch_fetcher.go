package pagination

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"

	"github.com/Sternrassler/scrolltable/pkg/logging"
	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scrolltable_prefetch_pages_total",
	Help: "Total number of pages fetched by the batch fetcher by result",
}, []string{"result"})

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	MaxConcurrency int
	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single 1-based page and returns the total record
// count with the page's records.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (count int, records []scrolltable.Record, err error)
	PageSize() int
}

// PageResult is the outcome of fetching a single page.
type PageResult struct {
	PageNumber int
	Records    []scrolltable.Record
	Error      error
}

// Pages maps page numbers to their records.
type Pages map[int][]scrolltable.Record

// Records returns the records of all pages in page order.
func (p Pages) Records() []scrolltable.Record {
	numbers := lo.Keys(p)
	slices.Sort(numbers)

	return lo.FlatMap(numbers, func(n int, _ int) []scrolltable.Record {
		return p[n]
	})
}

// BatchFetcher fetches all pages of an endpoint with a worker pool.
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	d := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = d.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches every page. On a worker error it returns the pages
// fetched so far together with the error.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context) (Pages, error) {
	logger := logging.NewLogger(logging.ComponentPrefetch)
	start := time.Now()

	firstCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	count, first, err := bf.fetcher.FetchPage(firstCtx, 1)
	cancel()
	if err != nil {
		pagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	pagesTotal.WithLabelValues("fetched").Inc()

	totalPages := scrolltable.TotalPages(count, bf.fetcher.PageSize())
	results := Pages{1: first}

	logger.Info().
		Int("count", count).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	if totalPages <= 1 {
		return results, nil
	}

	pageQueue := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	workerCtx, stop := context.WithCancel(ctx)
	defer stop()

	pageResults := make(chan PageResult, totalPages-1)

	var wg sync.WaitGroup
	for i := 0; i < min(bf.config.MaxConcurrency, totalPages-1); i++ {
		wg.Add(1)
		go bf.worker(workerCtx, pageQueue, pageResults, &wg)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	for result := range pageResults {
		if result.Error != nil {
			pagesTotal.WithLabelValues("failed").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch page %d: %w", result.PageNumber, result.Error)
				stop()
			}
			continue
		}

		pagesTotal.WithLabelValues("fetched").Inc()
		results[result.PageNumber] = result.Records

		if len(results)%50 == 0 {
			logger.Info().
				Int("fetched", len(results)).
				Int("total", totalPages).
				Msg("Fetch progress")
		}
	}

	if firstErr != nil {
		logger.Warn().
			Err(firstErr).
			Int("fetched_pages", len(results)).
			Int("total_pages", totalPages).
			Msg("Worker error - returning partial results")
		return results, fmt.Errorf("partial data %d/%d pages: %w", len(results), totalPages, firstErr)
	}

	logger.Info().
		Int("pages", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

func (bf *BatchFetcher) worker(ctx context.Context, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for page := range pageQueue {
		if ctx.Err() != nil {
			return
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		_, records, err := bf.fetcher.FetchPage(pageCtx, page)
		cancel()

		results <- PageResult{PageNumber: page, Records: records, Error: err}
	}
}

// Source adapts a blocking fetch to PageFetcher using the engine's request
// parameters and response formatting.
type Source struct {
	Fetch  scrolltable.FetchFunc
	Config scrolltable.Config
}

// PageSize implements PageFetcher.
func (s Source) PageSize() int {
	return s.Config.WithDefaults().PageSize
}

// FetchPage implements PageFetcher.
func (s Source) FetchPage(ctx context.Context, page int) (int, []scrolltable.Record, error) {
	cfg := s.Config.WithDefaults()

	params := cfg.FormatRequest(scrolltable.Params{
		scrolltable.ParamPage:     page,
		scrolltable.ParamPageSize: cfg.PageSize,
	})

	raw, err := s.Fetch(ctx, params)
	if err != nil {
		return 0, nil, err
	}

	resp := cfg.Format(raw)
	return resp.Count(cfg.CountKey), resp.Records(cfg.ResultKey), nil
}
