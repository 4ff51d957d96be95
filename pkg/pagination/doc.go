// Package pagination fetches every page of a paged endpoint in parallel.
//
// The scroll engine loads pages one at a time as the user scrolls. A
// BatchFetcher walks the same endpoint eagerly: it fetches page 1 to learn
// the record count, then distributes the remaining pages across a worker
// pool. Used with a caching transport it warms the page cache ahead of a
// feed; on its own it dumps a whole dataset.
//
// Example usage:
//
//	source := pagination.Source{Fetch: client.Fetch, Config: engineConfig}
//	fetcher := pagination.NewBatchFetcher(source, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx)
//	records := pages.Records()
//
// The batch fetcher:
//   - Fetches the first page to determine the page count
//   - Spawns a worker pool (default 4 workers)
//   - Collects results with progress logging
//   - Returns partial data alongside the first worker error
package pagination
