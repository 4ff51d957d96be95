package scrolltable

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Sternrassler/scrolltable/pkg/logging"
)

// Status is the load state of an engine.
type Status int

const (
	// StatusIdle accepts the next Load.
	StatusIdle Status = iota
	// StatusLoading has a fetch in flight.
	StatusLoading
	// StatusCompleted has consumed every page, or found none.
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Engine loads records page by page and keeps them rendered on a Surface.
//
// The mutex is never held while calling the requester, the Success/Error
// callbacks, Format, FormatRequest or the re-check hook. Template runs
// under the lock while rendering and must not call back into the engine.
type Engine struct {
	mu        sync.Mutex
	surface   Surface
	requester Requester
	config    Config
	logger    zerolog.Logger

	cursor      PageCursor
	records     []Record
	status      Status
	placeholder Placeholder

	// generation is bumped by Refresh; responses of older generations are dropped.
	generation uint64
	recheck    func()
}

// New creates an engine rendering into surface and fetching through requester.
func New(surface Surface, requester Requester, cfg Config) (*Engine, error) {
	if surface == nil {
		return nil, fmt.Errorf("surface is required")
	}

	if requester == nil {
		return nil, fmt.Errorf("requester is required")
	}

	cfg = cfg.WithDefaults()

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}

	if cfg.DefaultPage < 0 {
		return nil, fmt.Errorf("default_page must be >= 0 (got %d)", cfg.DefaultPage)
	}

	return &Engine{
		surface:   surface,
		requester: requester,
		config:    cfg,
		logger:    logging.NewLogger(logging.ComponentEngine),
		cursor: PageCursor{
			Current: cfg.DefaultPage,
			Size:    cfg.PageSize,
		},
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() Config {
	return e.config
}

// Load requests the next page. It is a no-op while a fetch is in flight or
// once the engine completed. Completion is observed through Status, the
// records and the Success/Error callbacks.
func (e *Engine) Load(ctx context.Context) *Engine {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return e
	}

	e.cursor.Current++
	page := e.cursor.Current

	if !e.cursor.HasPage(page) {
		e.setCompletedLocked()
		e.mu.Unlock()
		return e
	}

	e.status = StatusLoading
	gen := e.generation
	size := e.cursor.Size
	e.mu.Unlock()

	params := e.config.FormatRequest(Params{
		ParamPage:     page,
		ParamPageSize: size,
	})

	e.logger.Debug().
		Int("page", page).
		Int("page_size", size).
		Msg("Loading page")

	e.requester.Request(ctx, params,
		func(raw any) { e.handleSuccess(gen, page, raw) },
		func(err error) { e.handleError(gen, page, err) },
	)

	return e
}

func (e *Engine) handleSuccess(gen uint64, page int, raw any) {
	if e.isStale(gen) {
		e.dropStale(page)
		return
	}

	if e.config.Success != nil && !e.config.Success(raw) {
		LoadsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	resp := e.config.Format(raw)
	count := resp.Count(e.config.CountKey)
	records := resp.Records(e.config.ResultKey)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.dropStale(page)
		return
	}

	e.status = StatusIdle

	if !resp.HasCount(e.config.CountKey) && e.cursor.Current == 1 {
		e.setNoDataLocked()
		e.mu.Unlock()

		LoadsTotal.WithLabelValues("empty").Inc()
		e.logger.Info().Msg("First page is empty")
		return
	}

	e.cursor.resolve(count)
	e.appendLocked(records)

	exhausted := e.cursor.Exhausted()
	if exhausted {
		e.setCompletedLocked()
	}
	cursor := e.cursor
	recheck := e.recheck
	e.mu.Unlock()

	LoadsTotal.WithLabelValues("success").Inc()
	e.logger.Debug().
		Int("page", cursor.Current).
		Int("total_pages", cursor.Total).
		Int("records", len(records)).
		Msg("Page loaded")

	if exhausted {
		e.logger.Info().Int("total_pages", cursor.Total).Msg("All pages loaded")
		return
	}

	if recheck != nil {
		recheck()
	}
}

func (e *Engine) handleError(gen uint64, page int, err error) {
	if e.isStale(gen) {
		e.dropStale(page)
		return
	}

	if e.config.Error != nil && !e.config.Error(err) {
		LoadsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.dropStale(page)
		return
	}

	e.status = StatusIdle
	if e.cursor.Current == page {
		e.cursor.Current--
	}
	e.mu.Unlock()

	LoadsTotal.WithLabelValues("error").Inc()
	e.logger.Warn().Err(err).Int("page", page).Msg("Page load failed")
}

func (e *Engine) isStale(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return gen != e.generation
}

func (e *Engine) dropStale(page int) {
	LoadsTotal.WithLabelValues("stale").Inc()
	e.logger.Debug().Int("page", page).Msg("Dropped response from before refresh")
}

// Refresh clears the rendered list and the records, resets the cursor and
// loads the first page again.
func (e *Engine) Refresh(ctx context.Context) *Engine {
	e.mu.Lock()
	e.surface.ClearList(e.config.ListSelector)
	e.surface.ShowSentinel(true)
	e.surface.RemovePlaceholder(PlaceholderCompleted)
	e.surface.RemovePlaceholder(PlaceholderNoData)

	e.placeholder = PlaceholderNone
	e.status = StatusIdle
	e.cursor.reset()
	e.records = nil
	e.generation++
	e.mu.Unlock()

	e.logger.Debug().Msg("Refreshing")

	return e.Load(ctx)
}

// Append adds records after the existing ones and renders them.
func (e *Engine) Append(records ...Record) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.appendLocked(records)

	return e
}

// Add is an alias of Append.
func (e *Engine) Add(records ...Record) *Engine {
	return e.Append(records...)
}

// Prepend adds records before the existing ones and renders them.
func (e *Engine) Prepend(records ...Record) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = append(slices.Clone(records), e.records...)
	e.dropNoDataLocked()
	if len(records) > 0 {
		e.surface.PrependItems(e.config.ListSelector, e.render(records))
	}
	RecordsTotal.WithLabelValues("prepend").Add(float64(len(records)))

	return e
}

// Preappend is an alias of Prepend.
func (e *Engine) Preappend(records ...Record) *Engine {
	return e.Prepend(records...)
}

func (e *Engine) appendLocked(records []Record) {
	e.records = append(e.records, records...)
	e.dropNoDataLocked()
	if len(records) > 0 {
		e.surface.AppendItems(e.config.ListSelector, e.render(records))
	}
	RecordsTotal.WithLabelValues("append").Add(float64(len(records)))
}

func (e *Engine) render(records []Record) []Fragment {
	return lo.Map(records, func(r Record, _ int) Fragment {
		return Fragment{
			Selector: e.itemSelector(r[e.config.IDField]),
			Markup:   e.config.Template(r),
		}
	})
}

func (e *Engine) itemSelector(id any) string {
	return e.config.ItemSelector + fmt.Sprint(id)
}

// Remove removes the given record, compared by identity.
func (e *Engine) Remove(record Record) *Engine {
	e.mu.Lock()
	idx := slices.IndexFunc(e.records, func(r Record) bool {
		return sameRecord(r, record)
	})
	if idx == -1 {
		e.mu.Unlock()
		return e
	}

	e.removeAtLocked(idx, record[e.config.IDField])
	recheck := e.recheck
	e.mu.Unlock()

	if recheck != nil {
		recheck()
	}

	return e
}

// RemoveByID removes the first record whose id field loosely equals id.
// idField defaults to the configured IDField.
func (e *Engine) RemoveByID(id any, idField ...string) *Engine {
	field := e.fieldName(idField)

	e.mu.Lock()
	idx := slices.IndexFunc(e.records, func(r Record) bool {
		return LooseEqual(r[field], id)
	})
	if idx == -1 {
		e.mu.Unlock()
		return e
	}

	e.removeAtLocked(idx, id)
	recheck := e.recheck
	e.mu.Unlock()

	if recheck != nil {
		recheck()
	}

	return e
}

func (e *Engine) removeAtLocked(idx int, id any) {
	e.records = slices.Delete(e.records, idx, idx+1)
	e.surface.RemoveItem(e.itemSelector(id))
	RecordsTotal.WithLabelValues("remove").Inc()

	if len(e.records) > 0 {
		return
	}

	if e.placeholder == PlaceholderCompleted {
		e.surface.RemovePlaceholder(PlaceholderCompleted)
		e.placeholder = PlaceholderNone
	}

	if e.status == StatusCompleted {
		e.setNoDataLocked()
	}
}

// GetByID returns the first record whose id field loosely equals id.
func (e *Engine) GetByID(id any, idField ...string) (Record, bool) {
	return lo.First(e.Filter(Criteria{e.fieldName(idField): id}))
}

// Filter returns the records matching every criterion, in order. The
// returned slice is never shared with the engine.
func (e *Engine) Filter(criteria Criteria) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	return filterRecords(e.records, criteria)
}

func (e *Engine) fieldName(idField []string) string {
	if len(idField) > 0 && idField[0] != "" {
		return idField[0]
	}

	return e.config.IDField
}

func (e *Engine) setCompletedLocked() {
	e.surface.ShowSentinel(false)
	if e.placeholder == PlaceholderNoData {
		e.surface.RemovePlaceholder(PlaceholderNoData)
	}
	e.surface.ShowPlaceholder(PlaceholderCompleted, e.config.CompletedTemplate)

	e.placeholder = PlaceholderCompleted
	e.status = StatusCompleted
}

func (e *Engine) setNoDataLocked() {
	e.surface.ShowSentinel(false)
	if e.placeholder == PlaceholderCompleted {
		e.surface.RemovePlaceholder(PlaceholderCompleted)
	}
	e.surface.ShowPlaceholder(PlaceholderNoData, e.config.NoDataTemplate)

	e.placeholder = PlaceholderNoData
	e.status = StatusCompleted
}

func (e *Engine) dropNoDataLocked() {
	if len(e.records) > 0 && e.placeholder == PlaceholderNoData {
		e.surface.RemovePlaceholder(PlaceholderNoData)
		e.placeholder = PlaceholderNone
	}
}

// setRecheck installs the hook run after a page that left more pages, and
// after every removal.
func (e *Engine) setRecheck(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recheck = fn
}

// Status returns the current load state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// Placeholder returns the placeholder currently shown.
func (e *Engine) Placeholder() Placeholder {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.placeholder
}

// Cursor returns a copy of the page cursor.
func (e *Engine) Cursor() PageCursor {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cursor
}

// Len returns the number of records held.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.records)
}

// Records returns a copy of the records in order.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.records)
}
