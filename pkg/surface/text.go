// Package surface provides an in-memory, line-based rendering surface for
// the scrolltable engine. Every rendered line is one row of RowHeight
// units; the loading sentinel sits right after the last item.
package surface

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/Sternrassler/scrolltable/pkg/scrolltable"
)

// DefaultRowHeight is the height of one rendered line.
const DefaultRowHeight = 20.0

type sentinel struct {
	markup  string
	visible bool
}

// Text is a line-based surface. It implements scrolltable.Surface,
// scrolltable.Geometry and scrolltable.Signals.
type Text struct {
	mu        sync.Mutex
	rowHeight float64
	window    scrolltable.Window

	lists        map[string][]scrolltable.Fragment
	listOrder    []string
	sentinel     *sentinel
	placeholders map[scrolltable.Placeholder]string

	subs   map[int]func()
	nextID int
}

var (
	_ scrolltable.Surface  = (*Text)(nil)
	_ scrolltable.Geometry = (*Text)(nil)
	_ scrolltable.Signals  = (*Text)(nil)
)

// NewText creates a surface with a viewport of the given height.
func NewText(viewportHeight, rowHeight float64) *Text {
	if rowHeight <= 0 {
		rowHeight = DefaultRowHeight
	}

	return &Text{
		rowHeight:    rowHeight,
		window:       scrolltable.Window{Height: viewportHeight},
		lists:        make(map[string][]scrolltable.Fragment),
		placeholders: make(map[scrolltable.Placeholder]string),
		subs:         make(map[int]func()),
	}
}

// MountSentinel implements scrolltable.Surface. Blank markup yields no sentinel.
func (t *Text) MountSentinel(markup string) (scrolltable.Element, bool) {
	if strings.TrimSpace(markup) == "" {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sentinel = &sentinel{markup: markup, visible: true}

	return t.sentinel, true
}

// ShowSentinel implements scrolltable.Surface.
func (t *Text) ShowSentinel(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sentinel != nil {
		t.sentinel.visible = visible
	}
}

// ShowPlaceholder implements scrolltable.Surface.
func (t *Text) ShowPlaceholder(kind scrolltable.Placeholder, markup string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.placeholders[kind] = markup
}

// RemovePlaceholder implements scrolltable.Surface.
func (t *Text) RemovePlaceholder(kind scrolltable.Placeholder) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.placeholders, kind)
}

// ClearList implements scrolltable.Surface.
func (t *Text) ClearList(list string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.lists, list)
}

// AppendItems implements scrolltable.Surface.
func (t *Text) AppendItems(list string, items []scrolltable.Fragment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.touchList(list)
	t.lists[list] = append(t.lists[list], items...)
}

// PrependItems implements scrolltable.Surface.
func (t *Text) PrependItems(list string, items []scrolltable.Fragment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.touchList(list)
	t.lists[list] = append(slices.Clone(items), t.lists[list]...)
}

// RemoveItem implements scrolltable.Surface. Every item with the selector is removed.
func (t *Text) RemoveItem(selector string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for list, items := range t.lists {
		t.lists[list] = slices.DeleteFunc(items, func(f scrolltable.Fragment) bool {
			return f.Selector == selector
		})
	}
}

func (t *Text) touchList(list string) {
	if !slices.Contains(t.listOrder, list) {
		t.listOrder = append(t.listOrder, list)
	}
}

// Measure implements scrolltable.Geometry. Only the sentinel has geometry.
func (t *Text) Measure(el scrolltable.Element) scrolltable.Box {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := el.(*sentinel)
	if !ok || s != t.sentinel || !s.visible {
		return scrolltable.Box{}
	}

	return scrolltable.Box{
		Width:     1,
		Height:    t.rowHeight,
		OffsetTop: float64(t.rows()) * t.rowHeight,
	}
}

// Viewport implements scrolltable.Geometry.
func (t *Text) Viewport() scrolltable.Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.window
}

// Subscribe implements scrolltable.Signals.
func (t *Text) Subscribe(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// ScrollTo moves the viewport and notifies subscribers.
func (t *Text) ScrollTo(y float64) {
	t.mu.Lock()
	t.window.ScrollY = max(y, 0)
	t.mu.Unlock()

	t.notify()
}

// ScrollBy moves the viewport by dy and notifies subscribers.
func (t *Text) ScrollBy(dy float64) {
	t.mu.Lock()
	y := t.window.ScrollY + dy
	t.mu.Unlock()

	t.ScrollTo(y)
}

// Resize changes the viewport height and notifies subscribers.
func (t *Text) Resize(height float64) {
	t.mu.Lock()
	t.window.Height = height
	t.mu.Unlock()

	t.notify()
}

func (t *Text) notify() {
	t.mu.Lock()
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.subs[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Items returns a copy of the fragments rendered into list.
func (t *Text) Items(list string) []scrolltable.Fragment {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.lists[list])
}

// Placeholder returns the markup of a shown placeholder.
func (t *Text) Placeholder(kind scrolltable.Placeholder) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	markup, ok := t.placeholders[kind]
	return markup, ok
}

// SentinelVisible reports whether the loading sentinel is mounted and shown.
func (t *Text) SentinelVisible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sentinel != nil && t.sentinel.visible
}

// ContentHeight is the height of all rendered items.
func (t *Text) ContentHeight() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return float64(t.rows()) * t.rowHeight
}

// Lines returns the rendered output: items, then the sentinel, then placeholders.
func (t *Text) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lines []string
	for _, list := range t.listOrder {
		for _, item := range t.lists[list] {
			lines = append(lines, splitLines(item.Markup)...)
		}
	}

	if t.sentinel != nil && t.sentinel.visible {
		lines = append(lines, splitLines(t.sentinel.markup)...)
	}

	for _, kind := range []scrolltable.Placeholder{scrolltable.PlaceholderNoData, scrolltable.PlaceholderCompleted} {
		if markup, ok := t.placeholders[kind]; ok && markup != "" {
			lines = append(lines, splitLines(markup)...)
		}
	}

	return lines
}

// Render writes Lines to w, one per line.
func (t *Text) Render(w io.Writer) error {
	for _, line := range t.Lines() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("render line: %w", err)
		}
	}

	return nil
}

func (t *Text) rows() int {
	n := 0
	for _, list := range t.listOrder {
		for _, item := range t.lists[list] {
			n += len(splitLines(item.Markup))
		}
	}

	return n
}

// splitLines splits markup into rows. Empty markup still takes one row.
func splitLines(markup string) []string {
	return strings.Split(strings.TrimRight(markup, "\n"), "\n")
}
