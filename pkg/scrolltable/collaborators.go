package scrolltable

import "context"

// Requester performs one page fetch and reports the outcome through exactly
// one of the continuations. It may call them synchronously or from another
// goroutine.
type Requester interface {
	Request(ctx context.Context, params Params, onSuccess func(raw any), onError func(err error))
}

// FetchFunc adapts a blocking fetch to Requester. The continuations run on
// the caller's goroutine, so cascading loads complete before Load returns.
type FetchFunc func(ctx context.Context, params Params) (any, error)

// Request implements Requester.
func (f FetchFunc) Request(ctx context.Context, params Params, onSuccess func(raw any), onError func(err error)) {
	raw, err := f(ctx, params)
	if err != nil {
		onError(err)
		return
	}

	onSuccess(raw)
}

// Element is an opaque handle to a mounted node, owned by the Surface.
type Element any

// Placeholder identifies the auxiliary markers shown after the list.
type Placeholder int

const (
	PlaceholderNone Placeholder = iota
	PlaceholderNoData
	PlaceholderCompleted
)

func (p Placeholder) String() string {
	switch p {
	case PlaceholderNoData:
		return "no_data"
	case PlaceholderCompleted:
		return "completed"
	default:
		return "none"
	}
}

// Fragment is one rendered record. Selector addresses it for removal.
type Fragment struct {
	Selector string
	Markup   string
}

// Surface is the rendering target of an engine.
type Surface interface {
	// MountSentinel inserts the loading indicator built from markup. It
	// returns false when no sentinel could be created.
	MountSentinel(markup string) (Element, bool)
	ShowSentinel(visible bool)
	ShowPlaceholder(kind Placeholder, markup string)
	RemovePlaceholder(kind Placeholder)
	ClearList(list string)
	AppendItems(list string, items []Fragment)
	PrependItems(list string, items []Fragment)
	RemoveItem(selector string)
}

// Box is the rendered geometry of an element.
type Box struct {
	Width     float64
	Height    float64
	OffsetTop float64
}

// Window is the visible part of the surface.
type Window struct {
	Height  float64
	ScrollY float64
}

// Geometry measures mounted elements and the viewport.
type Geometry interface {
	Measure(el Element) Box
	Viewport() Window
}

// Signals delivers recurring environmental notifications (scroll, resize).
// The returned function cancels the subscription.
type Signals interface {
	Subscribe(fn func()) (cancel func())
}
