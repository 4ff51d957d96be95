package scrolltable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/scrolltable/pkg/logging"
)

// Threshold is the lookahead margin: loading starts once the sentinel is
// within this distance below the viewport's bottom edge.
const Threshold = 200.0

// ErrNoSentinel is returned by Mount when the loading sentinel could not be
// created. Nothing is subscribed and no page is loaded.
var ErrNoSentinel = errors.New("loading sentinel not found")

// BelowFold reports whether the sentinel is too far below the viewport to load.
func BelowFold(w Window, sentinel Box) bool {
	return w.Height+w.ScrollY <= sentinel.OffsetTop-Threshold
}

// Visible reports whether a box has a rendered size.
func Visible(b Box) bool {
	return !(b.Width <= 0 && b.Height <= 0)
}

// Trigger loads the next page whenever the sentinel comes close to the viewport.
type Trigger struct {
	// ctx is the mount context. Signal callbacks carry no context of their
	// own, so every load the trigger starts uses this one until Detach.
	ctx      context.Context
	engine   *Engine
	geometry Geometry
	sentinel Element
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel func()
}

// Mount creates the engine's loading sentinel, subscribes to signals and
// runs one check right away. signals may be nil; the trigger then only
// reacts to the engine's own re-checks and explicit Check calls.
//
// ctx is mount-scoped: it is handed to every Load the trigger fires,
// whether from a signal, a re-check or Check, and should live as long as
// the trigger stays mounted.
func Mount(ctx context.Context, e *Engine, geometry Geometry, signals Signals) (*Trigger, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is required")
	}

	if geometry == nil {
		return nil, fmt.Errorf("geometry is required")
	}

	logger := logging.NewLogger(logging.ComponentTrigger)

	sentinel, ok := e.surface.MountSentinel(e.config.LoadingTemplate)
	if !ok {
		logger.Debug().Msg("No loading sentinel, not mounting")
		return nil, ErrNoSentinel
	}

	t := &Trigger{
		ctx:      ctx,
		engine:   e,
		geometry: geometry,
		sentinel: sentinel,
		logger:   logger,
	}

	if signals != nil {
		t.cancel = signals.Subscribe(func() { t.Check() })
	}
	e.setRecheck(func() { t.Check() })

	t.Check()

	return t, nil
}

// Check loads the next page if the sentinel is visible and not below the
// fold. It reports whether Load was called.
func (t *Trigger) Check() bool {
	box := t.geometry.Measure(t.sentinel)
	if !Visible(box) {
		TriggerChecks.WithLabelValues("hidden").Inc()
		return false
	}

	w := t.geometry.Viewport()
	if BelowFold(w, box) {
		TriggerChecks.WithLabelValues("below_fold").Inc()
		return false
	}

	TriggerChecks.WithLabelValues("fired").Inc()
	t.logger.Debug().
		Float64("viewport_height", w.Height).
		Float64("scroll_y", w.ScrollY).
		Float64("sentinel_top", box.OffsetTop).
		Msg("Sentinel in range")

	t.engine.Load(t.ctx)

	return true
}

// Detach stops listening to signals and removes the engine's re-check hook.
func (t *Trigger) Detach() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.engine.setRecheck(nil)
}
