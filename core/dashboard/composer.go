// Package dashboard composes report specifications into a live grid: cards
// are placed by the layout engine, resolved to renderers and bound to query
// executions. Exactly one report is active at a time.
package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/cardgrid/cardgrid/core/events"
	"github.com/cardgrid/cardgrid/core/filter"
	"github.com/cardgrid/cardgrid/core/layout"
	"github.com/cardgrid/cardgrid/core/logger"
	"github.com/cardgrid/cardgrid/core/metrics"
	"github.com/cardgrid/cardgrid/core/query"
	"github.com/cardgrid/cardgrid/core/render"
	"github.com/cardgrid/cardgrid/core/spec"
)

// Options configures a Composer.
type Options struct {
	Dashboard *spec.Dashboard
	Registry  *render.Registry
	Sources   query.Sources
	Bus       *events.Bus
	Metrics   metrics.Sink
	Log       logger.Logger

	// ViewportWidth is the rendering width in pixels.
	ViewportWidth int
	// Theme and Animations override the dashboard config when set.
	Theme      string
	Animations *bool

	// Query tunes engine timing; zero values use engine defaults.
	Query query.Options
}

// Composer owns the dashboard specification, the active report and the
// per-report runtime (layout, filter binding, query engine). All collaborators
// are passed in explicitly; there is no ambient global state.
type Composer struct {
	mu         sync.Mutex
	dash       *spec.Dashboard
	registry   *render.Registry
	sources    query.Sources
	bus        *events.Bus
	sink       metrics.Sink
	log        logger.Logger
	theme      string
	animations bool
	viewport   int
	queryOpts  query.Options

	ctx      context.Context
	activeID string
	active   *liveReport
	closed   bool
}

// liveReport is the runtime of the currently active report.
type liveReport struct {
	report   spec.Report
	grid     *layout.Engine
	geometry []layout.Geometry
	binding  *filter.Binding
	engine   *query.Engine
}

// NewComposer validates the dashboard and creates a Composer. No report is
// active until Start.
func NewComposer(opts Options) (*Composer, error) {
	if opts.Dashboard == nil {
		return nil, fmt.Errorf("dashboard: nil spec")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("dashboard: nil registry")
	}
	if opts.Sources == nil {
		return nil, fmt.Errorf("dashboard: nil sources")
	}
	if err := opts.Dashboard.Validate(); err != nil {
		return nil, err
	}
	theme := opts.Dashboard.Config.Theme
	if opts.Theme != "" {
		theme = opts.Theme
	}
	animations := opts.Dashboard.Config.Animations
	if opts.Animations != nil {
		animations = *opts.Animations
	}
	viewport := opts.ViewportWidth
	if viewport <= 0 {
		viewport = 1280
	}
	log := opts.Log
	if log == nil {
		log = nopLogger{}
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Composer{
		dash:       opts.Dashboard,
		registry:   opts.Registry,
		sources:    opts.Sources,
		bus:        opts.Bus,
		sink:       sink,
		log:        log,
		theme:      theme,
		animations: animations,
		viewport:   viewport,
		queryOpts:  opts.Query,
	}, nil
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

// Start binds the composer to ctx and activates the given report, or the
// first report when id is empty. When a bus is configured it also starts the
// re-render loop that invokes renderers as data arrives.
func (c *Composer) Start(ctx context.Context, id string) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	if id == "" {
		if len(c.dash.Reports) == 0 {
			return fmt.Errorf("dashboard %s has no reports", c.dash.ID)
		}
		id = c.dash.Reports[0].ID
	}
	// Subscribing before activation guarantees the first report's initial
	// layout reaches the render loop, so static cards produce an element
	// without waiting for a later data or resize event.
	var dataSub <-chan events.CardDataEvent
	var layoutSub <-chan events.LayoutEvent
	if c.bus != nil {
		dataSub = c.bus.Data.Subscribe()
		layoutSub = c.bus.Layout.Subscribe()
	}
	if err := c.SetActiveReport(id); err != nil {
		if c.bus != nil {
			c.bus.Data.Unsubscribe(dataSub)
			c.bus.Layout.Unsubscribe(layoutSub)
		}
		return err
	}
	if c.bus != nil {
		go c.renderLoop(ctx, dataSub, layoutSub)
	}
	return nil
}

// SetActiveReport switches the active report. An unknown id is rejected with
// spec.ErrReportNotFound and the previous report stays active, as does a
// report whose composition fails. On success all queries of the previous
// report are torn down before the new report goes live; reports are never
// partially live simultaneously.
func (c *Composer) SetActiveReport(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("composer is closed")
	}
	report, ok := c.dash.Report(id)
	if !ok {
		return fmt.Errorf("report %q: %w", id, spec.ErrReportNotFound)
	}

	live, err := c.compose(report)
	if err != nil {
		c.log.Errorf("report %s failed to compose: %v", id, err)
		return err
	}

	if c.active != nil {
		c.active.engine.Close()
		c.active = nil
	}

	c.active = live
	c.activeID = id
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	live.engine.Start(ctx)

	if c.bus != nil {
		c.bus.Report.Publish(events.ReportEvent{ReportID: id})
		c.bus.Layout.Publish(events.LayoutEvent{ReportID: id, Viewport: c.viewport, Geometries: live.geometry})
	}
	c.log.Infof("report %s active: %d cards, %d with queries", id, len(report.Cards), countQueries(report))
	return nil
}

// compose builds the runtime of a report without making it live. Grid
// overlap or invalid card settings surface here as ConfigError, fatal to the
// report but not to the dashboard. Missing renderers are tolerated; those
// cards degrade to placeholders at render time.
func (c *Composer) compose(report spec.Report) (*liveReport, error) {
	grid := layout.NewEngine(report.Layout)
	geometry, err := grid.Place(report.ID, report.Cards, c.viewport)
	if err != nil {
		return nil, err
	}

	for _, card := range report.Cards {
		renderer, err := c.registry.Resolve(card.Kind)
		if err != nil {
			c.log.Warnf("report %s: card %s: %v, will render placeholder", report.ID, card.ID, err)
			continue
		}
		if v, ok := renderer.(render.SettingsValidator); ok {
			if err := v.ValidateSettings(card.Settings); err != nil {
				return nil, &spec.ConfigError{ReportID: report.ID, CardID: card.ID,
					Reason: fmt.Sprintf("invalid settings: %v", err)}
			}
		}
	}

	live := &liveReport{report: report, grid: grid, geometry: geometry}

	engine, err := c.newEngine(report, live)
	if err != nil {
		return nil, err
	}
	live.engine = engine
	live.binding = filter.NewBinding(report, c.log, func(cardID string) {
		if err := engine.Restart(cardID); err != nil {
			c.log.Warnf("filter restart: %v", err)
		}
	})
	return live, nil
}

func (c *Composer) newEngine(report spec.Report, live *liveReport) (*query.Engine, error) {
	opts := c.queryOpts
	opts.Report = report
	opts.Config = c.dash.Config
	opts.Sources = c.sources
	opts.Bus = c.bus
	opts.Metrics = c.sink
	opts.Log = c.log
	opts.Params = func(cardID string) map[string]string {
		if live.binding == nil {
			return nil
		}
		return live.binding.Values(cardID)
	}
	return query.NewEngine(opts)
}

// Theme returns the effective theme after overrides.
func (c *Composer) Theme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

// Animations reports whether the host should animate card transitions.
func (c *Composer) Animations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.animations
}

// ActiveReportID returns the id of the active report, or "".
func (c *Composer) ActiveReportID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Geometry returns the pixel geometry of the active report's cards.
func (c *Composer) Geometry() []layout.Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	out := make([]layout.Geometry, len(c.active.geometry))
	copy(out, c.active.geometry)
	return out
}

// Resize recomputes the active report's geometry for a new viewport width.
// Row positions never change; only the horizontal scale does.
func (c *Composer) Resize(viewportWidth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = viewportWidth
	if c.active == nil {
		return nil
	}
	geometry, err := c.active.grid.Place(c.active.report.ID, c.active.report.Cards, viewportWidth)
	if err != nil {
		return err
	}
	c.active.geometry = geometry
	if c.bus != nil {
		c.bus.Layout.Publish(events.LayoutEvent{ReportID: c.active.report.ID, Viewport: viewportWidth, Geometries: geometry})
	}
	return nil
}

// SetFilter validates and applies a filter value on a card of the active
// report; an accepted mutation restarts the card's query.
func (c *Composer) SetFilter(cardID, field, value string) error {
	c.mu.Lock()
	live := c.active
	c.mu.Unlock()
	if live == nil {
		return fmt.Errorf("no active report")
	}
	if err := live.binding.Set(cardID, field, value); err != nil {
		return err
	}
	if c.bus != nil {
		c.bus.Filter.Publish(events.FilterEvent{CardID: cardID, Field: field, Value: value})
	}
	return nil
}

// FilterValues returns the card's current filter values.
func (c *Composer) FilterValues(cardID string) map[string]string {
	c.mu.Lock()
	live := c.active
	c.mu.Unlock()
	if live == nil {
		return nil
	}
	return live.binding.Values(cardID)
}

// Render produces the card's current element. A missing renderer or a
// renderer failure degrades to a Placeholder; it never affects other cards.
func (c *Composer) Render(cardID string) render.Element {
	c.mu.Lock()
	live := c.active
	theme := c.theme
	c.mu.Unlock()
	if live == nil {
		return render.Placeholder{CardID: cardID, Reason: "no active report"}
	}
	var card *spec.Card
	for i := range live.report.Cards {
		if live.report.Cards[i].ID == cardID {
			card = &live.report.Cards[i]
			break
		}
	}
	if card == nil {
		return render.Placeholder{CardID: cardID, Reason: "unknown card"}
	}

	// Resolution happens per render so a re-registered kind takes effect on
	// the next update.
	renderer, err := c.registry.Resolve(card.Kind)
	if err != nil {
		return render.Placeholder{CardID: cardID, Reason: err.Error()}
	}

	var data any
	if card.Query != nil {
		if snap, ok := live.engine.Snapshot(cardID); ok {
			if card.Query.Streaming() {
				data = snap.Records
			} else {
				data = snap.Data
			}
		}
	}
	el, err := renderer.Render(data, card.Settings, theme)
	if err != nil {
		c.log.Warnf("card %s: renderer failed: %v", cardID, err)
		return render.Placeholder{CardID: cardID, Reason: err.Error()}
	}
	return el
}

// Snapshot exposes the card's query execution state.
func (c *Composer) Snapshot(cardID string) (query.Snapshot, bool) {
	c.mu.Lock()
	live := c.active
	c.mu.Unlock()
	if live == nil {
		return query.Snapshot{}, false
	}
	return live.engine.Snapshot(cardID)
}

// Close tears down the active report. Idempotent.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.active != nil {
		c.active.engine.Close()
		c.active = nil
	}
	c.activeID = ""
}

// renderLoop re-invokes renderers whenever new data or layout arrives and
// publishes the produced elements.
func (c *Composer) renderLoop(ctx context.Context, data <-chan events.CardDataEvent, layouts <-chan events.LayoutEvent) {
	defer c.bus.Data.Unsubscribe(data)
	defer c.bus.Layout.Unsubscribe(layouts)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-data:
			if !ok {
				return
			}
			c.bus.Rendered.Publish(events.CardRenderedEvent{CardID: ev.CardID, Element: c.Render(ev.CardID)})
		case ev, ok := <-layouts:
			if !ok {
				return
			}
			for _, g := range ev.Geometries {
				c.bus.Rendered.Publish(events.CardRenderedEvent{CardID: g.CardID, Element: c.Render(g.CardID)})
			}
		}
	}
}

func countQueries(r spec.Report) int {
	n := 0
	for _, card := range r.Cards {
		if card.Query != nil {
			n++
		}
	}
	return n
}
