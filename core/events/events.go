// Package events defines the runtime events emitted on the event bus.
//
// Available event types:
//   - CardDataEvent: a card received a new data snapshot
//   - CardStateEvent: a card's query execution changed state
//   - LayoutEvent: report geometry was (re)computed
//   - ReportEvent: the active report changed
//   - CardRenderedEvent: a renderer produced a fresh element
//   - FilterEvent: a card filter value was accepted
package events

import (
	"time"

	"github.com/cardgrid/cardgrid/core/layout"
	"github.com/cardgrid/cardgrid/internal/eventbus"
)

// Bus groups one typed channel per event kind. Publishers pick the channel
// matching their event, so subscribers receive concrete types and never
// switch on an interface.
type Bus struct {
	Data     *eventbus.Bus[CardDataEvent]
	State    *eventbus.Bus[CardStateEvent]
	Layout   *eventbus.Bus[LayoutEvent]
	Report   *eventbus.Bus[ReportEvent]
	Rendered *eventbus.Bus[CardRenderedEvent]
	Filter   *eventbus.Bus[FilterEvent]
}

// NewBus creates a Bus with all channels ready.
func NewBus() *Bus {
	return &Bus{
		Data:     eventbus.New[CardDataEvent](),
		State:    eventbus.New[CardStateEvent](),
		Layout:   eventbus.New[LayoutEvent](),
		Report:   eventbus.New[ReportEvent](),
		Rendered: eventbus.New[CardRenderedEvent](),
		Filter:   eventbus.New[FilterEvent](),
	}
}

// Close closes every channel.
func (b *Bus) Close() {
	b.Data.Close()
	b.State.Close()
	b.Layout.Close()
	b.Report.Close()
	b.Rendered.Close()
	b.Filter.Close()
}

// CardDataEvent carries a full data snapshot for one card. Reset is true when
// the snapshot does not extend the previously published one, e.g. after a
// stream reconnect discarded the session buffer.
type CardDataEvent struct {
	CardID string
	Data   any
	Reset  bool
	Time   time.Time
}

// CardStateEvent is published on every query state transition.
type CardStateEvent struct {
	CardID string
	State  string
	Err    error
}

// LayoutEvent is published when card geometry is computed for a viewport.
type LayoutEvent struct {
	ReportID   string
	Viewport   int
	Geometries []layout.Geometry
}

// ReportEvent is published when the active report switches.
type ReportEvent struct {
	ReportID string
}

// CardRenderedEvent carries the element produced by a card's renderer after
// new data or layout arrived.
type CardRenderedEvent struct {
	CardID  string
	Element any
}

// FilterEvent is published after a filter mutation was accepted.
type FilterEvent struct {
	CardID string
	Field  string
	Value  string
}
