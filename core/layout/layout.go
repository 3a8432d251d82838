// Package layout converts grid-unit card positions into absolute pixel
// geometry. The grid is explicit: rows are never recomputed or packed, and
// overlapping placements are a configuration error.
package layout

import (
	"fmt"

	"github.com/cardgrid/cardgrid/core/spec"
)

// Geometry is the absolute pixel rectangle of one card.
type Geometry struct {
	CardID   string
	LeftPx   int
	TopPx    int
	WidthPx  int
	HeightPx int
}

// Engine computes pixel geometry for one report grid.
type Engine struct {
	columns   int
	rowHeight int
	mx, my    int
}

// NewEngine creates an Engine from the report's layout strategy.
func NewEngine(ls spec.LayoutStrategy) *Engine {
	return &Engine{
		columns:   ls.Columns,
		rowHeight: ls.RowHeightPx,
		mx:        ls.MarginPx[0],
		my:        ls.MarginPx[1],
	}
}

// Columns returns the grid width in grid units.
func (e *Engine) Columns() int { return e.columns }

// Place computes the pixel geometry of every card for the given viewport
// width. The column width is the viewport divided evenly across columns minus
// margins; card height is h rows plus the inner margins they span. Any two
// cards sharing a grid cell yield a *spec.ConfigError.
func (e *Engine) Place(reportID string, cards []spec.Card, viewportWidth int) ([]Geometry, error) {
	if err := e.check(reportID, cards); err != nil {
		return nil, err
	}
	colWidth := (viewportWidth - (e.columns+1)*e.mx) / e.columns
	if colWidth < 0 {
		colWidth = 0
	}
	out := make([]Geometry, 0, len(cards))
	for _, c := range cards {
		p := c.Position
		out = append(out, Geometry{
			CardID:   c.ID,
			LeftPx:   e.mx + p.X*(colWidth+e.mx),
			TopPx:    e.my + p.Y*(e.rowHeight+e.my),
			WidthPx:  p.W*colWidth + (p.W-1)*e.mx,
			HeightPx: p.H*e.rowHeight + (p.H-1)*e.my,
		})
	}
	return out, nil
}

// check verifies bounds and pairwise non-overlap.
func (e *Engine) check(reportID string, cards []spec.Card) error {
	for i, c := range cards {
		p := c.Position
		if p.W <= 0 || p.H <= 0 {
			return &spec.ConfigError{ReportID: reportID, CardID: c.ID, Reason: "card width and height must be positive"}
		}
		if p.X < 0 || p.X+p.W > e.columns {
			return &spec.ConfigError{ReportID: reportID, CardID: c.ID,
				Reason: fmt.Sprintf("card exceeds grid width: x=%d w=%d columns=%d", p.X, p.W, e.columns)}
		}
		for _, o := range cards[i+1:] {
			if p.Overlaps(o.Position) {
				return &spec.ConfigError{ReportID: reportID, CardID: c.ID, OtherCardID: o.ID,
					Reason: "grid positions overlap"}
			}
		}
	}
	return nil
}
