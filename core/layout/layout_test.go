package layout

import (
	"errors"
	"testing"

	"github.com/cardgrid/cardgrid/core/spec"
)

func grid() spec.LayoutStrategy {
	return spec.LayoutStrategy{Columns: 12, RowHeightPx: 30, MarginPx: [2]int{10, 10}}
}

func TestPlacePixelGeometry(t *testing.T) {
	e := NewEngine(grid())
	cards := []spec.Card{
		{ID: "a", Kind: "markdown", Position: spec.GridPosition{X: 0, Y: 0, W: 6, H: 4}},
		{ID: "b", Kind: "number", Position: spec.GridPosition{X: 6, Y: 0, W: 6, H: 2}},
		{ID: "c", Kind: "table", Position: spec.GridPosition{X: 0, Y: 4, W: 12, H: 3}},
	}
	// viewport 1330: colWidth = (1330 - 13*10) / 12 = 100
	got, err := e.Place("r", cards, 1330)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	want := []Geometry{
		{CardID: "a", LeftPx: 10, TopPx: 10, WidthPx: 650, HeightPx: 150},
		{CardID: "b", LeftPx: 670, TopPx: 10, WidthPx: 650, HeightPx: 70},
		{CardID: "c", LeftPx: 10, TopPx: 170, WidthPx: 1310, HeightPx: 110},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d geometries got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("card %s: got %+v want %+v", want[i].CardID, got[i], want[i])
		}
	}
}

func TestPlaceOverlapIsConfigError(t *testing.T) {
	e := NewEngine(grid())
	cards := []spec.Card{
		{ID: "a", Kind: "markdown", Position: spec.GridPosition{X: 0, Y: 0, W: 6, H: 4}},
		{ID: "b", Kind: "number", Position: spec.GridPosition{X: 5, Y: 2, W: 6, H: 4}},
	}
	_, err := e.Place("r", cards, 1330)
	var cerr *spec.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError got %v", err)
	}
	if cerr.CardID != "a" || cerr.OtherCardID != "b" {
		t.Fatalf("wrong conflict pair: %+v", cerr)
	}
}

func TestPlaceOutOfBounds(t *testing.T) {
	e := NewEngine(grid())
	cards := []spec.Card{
		{ID: "a", Kind: "markdown", Position: spec.GridPosition{X: 10, Y: 0, W: 4, H: 2}},
	}
	if _, err := e.Place("r", cards, 1330); err == nil {
		t.Fatalf("expected bounds error")
	}
	cards[0].Position = spec.GridPosition{X: 0, Y: 0, W: 0, H: 2}
	if _, err := e.Place("r", cards, 1330); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestPlaceNarrowViewportClampsToZero(t *testing.T) {
	e := NewEngine(grid())
	cards := []spec.Card{
		{ID: "a", Kind: "markdown", Position: spec.GridPosition{X: 0, Y: 0, W: 2, H: 1}},
	}
	got, err := e.Place("r", cards, 50)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got[0].WidthPx != 10 {
		// colWidth clamps to 0, so width is the single inner margin.
		t.Fatalf("unexpected width %d", got[0].WidthPx)
	}
}
