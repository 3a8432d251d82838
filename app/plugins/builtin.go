package plugins

import (
	"fmt"

	"github.com/cardgrid/cardgrid/core/render"
)

// chartKinds are the recharts renderers expected by report specs. The chart
// suffix names the drawing primitive; drawing itself is the host's concern.
var chartKinds = []string{
	"recharts:line",
	"recharts:area",
	"recharts:bar",
	"recharts:pie",
	"recharts:radar",
	"recharts:radial",
}

func init() {
	RegisterRenderer("markdown", func(string) (render.Renderer, error) {
		return &MarkdownRenderer{}, nil
	})
	RegisterRenderer("table", func(string) (render.Renderer, error) {
		return &TableRenderer{}, nil
	})
	RegisterRenderer("number", func(string) (render.Renderer, error) {
		return &NumberRenderer{}, nil
	})
	for _, kind := range chartKinds {
		RegisterRenderer(kind, func(kind string) (render.Renderer, error) {
			return NewChartRenderer(kind)
		})
	}
}

// NewChartRenderer creates the renderer for one recharts kind.
func NewChartRenderer(kind string) (render.Renderer, error) {
	const prefix = "recharts:"
	if len(kind) <= len(prefix) || kind[:len(prefix)] != prefix {
		return nil, fmt.Errorf("chart renderer: invalid kind %q", kind)
	}
	return &ChartRenderer{chart: kind[len(prefix):]}, nil
}
