package plugins

import (
	"fmt"

	"github.com/cardgrid/cardgrid/core/render"
)

// ChartSeries declares one plotted series of a chart.
type ChartSeries struct {
	Field string `mapstructure:"field"`
	Label string `mapstructure:"label"`
	Color string `mapstructure:"color"`
}

// ChartConfig is the chartConfig settings object consumed by every recharts
// kind: series, axes and legend/tooltip toggles. It is opaque to the core
// runtime; only the renderer interprets it.
type ChartConfig struct {
	XAxisField  string        `mapstructure:"xAxisField"`
	Series      []ChartSeries `mapstructure:"series"`
	ShowLegend  bool          `mapstructure:"showLegend"`
	ShowTooltip bool          `mapstructure:"showTooltip"`
	Stacked     bool          `mapstructure:"stacked"`
}

type chartSettings struct {
	ChartConfig ChartConfig `mapstructure:"chartConfig"`
}

// ChartElement is the rendered chart artifact: the drawing primitive name,
// the data points and the interpreted config.
type ChartElement struct {
	Chart  string
	Points []any
	Config ChartConfig
	Theme  string
}

func (e ChartElement) Kind() string { return "recharts:" + e.Chart }

// ChartRenderer renders one recharts kind. The same implementation backs all
// chart kinds; only the drawing primitive differs.
type ChartRenderer struct {
	chart string
}

func (r *ChartRenderer) Render(data any, settings map[string]any, theme string) (render.Element, error) {
	var s chartSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return ChartElement{
		Chart:  r.chart,
		Points: toRecords(data),
		Config: s.ChartConfig,
		Theme:  theme,
	}, nil
}

// ValidateSettings requires a chartConfig with at least one series.
func (r *ChartRenderer) ValidateSettings(settings map[string]any) error {
	var s chartSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	if len(s.ChartConfig.Series) == 0 {
		return fmt.Errorf("chart card requires chartConfig.series")
	}
	for _, sr := range s.ChartConfig.Series {
		if sr.Field == "" {
			return fmt.Errorf("chart series requires a field")
		}
	}
	return nil
}
