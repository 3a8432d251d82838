package plugins

import (
	"github.com/cardgrid/cardgrid/core/render"
	"github.com/cardgrid/cardgrid/core/series"
)

// NumberSettings configures a single-value KPI card. When ValueField is set
// the value is reduced from the buffered records; otherwise the payload is
// expected to carry the value fields directly.
type NumberSettings struct {
	Label      string `mapstructure:"label"`
	ValueField string `mapstructure:"valueField"`
	Unit       string `mapstructure:"unit"`
}

// NumberElement is the rendered KPI artifact.
type NumberElement struct {
	Label    string
	Value    float64
	Previous float64
	TrendPct float64
	Unit     string
	Theme    string
}

func (NumberElement) Kind() string { return "number" }

// NumberRenderer renders KPI cards.
type NumberRenderer struct{}

func (r *NumberRenderer) Render(data any, settings map[string]any, theme string) (render.Element, error) {
	var s NumberSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}
	el := NumberElement{Label: s.Label, Unit: s.Unit, Theme: theme}

	if s.ValueField != "" {
		sum := series.Reduce(series.Extract(toRecords(data), s.ValueField))
		el.Value = sum.Current
		el.Previous = sum.Previous
		el.TrendPct = sum.TrendPct
		return el, nil
	}

	// Direct payload shape: {value, previousValue, label, trendPercentage}.
	if obj, ok := payloadObject(data); ok {
		if v, ok := obj["value"].(float64); ok {
			el.Value = v
		}
		if v, ok := obj["previousValue"].(float64); ok {
			el.Previous = v
		}
		if v, ok := obj["trendPercentage"].(float64); ok {
			el.TrendPct = v
		}
		if el.Label == "" {
			if v, ok := obj["label"].(string); ok {
				el.Label = v
			}
		}
	}
	return el, nil
}

// payloadObject unwraps the value object from the data payload, tolerating
// both a bare object and an envelope with a "data" object.
func payloadObject(data any) (map[string]any, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		records := toRecords(data)
		if len(records) == 0 {
			return nil, false
		}
		obj, ok = records[len(records)-1].(map[string]any)
		if !ok {
			return nil, false
		}
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		return inner, true
	}
	return obj, true
}
