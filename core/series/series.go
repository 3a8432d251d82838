// Package series reduces buffered card records to the scalar values consumed
// by number cards: current value, previous value, trend percentage and window
// statistics.
package series

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary is a statistical reduction of a numeric sample window.
type Summary struct {
	Current  float64
	Previous float64
	// TrendPct is the relative change from Previous to Current in percent.
	TrendPct float64
	Mean     float64
	Min      float64
	Max      float64
	Count    int
}

// Reduce computes a Summary over the samples in order. An empty slice yields
// a zero Summary; a single sample has no trend.
func Reduce(samples []float64) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	s := Summary{
		Current: samples[n-1],
		Mean:    stat.Mean(samples, nil),
		Min:     floats.Min(samples),
		Max:     floats.Max(samples),
		Count:   n,
	}
	if n > 1 {
		s.Previous = samples[n-2]
		if s.Previous != 0 {
			s.TrendPct = (s.Current - s.Previous) / s.Previous * 100
		}
	}
	return s
}

// Extract pulls the named numeric field out of map-shaped records, skipping
// records without it. JSON decoding yields float64 for all numbers.
func Extract(records []any, field string) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		switch v := row[field].(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}
