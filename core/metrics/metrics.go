// Package metrics defines the observability interfaces implemented by the
// Prometheus and InfluxDB sinks in infra/metrics.
package metrics

import (
	"time"

	"github.com/cardgrid/cardgrid/core/spec"
)

// Query outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// QueryEvent records the completion of one query execution.
type QueryEvent struct {
	CardID  string
	Variant spec.Variant
	Outcome string
	Latency time.Duration
	Time    time.Time
}

// Sink records query events for observability purposes.
type Sink interface {
	RecordQuery(ev QueryEvent) error
}

// StreamEvent is a snapshot of one stream's frame counters.
type StreamEvent struct {
	CardID    string
	Frames    int
	Malformed int
	Time      time.Time
}

// StreamRecorder records streaming frame counters.
type StreamRecorder interface {
	RecordStream(ev StreamEvent) error
}

// SchedulerEvent is a snapshot of the admission scheduler.
type SchedulerEvent struct {
	InFlight int
	Queued   int
}

// SchedulerRecorder records admission scheduler snapshots.
type SchedulerRecorder interface {
	RecordScheduler(ev SchedulerEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordQuery(QueryEvent) error         { return nil }
func (NopSink) RecordStream(StreamEvent) error       { return nil }
func (NopSink) RecordScheduler(SchedulerEvent) error { return nil }

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}
