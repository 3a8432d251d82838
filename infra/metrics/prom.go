package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/cardgrid/cardgrid/core/metrics"
)

// PromSink records query engine events in Prometheus metrics.
type PromSink struct {
	queries   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	frames    *prometheus.GaugeVec
	malformed *prometheus.GaugeVec
	inFlight  prometheus.Gauge
	queued    prometheus.Gauge
}

// NewPromSink registers query metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "card_queries_total",
		Help: "Total number of completed card query executions",
	}, []string{"card_id", "variant", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "card_query_latency_seconds",
		Help:    "Time between query start and completion",
		Buckets: prometheus.DefBuckets,
	}, []string{"card_id", "variant", "outcome"})
	frames := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "card_stream_frames",
		Help: "Frames received on a card's stream during the current session",
	}, []string{"card_id"})
	malformed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "card_stream_malformed_frames",
		Help: "Malformed frames skipped on a card's stream during the current session",
	}, []string{"card_id"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "query_in_flight",
		Help: "Query executions currently admitted by the scheduler",
	})
	queued := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "query_queue_depth",
		Help: "Query executions waiting for admission",
	})

	if err := reg.Register(queries); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queries = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(frames); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			frames = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(malformed); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			malformed = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(inFlight); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			inFlight = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(queued); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queued = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{queries: queries, latency: latency, frames: frames, malformed: malformed, inFlight: inFlight, queued: queued}, nil
}

// RecordQuery increments the counter and observes latency for one execution.
func (s *PromSink) RecordQuery(ev coremetrics.QueryEvent) error {
	s.queries.WithLabelValues(ev.CardID, string(ev.Variant), ev.Outcome).Inc()
	s.latency.WithLabelValues(ev.CardID, string(ev.Variant), ev.Outcome).Observe(ev.Latency.Seconds())
	return nil
}

// RecordStream sets the per-card frame gauges.
func (s *PromSink) RecordStream(ev coremetrics.StreamEvent) error {
	s.frames.WithLabelValues(ev.CardID).Set(float64(ev.Frames))
	s.malformed.WithLabelValues(ev.CardID).Set(float64(ev.Malformed))
	return nil
}

// RecordScheduler sets the admission gauges.
func (s *PromSink) RecordScheduler(ev coremetrics.SchedulerEvent) error {
	s.inFlight.Set(float64(ev.InFlight))
	s.queued.Set(float64(ev.Queued))
	return nil
}
