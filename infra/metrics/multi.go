package metrics

import coremetrics "github.com/cardgrid/cardgrid/core/metrics"

// MultiSink fans query events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordQuery forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordQuery(ev coremetrics.QueryEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordQuery(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordStream forwards stream counters to sinks that record them.
func (m *MultiSink) RecordStream(ev coremetrics.StreamEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.StreamRecorder); ok {
			if err := rec.RecordStream(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordScheduler forwards admission snapshots to sinks that record them.
func (m *MultiSink) RecordScheduler(ev coremetrics.SchedulerEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SchedulerRecorder); ok {
			if err := rec.RecordScheduler(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
