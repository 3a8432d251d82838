package app

import (
	"context"
	"fmt"

	"github.com/cardgrid/cardgrid/app/plugins"
	"github.com/cardgrid/cardgrid/config"
	"github.com/cardgrid/cardgrid/core/dashboard"
	"github.com/cardgrid/cardgrid/core/events"
	coremetrics "github.com/cardgrid/cardgrid/core/metrics"
	"github.com/cardgrid/cardgrid/core/render"
	"github.com/cardgrid/cardgrid/core/spec"
	"github.com/cardgrid/cardgrid/infra/logger"
	"github.com/cardgrid/cardgrid/infra/metrics"
	"github.com/cardgrid/cardgrid/infra/source"
)

// Service wires the dashboard composer to its infrastructure: renderer
// registry, data sources, event bus and metrics sinks.
type Service struct {
	Composer     *dashboard.Composer
	bus          *events.Bus
	log          logger.Logger
	activeReport string
	promEnabled  bool
	promPort     string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	dash, err := spec.Load(cfg.Dashboard)
	if err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}

	var sinks []coremetrics.Sink
	promEnabled := cfg.Metrics.PrometheusEnabled
	promPort := cfg.Metrics.PrometheusPort
	if promEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	registry := render.NewRegistry()
	if err := plugins.Install(registry); err != nil {
		return nil, fmt.Errorf("install renderers: %w", err)
	}

	bus := events.NewBus()
	composer, err := dashboard.NewComposer(dashboard.Options{
		Dashboard:     dash,
		Registry:      registry,
		Sources:       source.NewFactory(cfg.Streams, logger.New("sources")),
		Bus:           bus,
		Metrics:       sink,
		Log:           logg,
		ViewportWidth: cfg.ViewportWidth,
		Theme:         cfg.Theme,
		Animations:    cfg.Animations,
	})
	if err != nil {
		return nil, fmt.Errorf("composer: %w", err)
	}

	return &Service{
		Composer:     composer,
		bus:          bus,
		log:          logg,
		activeReport: cfg.ActiveReport,
		promEnabled:  promEnabled,
		promPort:     promPort,
	}, nil
}

// Run starts the composer and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if err := s.Composer.Start(ctx, s.activeReport); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Composer.Close()
	s.bus.Close()
	return nil
}
