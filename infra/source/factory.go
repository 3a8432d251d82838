// Package source implements the query engine's transports: one-shot HTTP
// fetches, streaming NDJSON-over-HTTP and MQTT topic subscriptions.
package source

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cardgrid/cardgrid/core/query"
	"github.com/cardgrid/cardgrid/core/spec"
	"github.com/cardgrid/cardgrid/infra/logger"
)

// StreamsConfig groups broker settings for streaming variants.
type StreamsConfig struct {
	MQTT MQTTConfig `json:"mqtt"`
}

// Factory resolves query variants to transports. It implements
// query.Sources.
type Factory struct {
	fetchClient  *http.Client
	streamClient *http.Client
	streams      StreamsConfig
	log          logger.Logger
}

// NewFactory creates a Factory. One-shot requests get a bounded timeout; the
// streaming client deliberately has none since its responses stay open.
func NewFactory(streams StreamsConfig, log logger.Logger) *Factory {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Factory{
		fetchClient:  &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
		streams:      streams,
		log:          log,
	}
}

// Fetcher returns the one-shot transport for the variant.
func (f *Factory) Fetcher(v spec.Variant) (query.Fetcher, error) {
	switch v {
	case spec.VariantHTTP:
		return NewHTTPFetcher(f.fetchClient), nil
	default:
		return nil, fmt.Errorf("variant %q is not a one-shot query", v)
	}
}

// Opener returns the streaming transport for the variant.
func (f *Factory) Opener(v spec.Variant) (query.StreamOpener, error) {
	switch v {
	case spec.VariantStreamingHTTP:
		return NewNDJSONOpener(f.streamClient), nil
	case spec.VariantMQTT:
		return NewMQTTOpener(f.streams.MQTT, f.log), nil
	default:
		return nil, fmt.Errorf("variant %q is not a streaming query", v)
	}
}
