package query

import (
	"context"
	"errors"

	"github.com/cardgrid/cardgrid/core/spec"
)

// ErrMalformedFrame is returned by Stream.Recv for a frame that could not be
// parsed. The engine counts it and keeps consuming; it is not fatal to the
// stream.
var ErrMalformedFrame = errors.New("malformed stream frame")

// Request is one resolved query start: the card's query declaration plus the
// parameters merged from the declaration and the current filter values.
type Request struct {
	CardID string
	Query  spec.Query
	Params map[string]string
}

// Fetcher executes a one-shot request/response query.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (any, error)
}

// Stream yields decoded records from a live feed until closed. Recv blocks
// until a record arrives, the context is cancelled, or the connection drops.
type Stream interface {
	Recv(ctx context.Context) (any, error)
	Close() error
}

// StreamOpener opens a long-lived record stream for a request.
type StreamOpener interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// Sources resolves query variants to their transport implementations.
type Sources interface {
	Fetcher(v spec.Variant) (Fetcher, error)
	Opener(v spec.Variant) (StreamOpener, error)
}
