package query

import (
	"time"

	"github.com/cardgrid/cardgrid/core/spec"
)

// State is the lifecycle state of a card's query execution.
type State int

const (
	StateIdle State = iota
	StatePending
	StateStreaming
	StateReconnecting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// execution is the per-card transient runtime state. It is owned exclusively
// by the Engine and guarded by the Engine mutex; it is destroyed with the
// engine when the report changes.
type execution struct {
	card  spec.Card
	order int

	state State
	err   error

	// token identifies the currently admitted run. A completing goroutine
	// whose token no longer matches discards its result.
	token  string
	cancel func()

	queued  bool
	running bool
	// restart requests a re-enqueue as soon as the cancelled run releases
	// its admission slot.
	restart bool

	// data is the last good one-shot payload; it survives failures so stale
	// data stays visible alongside the error.
	data any
	// buf accumulates streaming records.
	buf *ring
	// pendingReset discards the session buffer on the next record after a
	// reconnect, unless the stream is cumulative.
	pendingReset bool

	frames      int
	malformed   int
	lastUpdated time.Time
}

// Snapshot is the externally visible view of a card's execution.
type Snapshot struct {
	CardID      string
	State       State
	Data        any
	Records     []any
	Err         error
	Frames      int
	Malformed   int
	LastUpdated time.Time
}

func (ex *execution) snapshot() Snapshot {
	s := Snapshot{
		CardID:      ex.card.ID,
		State:       ex.state,
		Data:        ex.data,
		Err:         ex.err,
		Frames:      ex.frames,
		Malformed:   ex.malformed,
		LastUpdated: ex.lastUpdated,
	}
	if ex.buf != nil {
		s.Records = ex.buf.Snapshot()
	}
	return s
}
