// Package query executes card data queries: one-shot fetches and long-lived
// record streams. A single Engine serves the active report, enforcing a
// global concurrency ceiling through a FIFO admission queue, at-most-one
// in-flight execution per card, periodic refresh for one-shot queries and
// capped exponential reconnects for streams.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cardgrid/cardgrid/core/events"
	"github.com/cardgrid/cardgrid/core/logger"
	"github.com/cardgrid/cardgrid/core/metrics"
	"github.com/cardgrid/cardgrid/core/spec"
)

// errStale aborts a run whose issuance token was invalidated.
var errStale = errors.New("stale execution")

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

// Options configures an Engine.
type Options struct {
	Report  spec.Report
	Config  spec.Config
	Sources Sources
	Bus     *events.Bus
	Metrics metrics.Sink
	Log     logger.Logger
	// Params supplies the current filter values for a card; may be nil.
	Params func(cardID string) map[string]string

	// RefreshInterval overrides Config.RefreshIntervalMs when positive.
	RefreshInterval time.Duration
	// InitialBackoff is the first reconnect delay for dropped streams.
	InitialBackoff time.Duration
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
	// MaxConsecutiveFailures bounds failed connect attempts before a stream
	// surfaces a persistent error.
	MaxConsecutiveFailures int
}

// Engine schedules and runs the query executions of one report. It is created
// when the report becomes active and closed when it is deactivated; both the
// executions and the admission queue die with it.
type Engine struct {
	mu       sync.Mutex
	cards    map[string]*execution
	order    []*execution
	queue    []*execution
	inFlight int
	max      int
	closed   bool
	started  bool
	ctx      context.Context
	stop     context.CancelFunc

	report      spec.Report
	sources     Sources
	bus         *events.Bus
	sink        metrics.Sink
	log         logger.Logger
	params      func(string) map[string]string
	refresh     time.Duration
	initialBO   time.Duration
	maxBO       time.Duration
	maxFailures int
}

// NewEngine creates an Engine for the report. Cards without a query are
// ignored; they have no execution.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Sources == nil {
		return nil, fmt.Errorf("query: nil Sources")
	}
	if opts.Log == nil {
		opts.Log = nopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NopSink{}
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = time.Duration(opts.Config.RefreshIntervalMs) * time.Millisecond
	}
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 5
	}
	max := opts.Config.MaxConcurrentQueries
	if max <= 0 {
		max = 8
	}
	e := &Engine{
		cards:       make(map[string]*execution),
		max:         max,
		report:      opts.Report,
		sources:     opts.Sources,
		bus:         opts.Bus,
		sink:        opts.Metrics,
		log:         opts.Log,
		params:      opts.Params,
		refresh:     refresh,
		initialBO:   opts.InitialBackoff,
		maxBO:       opts.MaxBackoff,
		maxFailures: opts.MaxConsecutiveFailures,
	}
	for i, c := range opts.Report.Cards {
		if c.Query == nil {
			continue
		}
		ex := &execution{card: c, order: i, state: StateIdle}
		if c.Query.Streaming() {
			ex.buf = newRing(c.Query.BufferSize)
		}
		e.cards[c.ID] = ex
		e.order = append(e.order, ex)
	}
	return e, nil
}

// Start enqueues every card's query in declaration order and begins the
// refresh ticker. It may be called once.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.ctx, e.stop = context.WithCancel(ctx)
	for _, ex := range e.order {
		e.enqueueLocked(ex)
	}
	e.mu.Unlock()

	go e.refreshLoop()
}

func (e *Engine) refreshLoop() {
	t := time.NewTicker(e.refresh)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.refreshTick()
		}
	}
}

// refreshTick re-enqueues one-shot queries. A card with an in-flight or
// queued execution is skipped so at most one execution per card exists.
// Streams are not re-issued here; the stream itself is the update channel.
func (e *Engine) refreshTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ex := range e.order {
		if ex.card.Query.Streaming() || ex.running || ex.queued {
			continue
		}
		e.enqueueLocked(ex)
	}
}

// Restart cancels any in-flight execution for the card, resets its backoff
// counters and issues exactly one new execution. It is the filter-change
// trigger.
func (e *Engine) Restart(cardID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.cards[cardID]
	if !ok {
		return fmt.Errorf("card %q has no query", cardID)
	}
	if e.closed {
		return nil
	}
	if ex.card.Query.Streaming() && !ex.card.Query.Cumulative {
		// The restarted stream is a new logical sequence; records buffered by
		// the previous session must not be stitched onto it.
		ex.pendingReset = true
	}
	switch {
	case ex.running:
		// The fresh execution is enqueued once the cancelled run releases
		// its admission slot; its result is discarded via the blanked token.
		ex.restart = true
		ex.token = ""
		if ex.cancel != nil {
			ex.cancel()
		}
	case ex.queued:
		// Parameters are read at admission time; the queued entry will pick
		// up the new values.
	default:
		e.enqueueLocked(ex)
	}
	return nil
}

// Cancel aborts the card's execution: a queued entry is removed without side
// effects, an in-flight one has its I/O aborted and its result discarded.
// Cancelling an idle or already-cancelled card is a no-op.
func (e *Engine) Cancel(cardID string) {
	e.mu.Lock()
	ex, ok := e.cards[cardID]
	if !ok {
		e.mu.Unlock()
		return
	}
	ex.restart = false
	if ex.card.Query.Streaming() && !ex.card.Query.Cumulative {
		ex.pendingReset = true
	}
	if ex.queued {
		ex.queued = false
		for i, q := range e.queue {
			if q == ex {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
	}
	if ex.running {
		ex.token = ""
		if ex.cancel != nil {
			ex.cancel()
		}
	}
	ex.state = StateIdle
	e.mu.Unlock()
	e.publishState(cardID, StateIdle, nil)
}

// Close tears down the engine: all in-flight executions are aborted and the
// queue is discarded. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, ex := range e.queue {
		ex.queued = false
	}
	e.queue = nil
	stop := e.stop
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Snapshot returns the card's current execution view.
func (e *Engine) Snapshot(cardID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.cards[cardID]
	if !ok {
		return Snapshot{}, false
	}
	return ex.snapshot(), true
}

// InFlight returns the number of currently admitted executions.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// QueueLen returns the number of executions waiting for admission.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// enqueueLocked appends the execution to the admission queue in arrival
// order and pumps. Callers hold e.mu.
func (e *Engine) enqueueLocked(ex *execution) {
	if e.closed || ex.queued || ex.running {
		return
	}
	ex.queued = true
	e.queue = append(e.queue, ex)
	e.pumpLocked()
}

// pumpLocked admits queued executions while slots are free. Admission and
// release both happen under e.mu, so the ceiling cannot be over-admitted.
func (e *Engine) pumpLocked() {
	for e.started && !e.closed && e.inFlight < e.max && len(e.queue) > 0 {
		ex := e.queue[0]
		e.queue = e.queue[1:]
		ex.queued = false
		e.admitLocked(ex)
	}
	e.recordSchedulerLocked()
}

func (e *Engine) admitLocked(ex *execution) {
	e.inFlight++
	token := uuid.NewString()
	ex.token = token
	ex.running = true
	ex.state = StatePending
	runCtx, cancel := context.WithCancel(e.ctx)
	ex.cancel = cancel
	go e.run(runCtx, ex, token)
}

func (e *Engine) run(ctx context.Context, ex *execution, token string) {
	defer e.release(ex, token)
	e.publishState(ex.card.ID, StatePending, nil)
	if ex.card.Query.Streaming() {
		e.runStream(ctx, ex, token)
	} else {
		e.runFetch(ctx, ex, token)
	}
}

// release returns the admission slot and pumps the queue. It runs exactly
// once per admitted execution.
func (e *Engine) release(ex *execution, token string) {
	e.mu.Lock()
	e.inFlight--
	ex.running = false
	if ex.token == token {
		ex.token = ""
	}
	ex.cancel = nil
	if ex.restart {
		ex.restart = false
		e.enqueueLocked(ex)
	}
	e.pumpLocked()
	e.mu.Unlock()
}

// buildRequest merges the declared query params with the card's current
// filter values; filter values win.
func (e *Engine) buildRequest(c spec.Card) Request {
	params := make(map[string]string, len(c.Query.Params))
	for k, v := range c.Query.Params {
		params[k] = v
	}
	if e.params != nil {
		for k, v := range e.params(c.ID) {
			params[k] = v
		}
	}
	return Request{CardID: c.ID, Query: *c.Query, Params: params}
}

func (e *Engine) runFetch(ctx context.Context, ex *execution, token string) {
	fetcher, err := e.sources.Fetcher(ex.card.Query.Variant)
	if err != nil {
		e.failFetch(ex, token, err, 0)
		return
	}
	req := e.buildRequest(ex.card)
	start := time.Now()
	data, err := fetcher.Fetch(ctx, req)
	latency := time.Since(start)

	e.mu.Lock()
	if e.closed || ex.token != token {
		e.mu.Unlock()
		e.recordQuery(ex.card, metrics.OutcomeDiscarded, latency)
		return
	}
	if err != nil {
		e.mu.Unlock()
		e.failFetch(ex, token, err, latency)
		return
	}
	ex.state = StateSucceeded
	ex.err = nil
	ex.data = data
	ex.lastUpdated = time.Now()
	e.mu.Unlock()

	e.publishState(ex.card.ID, StateSucceeded, nil)
	e.publishData(ex.card.ID, data, false)
	e.recordQuery(ex.card, metrics.OutcomeSucceeded, latency)
}

// failFetch marks the execution failed while keeping its last good data
// visible alongside the error.
func (e *Engine) failFetch(ex *execution, token string, cause error, latency time.Duration) {
	qerr := &spec.QueryError{CardID: ex.card.ID, Err: cause}
	e.mu.Lock()
	if e.closed || ex.token != token {
		e.mu.Unlock()
		e.recordQuery(ex.card, metrics.OutcomeDiscarded, latency)
		return
	}
	ex.state = StateFailed
	ex.err = qerr
	e.mu.Unlock()

	e.log.Warnf("card %s: query failed: %v", ex.card.ID, cause)
	e.publishState(ex.card.ID, StateFailed, qerr)
	e.recordQuery(ex.card, metrics.OutcomeFailed, latency)
}

func (e *Engine) runStream(ctx context.Context, ex *execution, token string) {
	opener, err := e.sources.Opener(ex.card.Query.Variant)
	if err != nil {
		e.failFetch(ex, token, err, 0)
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialBO
	bo.MaxInterval = e.maxBO
	bo.MaxElapsedTime = 0

	failures := 0
	reconnected := false
	for {
		stream, err := opener.Open(ctx, e.buildRequest(ex.card))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures > e.maxFailures {
				e.failFetch(ex, token, fmt.Errorf("stream gave up after %d attempts: %w", failures, err), 0)
				return
			}
			e.log.Warnf("card %s: stream connect failed (attempt %d): %v", ex.card.ID, failures, err)
			if !e.transition(ex, token, StateReconnecting, err) {
				return
			}
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		failures = 0
		bo.Reset()

		e.mu.Lock()
		if e.closed || ex.token != token {
			e.mu.Unlock()
			_ = stream.Close()
			return
		}
		ex.state = StateStreaming
		ex.err = nil
		if reconnected && !ex.card.Query.Cumulative {
			// Accumulated session data must not be stitched onto the new
			// sequence unless the server-side stream is cumulative.
			ex.pendingReset = true
		}
		e.mu.Unlock()
		e.publishState(ex.card.ID, StateStreaming, nil)

		err = e.consume(ctx, ex, token, stream)
		_ = stream.Close()
		if errors.Is(err, errStale) || ctx.Err() != nil {
			return
		}
		reconnected = true
		e.log.Warnf("card %s: stream dropped: %v", ex.card.ID, err)
		if !e.transition(ex, token, StateReconnecting, err) {
			return
		}
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// consume applies records to the card buffer until the stream errors or the
// execution is invalidated. Malformed frames are counted and skipped.
func (e *Engine) consume(ctx context.Context, ex *execution, token string, s Stream) error {
	for {
		rec, err := s.Recv(ctx)
		if errors.Is(err, ErrMalformedFrame) {
			e.mu.Lock()
			ex.malformed++
			frames, malformed := ex.frames, ex.malformed
			e.mu.Unlock()
			e.log.Warnf("card %s: skipping malformed frame: %v", ex.card.ID, err)
			e.recordStream(ex.card.ID, frames, malformed)
			continue
		}
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.closed || ex.token != token {
			e.mu.Unlock()
			return errStale
		}
		reset := false
		if ex.pendingReset {
			ex.buf.Reset()
			ex.pendingReset = false
			reset = true
		}
		if ex.card.Query.MergePolicy == spec.MergeReplace {
			ex.buf.Replace(rec)
		} else {
			ex.buf.Append(rec)
		}
		ex.frames++
		ex.lastUpdated = time.Now()
		snap := ex.buf.Snapshot()
		frames, malformed := ex.frames, ex.malformed
		e.mu.Unlock()

		e.publishData(ex.card.ID, snap, reset)
		e.recordStream(ex.card.ID, frames, malformed)
	}
}

// transition moves the execution to the given state unless its token was
// invalidated, and reports whether the run should continue.
func (e *Engine) transition(ex *execution, token string, state State, cause error) bool {
	var qerr error
	if cause != nil {
		qerr = &spec.QueryError{CardID: ex.card.ID, Err: cause}
	}
	e.mu.Lock()
	if e.closed || ex.token != token {
		e.mu.Unlock()
		return false
	}
	ex.state = state
	ex.err = qerr
	e.mu.Unlock()
	e.publishState(ex.card.ID, state, qerr)
	return true
}

func (e *Engine) publishState(cardID string, state State, err error) {
	if e.bus == nil {
		return
	}
	e.bus.State.Publish(events.CardStateEvent{CardID: cardID, State: state.String(), Err: err})
}

func (e *Engine) publishData(cardID string, data any, reset bool) {
	if e.bus == nil {
		return
	}
	e.bus.Data.Publish(events.CardDataEvent{CardID: cardID, Data: data, Reset: reset, Time: time.Now()})
}

func (e *Engine) recordQuery(c spec.Card, outcome string, latency time.Duration) {
	ev := metrics.QueryEvent{CardID: c.ID, Variant: c.Query.Variant, Outcome: outcome, Latency: latency, Time: time.Now()}
	if err := e.sink.RecordQuery(ev); err != nil {
		e.log.Errorf("record query metric: %v", err)
	}
}

func (e *Engine) recordStream(cardID string, frames, malformed int) {
	rec, ok := e.sink.(metrics.StreamRecorder)
	if !ok {
		return
	}
	ev := metrics.StreamEvent{CardID: cardID, Frames: frames, Malformed: malformed, Time: time.Now()}
	if err := rec.RecordStream(ev); err != nil {
		e.log.Errorf("record stream metric: %v", err)
	}
}

// recordSchedulerLocked publishes the admission gauge. Callers hold e.mu.
func (e *Engine) recordSchedulerLocked() {
	rec, ok := e.sink.(metrics.SchedulerRecorder)
	if !ok {
		return
	}
	if err := rec.RecordScheduler(metrics.SchedulerEvent{InFlight: e.inFlight, Queued: len(e.queue)}); err != nil {
		e.log.Errorf("record scheduler metric: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
