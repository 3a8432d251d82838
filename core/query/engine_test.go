package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cardgrid/cardgrid/core/spec"
)

type fetchFunc func(ctx context.Context, req Request) (any, error)

func (f fetchFunc) Fetch(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

type openFunc func(ctx context.Context, req Request) (Stream, error)

func (f openFunc) Open(ctx context.Context, req Request) (Stream, error) { return f(ctx, req) }

type fakeSources struct {
	fetcher Fetcher
	opener  StreamOpener
}

func (s fakeSources) Fetcher(spec.Variant) (Fetcher, error) {
	if s.fetcher == nil {
		return nil, errors.New("no fetcher")
	}
	return s.fetcher, nil
}

func (s fakeSources) Opener(spec.Variant) (StreamOpener, error) {
	if s.opener == nil {
		return nil, errors.New("no opener")
	}
	return s.opener, nil
}

// scriptStream yields its scripted items in order, then blocks until the
// context is cancelled. An item that is an error is returned as one.
type scriptStream struct {
	mu    sync.Mutex
	items []any
}

func (s *scriptStream) Recv(ctx context.Context) (any, error) {
	s.mu.Lock()
	if len(s.items) > 0 {
		it := s.items[0]
		s.items = s.items[1:]
		s.mu.Unlock()
		if err, ok := it.(error); ok {
			return nil, err
		}
		return it, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptStream) Close() error { return nil }

func httpCard(id string) spec.Card {
	q := &spec.Query{Variant: spec.VariantHTTP, URL: "http://example/" + id}
	q.SetDefaults()
	return spec.Card{ID: id, Kind: "number", Position: spec.GridPosition{W: 1, H: 1}, Query: q}
}

func streamCard(id, policy string) spec.Card {
	q := &spec.Query{Variant: spec.VariantStreamingHTTP, URL: "http://example/" + id, MergePolicy: policy}
	q.SetDefaults()
	return spec.Card{ID: id, Kind: "recharts:line", Position: spec.GridPosition{W: 1, H: 1}, Query: q}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestEngine(t *testing.T, report spec.Report, cfg spec.Config, src Sources) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Report:          report,
		Config:          cfg,
		Sources:         src,
		RefreshInterval: time.Hour,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEngineConcurrencyCeiling(t *testing.T) {
	var cards []spec.Card
	for i := 0; i < 10; i++ {
		cards = append(cards, httpCard(fmt.Sprintf("c%d", i)))
	}
	release := make(chan struct{})
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: cards}, spec.Config{MaxConcurrentQueries: 8}, src)
	e.Start(context.Background())

	waitUntil(t, "8 in flight", func() bool { return e.InFlight() == 8 })
	if got := e.QueueLen(); got != 2 {
		t.Fatalf("expected 2 queued got %d", got)
	}
	close(release)
	waitUntil(t, "drain", func() bool { return e.InFlight() == 0 && e.QueueLen() == 0 })
	for _, c := range cards {
		snap, ok := e.Snapshot(c.ID)
		if !ok || snap.State != StateSucceeded {
			t.Errorf("card %s: expected succeeded got %v", c.ID, snap.State)
		}
	}
}

func TestEngineFetchResult(t *testing.T) {
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		return map[string]any{"value": 42.0}, nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1")}}, spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "fetch done", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.State == StateSucceeded
	})
	snap, _ := e.Snapshot("c1")
	data, ok := snap.Data.(map[string]any)
	if !ok || data["value"] != 42.0 {
		t.Fatalf("unexpected data %#v", snap.Data)
	}
	if snap.Err != nil {
		t.Fatalf("unexpected error %v", snap.Err)
	}
}

func TestEngineFetchFailureKeepsLastData(t *testing.T) {
	var fail atomic.Bool
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		if fail.Load() {
			return nil, errors.New("upstream down")
		}
		return "good", nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1")}}, spec.Config{}, src)
	e.Start(context.Background())
	waitUntil(t, "first fetch", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.State == StateSucceeded
	})

	fail.Store(true)
	if err := e.Restart("c1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitUntil(t, "failure", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.State == StateFailed
	})
	snap, _ := e.Snapshot("c1")
	if snap.Data != "good" {
		t.Fatalf("expected stale data to survive failure, got %#v", snap.Data)
	}
	var qerr *spec.QueryError
	if !errors.As(snap.Err, &qerr) || qerr.CardID != "c1" {
		t.Fatalf("expected QueryError for c1 got %v", snap.Err)
	}
}

func TestEngineRestartCancelsInFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 8)
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		n := calls.Add(1)
		if n == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return req.Params["region"], nil
	})}
	e, err := NewEngine(Options{
		Report:          spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1")}},
		Sources:         src,
		RefreshInterval: time.Hour,
		Params: func(string) map[string]string {
			return map[string]string{"region": "eu"}
		},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(e.Close)
	e.Start(context.Background())
	<-started

	if err := e.Restart("c1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitUntil(t, "second fetch", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.State == StateSucceeded
	})
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 fetches got %d", got)
	}
	snap, _ := e.Snapshot("c1")
	if snap.Data != "eu" {
		t.Fatalf("expected merged filter param got %#v", snap.Data)
	}
}

func TestEngineRestartQueuedIsNoOp(t *testing.T) {
	block := make(chan struct{})
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		select {
		case <-block:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1"), httpCard("c2")}},
		spec.Config{MaxConcurrentQueries: 1}, src)
	e.Start(context.Background())
	waitUntil(t, "c2 queued", func() bool { return e.QueueLen() == 1 })

	if err := e.Restart("c2"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := e.QueueLen(); got != 1 {
		t.Fatalf("expected queue unchanged got %d", got)
	}
	close(block)
	waitUntil(t, "drain", func() bool { return e.InFlight() == 0 && e.QueueLen() == 0 })
}

func TestEngineCancelQueued(t *testing.T) {
	block := make(chan struct{})
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		select {
		case <-block:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1"), httpCard("c2")}},
		spec.Config{MaxConcurrentQueries: 1}, src)
	e.Start(context.Background())
	waitUntil(t, "c2 queued", func() bool { return e.QueueLen() == 1 })

	e.Cancel("c2")
	if got := e.QueueLen(); got != 0 {
		t.Fatalf("expected empty queue got %d", got)
	}
	snap, _ := e.Snapshot("c2")
	if snap.State != StateIdle {
		t.Fatalf("expected idle got %v", snap.State)
	}
	// Cancelling again, and cancelling an unknown card, must not panic.
	e.Cancel("c2")
	e.Cancel("nope")
	close(block)
	waitUntil(t, "c1 done", func() bool { return e.InFlight() == 0 })
	if snap, _ := e.Snapshot("c2"); snap.State != StateIdle {
		t.Fatalf("cancelled card must stay idle, got %v", snap.State)
	}
}

func TestEngineStreamingAppend(t *testing.T) {
	rec1 := map[string]any{"t": 1.0, "v": 5.0}
	rec2 := map[string]any{"t": 2.0, "v": 7.0}
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		return &scriptStream{items: []any{rec1, rec2}}, nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeAppend)}},
		spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "2 frames", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})
	snap, _ := e.Snapshot("c1")
	if snap.State != StateStreaming {
		t.Fatalf("expected streaming got %v", snap.State)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 records got %d", len(snap.Records))
	}
	if first, ok := snap.Records[0].(map[string]any); !ok || first["v"] != 5.0 {
		t.Errorf("unexpected first record %#v", snap.Records[0])
	}
	if second, ok := snap.Records[1].(map[string]any); !ok || second["v"] != 7.0 {
		t.Errorf("unexpected second record %#v", snap.Records[1])
	}
}

func TestEngineStreamingReplace(t *testing.T) {
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		return &scriptStream{items: []any{"first", "second"}}, nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeReplace)}},
		spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "2 frames", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})
	snap, _ := e.Snapshot("c1")
	if len(snap.Records) != 1 || snap.Records[0] != "second" {
		t.Fatalf("expected only the latest record got %#v", snap.Records)
	}
}

func TestEngineStreamingSkipsMalformedFrames(t *testing.T) {
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		return &scriptStream{items: []any{
			"good1",
			fmt.Errorf("%w: bad json", ErrMalformedFrame),
			"good2",
		}}, nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeAppend)}},
		spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "2 good frames", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})
	snap, _ := e.Snapshot("c1")
	if snap.Malformed != 1 {
		t.Fatalf("expected 1 malformed frame got %d", snap.Malformed)
	}
	if len(snap.Records) != 2 || snap.Records[0] != "good1" || snap.Records[1] != "good2" {
		t.Fatalf("unexpected records %#v", snap.Records)
	}
	if snap.State != StateStreaming {
		t.Fatalf("malformed frame must not fail the stream, got %v", snap.State)
	}
}

func TestEngineStreamReconnectDiscardsBuffer(t *testing.T) {
	var opens atomic.Int32
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		switch opens.Add(1) {
		case 1:
			return &scriptStream{items: []any{"old1", "old2", errors.New("connection reset")}}, nil
		default:
			return &scriptStream{items: []any{"new1"}}, nil
		}
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeAppend)}},
		spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "post-reconnect record", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 3
	})
	snap, _ := e.Snapshot("c1")
	if len(snap.Records) != 1 || snap.Records[0] != "new1" {
		t.Fatalf("expected pre-drop records discarded, got %#v", snap.Records)
	}
}

func TestEngineRestartDiscardsStreamBuffer(t *testing.T) {
	var opens atomic.Int32
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		switch opens.Add(1) {
		case 1:
			return &scriptStream{items: []any{"session1-a", "session1-b"}}, nil
		default:
			return &scriptStream{items: []any{"session2-a"}}, nil
		}
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeAppend)}},
		spec.Config{}, src)
	e.Start(context.Background())
	waitUntil(t, "first session buffered", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})

	// A filter change restarts the stream; the new session must not be
	// stitched onto the old one's records.
	if err := e.Restart("c1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitUntil(t, "restarted session record", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 3
	})
	snap, _ := e.Snapshot("c1")
	if len(snap.Records) != 1 || snap.Records[0] != "session2-a" {
		t.Fatalf("expected only the restarted session's records, got %#v", snap.Records)
	}
}

func TestEngineRestartKeepsCumulativeStreamBuffer(t *testing.T) {
	var opens atomic.Int32
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		switch opens.Add(1) {
		case 1:
			return &scriptStream{items: []any{"session1-a"}}, nil
		default:
			return &scriptStream{items: []any{"session2-a"}}, nil
		}
	})}
	card := streamCard("c1", spec.MergeAppend)
	card.Query.Cumulative = true
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{card}}, spec.Config{}, src)
	e.Start(context.Background())
	waitUntil(t, "first session buffered", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 1
	})

	if err := e.Restart("c1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitUntil(t, "restarted session record", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})
	snap, _ := e.Snapshot("c1")
	if len(snap.Records) != 2 {
		t.Fatalf("expected cumulative records to survive restart, got %#v", snap.Records)
	}
}

func TestEngineStreamReconnectKeepsCumulativeBuffer(t *testing.T) {
	var opens atomic.Int32
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		switch opens.Add(1) {
		case 1:
			return &scriptStream{items: []any{"old1", errors.New("connection reset")}}, nil
		default:
			return &scriptStream{items: []any{"new1"}}, nil
		}
	})}
	card := streamCard("c1", spec.MergeAppend)
	card.Query.Cumulative = true
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{card}}, spec.Config{}, src)
	e.Start(context.Background())

	waitUntil(t, "post-reconnect record", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.Frames == 2
	})
	snap, _ := e.Snapshot("c1")
	if len(snap.Records) != 2 {
		t.Fatalf("expected cumulative records to survive reconnect, got %#v", snap.Records)
	}
}

func TestEngineStreamGivesUpAfterMaxFailures(t *testing.T) {
	var opens atomic.Int32
	src := fakeSources{opener: openFunc(func(ctx context.Context, req Request) (Stream, error) {
		opens.Add(1)
		return nil, errors.New("refused")
	})}
	e, err := NewEngine(Options{
		Report:                 spec.Report{ID: "r", Cards: []spec.Card{streamCard("c1", spec.MergeAppend)}},
		Sources:                src,
		RefreshInterval:        time.Hour,
		InitialBackoff:         time.Millisecond,
		MaxBackoff:             time.Millisecond,
		MaxConsecutiveFailures: 2,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(e.Close)
	e.Start(context.Background())

	waitUntil(t, "persistent failure", func() bool {
		snap, _ := e.Snapshot("c1")
		return snap.State == StateFailed
	})
	if got := opens.Load(); got != 3 {
		t.Fatalf("expected 3 connect attempts got %d", got)
	}
	snap, _ := e.Snapshot("c1")
	if snap.Err == nil {
		t.Fatalf("expected persistent error")
	}
}

func TestEngineCloseAbortsInFlight(t *testing.T) {
	entered := make(chan struct{})
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})}
	e := newTestEngine(t, spec.Report{ID: "r", Cards: []spec.Card{httpCard("c1")}}, spec.Config{}, src)
	e.Start(context.Background())
	<-entered

	e.Close()
	e.Close()
	waitUntil(t, "slot released", func() bool { return e.InFlight() == 0 })
	// A closed engine must ignore restarts.
	if err := e.Restart("c1"); err != nil {
		t.Fatalf("restart after close: %v", err)
	}
	if e.QueueLen() != 0 {
		t.Fatalf("closed engine must not enqueue")
	}
}

func TestEngineUnknownCard(t *testing.T) {
	src := fakeSources{fetcher: fetchFunc(func(ctx context.Context, req Request) (any, error) {
		return nil, nil
	})}
	e := newTestEngine(t, spec.Report{ID: "r"}, spec.Config{}, src)
	if err := e.Restart("ghost"); err == nil {
		t.Fatalf("expected error for unknown card")
	}
	if _, ok := e.Snapshot("ghost"); ok {
		t.Fatalf("expected no snapshot for unknown card")
	}
}

func TestEngineCardWithoutQueryIgnored(t *testing.T) {
	src := fakeSources{}
	report := spec.Report{ID: "r", Cards: []spec.Card{{ID: "md", Kind: "markdown"}}}
	e := newTestEngine(t, report, spec.Config{}, src)
	e.Start(context.Background())
	if _, ok := e.Snapshot("md"); ok {
		t.Fatalf("static card must have no execution")
	}
}
