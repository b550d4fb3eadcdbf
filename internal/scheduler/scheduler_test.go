package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"thermopoll/internal/sensor"
	"thermopoll/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pollFunc func(ctx context.Context, cfg sensor.Config, lastSeen *int) (*sensor.Result, error)

// funcHandler dispatches by sensor name so one registered type can drive
// several sensors with different behavior.
type funcHandler struct {
	typ   string
	polls map[string]pollFunc
}

func (h *funcHandler) Type() string { return h.typ }

func (h *funcHandler) Poll(ctx context.Context, cfg sensor.Config, lastSeen *int) (*sensor.Result, error) {
	return h.polls[cfg.Name](ctx, cfg, lastSeen)
}

func registry(h *funcHandler) sensor.Registry {
	return sensor.Registry{h.typ: h}
}

func cfgs(typ string, names ...string) []sensor.Config {
	out := make([]sensor.Config, 0, len(names))
	for _, n := range names {
		out = append(out, sensor.Config{Name: n, Type: typ, Table: n + "_table"})
	}
	return out
}

func okReading(available int) pollFunc {
	return func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
		return &sensor.Result{
			Available: available,
			Reading:   sensor.Reading{Day: "2024-03-01", Data: sensor.ReadingData{Temperature: 21.5}},
		}, nil
	}
}

type memPublisher struct {
	mu      sync.Mutex
	batches []transport.Batch
	err     error
}

func (p *memPublisher) Publish(_ context.Context, b transport.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, b)
	return p.err
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func testOptions() Options {
	return Options{
		Interval:       20 * time.Millisecond,
		AttemptTimeout: time.Second,
		BatchSize:      10,
		Dataset:        "sensors",
	}
}

func TestRunCycle_IsolatesFailures(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{
		"good": okReading(5),
		"broken": func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
			return nil, sensor.ErrProtocol
		},
		"panicky": func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
			panic("index out of range")
		},
		"unreachable": func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
			return nil, sensor.ErrDeviceUnreachable
		},
	}}
	s := New(cfgs("fake", "good", "broken", "panicky", "unreachable"), registry(h), &memPublisher{}, testOptions(), discardLogger())

	stats := s.RunCycle(context.Background())
	if stats.Polled != 4 || stats.Failed != 3 {
		t.Fatalf("stats = %+v, want 4 polled, 3 failed", stats)
	}

	good, _ := s.Snapshot("good")
	if good.LastSeen == nil || *good.LastSeen != 5 || good.Pending != 1 || good.LastError != "" {
		t.Errorf("good snapshot = %+v", good)
	}
	if good.LastSuccess == nil {
		t.Error("good LastSuccess not set")
	}

	for _, name := range []string{"broken", "panicky", "unreachable"} {
		snap, _ := s.Snapshot(name)
		if snap.LastError == "" {
			t.Errorf("%s: LastError empty", name)
		}
		if snap.LastSeen != nil || snap.Pending != 0 {
			t.Errorf("%s: state changed after failure: %+v", name, snap)
		}
		if snap.LastSuccess != nil {
			t.Errorf("%s: LastSuccess set after failure", name)
		}
	}
	panicky, _ := s.Snapshot("panicky")
	if !strings.Contains(panicky.LastError, "panic") {
		t.Errorf("panicky LastError = %q", panicky.LastError)
	}
}

func TestRunCycle_UnknownTypeSkipped(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"known": okReading(1)}}
	sensors := append(cfgs("fake", "known"), sensor.Config{Name: "mystery", Type: "unknown_sensor"})
	s := New(sensors, registry(h), &memPublisher{}, testOptions(), discardLogger())

	stats := s.RunCycle(context.Background())
	if stats.Polled != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 polled, 1 skipped", stats)
	}
	snap, ok := s.Snapshot("mystery")
	if !ok || snap.Supported {
		t.Errorf("mystery snapshot = %+v, %v", snap, ok)
	}
	if _, ok := s.states["mystery"]; ok {
		t.Error("state created for unsupported sensor")
	}
}

func TestRunCycle_StateCreatedLazily(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"a": okReading(1), "b": okReading(2)}}
	s := New(cfgs("fake", "a", "b"), registry(h), &memPublisher{}, testOptions(), discardLogger())

	if len(s.states) != 0 {
		t.Fatalf("states before first cycle = %d", len(s.states))
	}
	s.RunCycle(context.Background())
	if len(s.states) != 2 {
		t.Fatalf("states after first cycle = %d, want 2", len(s.states))
	}
	first := s.states["a"]
	s.RunCycle(context.Background())
	if s.states["a"] != first {
		t.Error("state replaced between cycles")
	}
}

func TestRunCycle_PassesLastSeen(t *testing.T) {
	var seen []*int
	available := 0
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{
		"a": func(_ context.Context, _ sensor.Config, lastSeen *int) (*sensor.Result, error) {
			seen = append(seen, lastSeen)
			available += 3
			return &sensor.Result{Available: available}, nil
		},
	}}
	s := New(cfgs("fake", "a"), registry(h), &memPublisher{}, testOptions(), discardLogger())

	for i := 0; i < 3; i++ {
		s.RunCycle(context.Background())
	}
	if seen[0] != nil {
		t.Errorf("first poll lastSeen = %d, want nil", *seen[0])
	}
	if seen[1] == nil || *seen[1] != 3 || seen[2] == nil || *seen[2] != 6 {
		t.Errorf("lastSeen sequence = %v", seen)
	}
}

func TestRunCycle_FlushAfterThreshold(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"a": okReading(1)}}
	pub := &memPublisher{}
	opts := testOptions()
	opts.BatchSize = 3
	s := New(cfgs("fake", "a"), registry(h), pub, opts, discardLogger())

	for i := 0; i < 3; i++ {
		s.RunCycle(context.Background())
	}
	if pub.count() != 0 {
		t.Fatalf("flushed after 3 readings with threshold 3")
	}
	stats := s.RunCycle(context.Background())
	if stats.Flushed != 1 || pub.count() != 1 {
		t.Fatalf("stats = %+v, batches = %d, want one flush", stats, pub.count())
	}
	b := pub.batches[0]
	if len(b.Records) != 4 || b.Dataset != "sensors" || b.Table != "a_table" || b.Sensor != "a" {
		t.Errorf("batch = %+v", b)
	}
	snap, _ := s.Snapshot("a")
	if snap.Pending != 0 || snap.Flushes != 1 {
		t.Errorf("snapshot after flush = %+v", snap)
	}
}

func TestRunCycle_FlushFailureDropsBuffer(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"a": okReading(1)}}
	pub := &memPublisher{err: errors.New("broker down")}
	opts := testOptions()
	opts.BatchSize = 0
	s := New(cfgs("fake", "a"), registry(h), pub, opts, discardLogger())

	stats := s.RunCycle(context.Background())
	if stats.Failed != 1 || stats.Flushed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	snap, _ := s.Snapshot("a")
	if snap.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after failed flush", snap.Pending)
	}
	if !strings.Contains(snap.LastError, "transport failure") {
		t.Errorf("LastError = %q", snap.LastError)
	}
}

// ctxPublisher fails like a real transport when handed a dead context.
type ctxPublisher struct {
	memPublisher
}

func (p *ctxPublisher) Publish(ctx context.Context, b transport.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.memPublisher.Publish(ctx, b)
}

func TestRunCycle_FlushSurvivesShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{
		"a": func(c context.Context, cfg sensor.Config, lastSeen *int) (*sensor.Result, error) {
			cancel()
			return okReading(1)(c, cfg, lastSeen)
		},
	}}
	pub := &ctxPublisher{}
	opts := testOptions()
	opts.BatchSize = 0
	s := New(cfgs("fake", "a"), registry(h), pub, opts, discardLogger())

	stats := s.RunCycle(ctx)
	if stats.Flushed != 1 || pub.count() != 1 {
		t.Fatalf("stats = %+v, batches = %d, want the batch shipped after cancel", stats, pub.count())
	}
}

func TestRunCycle_AttemptTimeout(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{
		"hung": func(ctx context.Context, _ sensor.Config, _ *int) (*sensor.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"fast": okReading(1),
	}}
	opts := testOptions()
	opts.AttemptTimeout = 30 * time.Millisecond
	s := New(cfgs("fake", "hung", "fast"), registry(h), &memPublisher{}, opts, discardLogger())

	start := time.Now()
	s.RunCycle(context.Background())
	if d := time.Since(start); d > time.Second {
		t.Fatalf("cycle took %v with a 30ms attempt timeout", d)
	}
	hung, _ := s.Snapshot("hung")
	if !strings.Contains(hung.LastError, sensor.ErrDeviceUnreachable.Error()) {
		t.Errorf("hung LastError = %q, want unreachable", hung.LastError)
	}
	fast, _ := s.Snapshot("fast")
	if fast.LastError != "" || fast.Pending != 1 {
		t.Errorf("fast snapshot = %+v", fast)
	}
}

func TestRunCycle_Barrier(t *testing.T) {
	var done atomic.Int32
	slow := func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
		time.Sleep(40 * time.Millisecond)
		done.Add(1)
		return nil, nil
	}
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"a": slow, "b": slow, "c": slow}}
	s := New(cfgs("fake", "a", "b", "c"), registry(h), &memPublisher{}, testOptions(), discardLogger())

	start := time.Now()
	s.RunCycle(context.Background())
	if done.Load() != 3 {
		t.Fatalf("RunCycle returned with %d of 3 attempts finished", done.Load())
	}
	// Attempts run concurrently, not one after another.
	if d := time.Since(start); d > 110*time.Millisecond {
		t.Errorf("cycle took %v, attempts did not run concurrently", d)
	}
}

func TestRun_PacingAndNoOverlap(t *testing.T) {
	const (
		interval = 50 * time.Millisecond
		work     = 30 * time.Millisecond
	)

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		starts   []time.Time
		ends     []time.Time
	)
	poll := func(name string) pollFunc {
		return func(context.Context, sensor.Config, *int) (*sensor.Result, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			if name == "slow" {
				starts = append(starts, time.Now())
			}
			mu.Unlock()

			d := work / 3
			if name == "slow" {
				d = work
			}
			time.Sleep(d)

			mu.Lock()
			inFlight--
			if name == "slow" {
				ends = append(ends, time.Now())
			}
			mu.Unlock()
			return nil, nil
		}
	}
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"slow": poll("slow"), "quick": poll("quick")}}

	opts := testOptions()
	opts.Interval = interval
	s := New(cfgs("fake", "slow", "quick"), registry(h), &memPublisher{}, opts, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(ends)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler did not complete 3 cycles")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// Two sensors per cycle; a third in flight means cycles overlapped.
	if peak > 2 {
		t.Errorf("peak attempts in flight = %d, want <= 2", peak)
	}
	for i := 1; i < len(starts) && i < len(ends); i++ {
		gap := starts[i].Sub(ends[i-1])
		if gap < interval {
			t.Errorf("cycle %d started %v after the slowest attempt of cycle %d ended, want >= %v", i+1, gap, i, interval)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{"a": okReading(1)}}
	opts := testOptions()
	opts.Interval = time.Hour
	s := New(cfgs("fake", "a"), registry(h), &memPublisher{}, opts, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSnapshots_Sorted(t *testing.T) {
	h := &funcHandler{typ: "fake", polls: map[string]pollFunc{}}
	s := New(cfgs("fake", "zeta", "alpha", "mid"), registry(h), &memPublisher{}, testOptions(), discardLogger())

	snaps := s.Snapshots()
	if len(snaps) != 3 || snaps[0].Name != "alpha" || snaps[2].Name != "zeta" {
		t.Errorf("Snapshots() = %+v", snaps)
	}
	if _, ok := s.Snapshot("nope"); ok {
		t.Error("Snapshot(nope) ok = true")
	}
}
