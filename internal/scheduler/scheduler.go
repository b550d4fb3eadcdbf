// Package scheduler polls every configured sensor once per cycle, in
// parallel, and waits for the whole cycle before sleeping the interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"thermopoll/internal/batch"
	"thermopoll/internal/sensor"
	"thermopoll/internal/transport"
)

type Options struct {
	// Interval is the pause between the end of one cycle and the start of
	// the next.
	Interval time.Duration
	// AttemptTimeout bounds one sensor's poll, and separately its flush.
	AttemptTimeout time.Duration
	// BatchSize is the flush threshold: a buffer holding more readings
	// than this is published.
	BatchSize int
	Dataset   string
	Now       func() time.Time
}

// Snapshot is the read-only status of one sensor after the last cycle.
type Snapshot struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Table       string     `json:"table"`
	Supported   bool       `json:"supported"`
	LastSeen    *int       `json:"last_seen"`
	Pending     int        `json:"pending"`
	Flushes     int        `json:"flushes"`
	LastError   string     `json:"last_error,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Cycle       int64      `json:"cycle"`
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	Cycle    int64
	Polled   int
	Failed   int
	Skipped  int
	Flushed  int
	Duration time.Duration
}

type Scheduler struct {
	sensors  []sensor.Config
	registry sensor.Registry
	pub      transport.Publisher
	opts     Options
	logger   *slog.Logger

	// states is only touched by the goroutine running RunCycle, and each
	// entry by exactly one attempt goroutine during a cycle.
	states map[string]*batch.State
	cycle  int64

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func New(sensors []sensor.Config, registry sensor.Registry, pub transport.Publisher, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		sensors:   append([]sensor.Config(nil), sensors...),
		registry:  registry,
		pub:       pub,
		opts:      opts,
		logger:    logger.With("component", "scheduler"),
		states:    make(map[string]*batch.State),
		snapshots: make(map[string]Snapshot, len(sensors)),
	}
	for _, cfg := range s.sensors {
		_, ok := registry.Lookup(cfg.Type)
		s.snapshots[cfg.Name] = Snapshot{Name: cfg.Name, Type: cfg.Type, Table: cfg.Table, Supported: ok}
	}
	return s
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"sensors", len(s.sensors),
		"interval", s.opts.Interval,
		"attempt_timeout", s.opts.AttemptTimeout,
		"batch_size", s.opts.BatchSize,
	)
	for ctx.Err() == nil {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(s.opts.Interval):
		}
	}

	s.logger.Info("scheduler stopped", "cycles", s.cycle)
	return nil
}

type outcome struct {
	attempted bool
	at        time.Time
	err       error
	success   bool
	flushed   bool
}

type task struct {
	cfg     sensor.Config
	handler sensor.Handler
	state   *batch.State
}

// RunCycle polls every supported sensor concurrently and returns once all
// attempts have finished.
func (s *Scheduler) RunCycle(ctx context.Context) CycleStats {
	s.cycle++
	start := s.opts.Now()
	stats := CycleStats{Cycle: s.cycle}

	tasks := make([]task, 0, len(s.sensors))
	for _, cfg := range s.sensors {
		h, ok := s.registry.Lookup(cfg.Type)
		if !ok {
			stats.Skipped++
			s.logger.Warn("no handler for sensor type, skipping",
				"sensor", cfg.Name,
				"type", cfg.Type,
				"cycle", s.cycle,
			)
			continue
		}
		st, ok := s.states[cfg.Name]
		if !ok {
			st = batch.NewState()
			s.states[cfg.Name] = st
		}
		tasks = append(tasks, task{cfg: cfg, handler: h, state: st})
	}

	outcomes := make([]outcome, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			outcomes[i] = s.attempt(ctx, t)
		}(i, t)
	}
	wg.Wait()

	for i, o := range outcomes {
		stats.Polled++
		if o.err != nil {
			stats.Failed++
		}
		if o.flushed {
			stats.Flushed++
		}
		s.record(tasks[i], o)
	}
	stats.Duration = s.opts.Now().Sub(start)

	s.logger.Debug("cycle finished",
		"cycle", stats.Cycle,
		"polled", stats.Polled,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"flushed", stats.Flushed,
		"duration", stats.Duration,
	)
	return stats
}

// attempt runs one sensor's poll and flush. Nothing escapes it: errors and
// panics become the outcome.
func (s *Scheduler) attempt(ctx context.Context, t task) (o outcome) {
	o.attempted = true
	o.at = s.opts.Now()
	logger := s.logger.With("sensor", t.cfg.Name, "type", t.cfg.Type)

	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("panic in %s handler: %v", t.cfg.Type, r)
			o.success = false
			logger.Error("sensor attempt panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
	defer cancel()
	res, err := t.handler.Poll(actx, t.cfg, t.state.LastSeen())
	timedOut := actx.Err() != nil

	if err != nil {
		if timedOut && !errors.Is(err, sensor.ErrDeviceUnreachable) {
			err = fmt.Errorf("%w: attempt timed out: %w", sensor.ErrDeviceUnreachable, err)
		}
		o.err = err
		s.logAttemptError(logger, err)
		return o
	}
	o.success = true
	if res == nil {
		return o
	}

	t.state.Accept(res.Available, res.Reading)
	logger.Debug("reading buffered",
		"available", res.Available,
		"pending", t.state.Pending(),
		"temperature", res.Reading.Data.Temperature,
		"humidity", res.Reading.Data.Humidity,
	)

	if !t.state.ShouldFlush(s.opts.BatchSize) {
		return o
	}
	// A batch that crossed the threshold still ships during shutdown.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AttemptTimeout)
	defer fcancel()
	b, err := t.state.Flush(fctx, s.pub, batch.Target{
		Dataset: s.opts.Dataset,
		Table:   t.cfg.Table,
		Sensor:  t.cfg.Name,
	}, s.opts.Now())
	if err != nil {
		o.err = err
		logger.Error("batch dropped", "batch_id", b.ID, "records", len(b.Records), "error", err)
		return o
	}
	o.flushed = true
	logger.Info("batch flushed", "batch_id", b.ID, "records", len(b.Records), "table", t.cfg.Table)
	return o
}

func (s *Scheduler) logAttemptError(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, sensor.ErrDeviceUnreachable):
		logger.Warn("sensor unreachable", "error", err)
	case errors.Is(err, sensor.ErrNoData):
		logger.Info("sensor has no data yet", "error", err)
	default:
		logger.Error("sensor attempt failed", "error", err)
	}
}

func (s *Scheduler) record(t task, o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshots[t.cfg.Name]
	snap.Cycle = s.cycle
	snap.LastSeen = t.state.LastSeen()
	snap.Pending = t.state.Pending()
	if o.attempted {
		at := o.at
		snap.LastAttempt = &at
	}
	if o.flushed {
		snap.Flushes++
	}
	if o.err != nil {
		snap.LastError = o.err.Error()
	} else {
		snap.LastError = ""
	}
	if o.success {
		at := o.at
		snap.LastSuccess = &at
	}
	s.snapshots[t.cfg.Name] = snap
}

// Snapshots returns the status of every configured sensor, sorted by name.
func (s *Scheduler) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the status of one sensor.
func (s *Scheduler) Snapshot(name string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[name]
	return snap, ok
}
