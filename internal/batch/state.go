// Package batch holds per-sensor dedup and buffering state between cycles.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"thermopoll/internal/sensor"
	"thermopoll/internal/transport"
)

var ErrTransportFailure = errors.New("batch: transport failure")

// State is the runtime state of one sensor. It is touched by a single
// goroutine per cycle and needs no locking.
type State struct {
	lastSeen *int
	pending  []sensor.Reading
}

func NewState() *State {
	return &State{}
}

// LastSeen returns a copy of the last accepted available count, nil before
// the first successful poll.
func (s *State) LastSeen() *int {
	if s.lastSeen == nil {
		return nil
	}
	v := *s.lastSeen
	return &v
}

// Pending returns the number of buffered readings.
func (s *State) Pending() int {
	return len(s.pending)
}

// Accept records a fully decoded reading and its dedup index.
func (s *State) Accept(available int, r sensor.Reading) {
	s.lastSeen = &available
	s.pending = append(s.pending, r)
}

// ShouldFlush reports whether the buffer has grown past threshold.
func (s *State) ShouldFlush(threshold int) bool {
	return len(s.pending) > threshold
}

// Drain returns the buffered readings and empties the buffer.
func (s *State) Drain() []sensor.Reading {
	out := s.pending
	s.pending = nil
	return out
}

// Target names where a sensor's batches go.
type Target struct {
	Dataset string
	Table   string
	Sensor  string
}

// Flush drains the buffer into one batch and publishes it. The buffer is
// emptied whether or not publishing succeeds.
func (s *State) Flush(ctx context.Context, pub transport.Publisher, to Target, now time.Time) (transport.Batch, error) {
	b := transport.Batch{
		ID:        uuid.NewString(),
		Dataset:   to.Dataset,
		Table:     to.Table,
		Sensor:    to.Sensor,
		Records:   s.Drain(),
		CreatedAt: now.UTC(),
	}
	if err := pub.Publish(ctx, b); err != nil {
		return b, fmt.Errorf("%w: batch %s (%d records): %w", ErrTransportFailure, b.ID, len(b.Records), err)
	}
	return b, nil
}
