package sensor

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Env carries process-wide values a handler stamps into readings.
type Env struct {
	HomeID string
	Now    func() time.Time
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Result is the outcome of one successful poll.
type Result struct {
	// Available is the device's data point count, stored as the dedup index.
	Available int
	Reading   Reading
}

// Handler speaks one sensor protocol.
//
// Poll performs a single attempt against cfg. lastSeen is the available
// count stored after the previous successful poll, nil before the first.
// A nil Result with a nil error means the handler had nothing to record.
// Poll must not retain lastSeen.
type Handler interface {
	Type() string
	Poll(ctx context.Context, cfg Config, lastSeen *int) (*Result, error)
}

// Registry maps sensor type names to handlers. The set is fixed at startup.
type Registry map[string]Handler

const (
	TypeWS07  = "ws07_thermo_beacon"
	TypeDummy = "dummy_sensor"
)

// NewRegistry returns the handlers this build knows about.
func NewRegistry(dev Device, env Env, logger *slog.Logger) Registry {
	handlers := []Handler{
		NewWS07(dev, env, logger),
		NewDummy(logger),
	}
	r := make(Registry, len(handlers))
	for _, h := range handlers {
		r[h.Type()] = h
	}
	return r
}

// Lookup returns the handler registered for typ.
func (r Registry) Lookup(typ string) (Handler, bool) {
	h, ok := r[typ]
	return h, ok
}

// Types lists registered type names in order.
func (r Registry) Types() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
