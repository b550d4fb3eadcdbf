// Package httpapi serves the gateway's health and sensor status endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"thermopoll/internal/scheduler"
)

// Status exposes the scheduler's view of the sensors.
type Status interface {
	Snapshots() []scheduler.Snapshot
	Snapshot(name string) (scheduler.Snapshot, bool)
}

// Pinger is satisfied by *sql.DB. A nil Pinger skips the database check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func NewMux(status Status, db Pinger, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, logger)
	registerSensors(mux, status)
	return mux
}

func NewServer(addr string, mux http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: requestLogger(mux, logger),
	}
}
