package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type healthchecker struct {
	db     Pinger
	logger *slog.Logger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("failed to check database connectivity", "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, db Pinger, logger *slog.Logger) {
	h := &healthchecker{db: db, logger: logger}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
