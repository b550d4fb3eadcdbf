package httpapi

import (
	"net/http"
)

type sensorsAPI struct {
	status Status
}

func (a *sensorsAPI) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.status.Snapshots())
}

func (a *sensorsAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing sensor name")
		return
	}
	snap, ok := a.status.Snapshot(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sensor "+name)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func registerSensors(mux *http.ServeMux, status Status) {
	a := &sensorsAPI{status: status}
	mux.HandleFunc("GET /sensors", a.handleList)
	mux.HandleFunc("GET /sensors/{name}", a.handleGet)
}
