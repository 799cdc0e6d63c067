package server

import (
	"net/http"
)

// HandleHealthz responds to liveness probes. The process is alive while it can serve.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the configured readiness checks in order and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.deps.Ready {
		if err := check.Fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
			return
		}
	}
	resp := map[string]any{"status": "ready"}
	if h.deps.Manager != nil {
		resp["channels"] = h.deps.Manager.Names()
	}
	if h.deps.Events != nil {
		resp["listeners"] = h.deps.Events.Total()
	}
	writeJSON(w, http.StatusOK, resp)
}
