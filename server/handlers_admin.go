package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

// HandleAdminChannels lists the running channels with their totals.
func (h *Handlers) HandleAdminChannels(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Channel   string `json:"channel"`
		Primary   int    `json:"primary"`
		Secondary int    `json:"secondary"`
		Entities  int    `json:"entities"`
		Listeners int    `json:"listeners"`
	}
	out := make([]row, 0)
	for _, name := range h.deps.Manager.Names() {
		ch, ok := h.deps.Manager.Get(name)
		if !ok {
			continue
		}
		snap := ch.Snapshot()
		p, s := snap.Totals()
		rw := row{Channel: name, Primary: p, Secondary: s, Entities: len(snap.Entities)}
		if h.deps.Events != nil {
			rw.Listeners = h.deps.Events.Count(name)
		}
		out = append(out, rw)
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

// HandleAdminEvent injects a simulated combo event. The body carries
// type (primary|secondary or horselul|heart), and optional username and color.
func (h *Handlers) HandleAdminEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string `json:"type"`
		Username string `json:"username"`
		Color    string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cat, ok := combo.ParseCategory(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	ev := h.deps.Normalizer.Simulated(cat, req.Username, combo.ParseColor(req.Color))
	ev, applied, err := ch.AddEvent(r.Context(), ev)
	if err != nil {
		writeChannelError(w, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("simulated event",
		slog.String("channel", ch.Name()), slog.String("type", string(ev.Type)),
		slog.String("user", ev.Username), slog.String("component", "admin"))
	writeJSON(w, http.StatusAccepted, map[string]any{"event": ev, "applied": applied})
}

// HandleAdminRaw parses a raw IRC line as if it arrived from chat. The body
// is either JSON {"line": "..."} or the line as plain text. Dev triggers are
// honoured when the channel or the normalizer runs in dev mode.
func (h *Handlers) HandleAdminRaw(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	line := strings.TrimSpace(string(body))
	if strings.HasPrefix(line, "{") {
		var req struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		line = strings.TrimSpace(req.Line)
	}
	if line == "" {
		writeError(w, http.StatusBadRequest, "line is required")
		return
	}
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	n := h.deps.Normalizer
	n.DevMode = n.DevMode || ch.Settings().Dev
	ev, ok := n.FromRaw(line)
	if !ok {
		telemetry.IncEventIgnored("no_trigger")
		writeError(w, http.StatusUnprocessableEntity, "line carries no combo trigger")
		return
	}
	ev, applied, err := ch.AddEvent(r.Context(), ev)
	if err != nil {
		writeChannelError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": ev, "applied": applied})
}

// HandleAdminClear resets a channel and deletes its stored state.
func (h *Handlers) HandleAdminClear(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	if err := ch.Clear(r.Context()); err != nil {
		writeChannelError(w, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("overlay cleared by admin", slog.String("channel", ch.Name()), slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "channel": ch.Name()})
}

// HandleAdminExpire starts the expiry of one user's entity now.
func (h *Handlers) HandleAdminExpire(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	user := r.PathValue("user")
	changed, err := ch.ForceExpire(r.Context(), user)
	if err != nil {
		writeChannelError(w, err)
		return
	}
	if !changed {
		writeError(w, http.StatusNotFound, "no active entity for user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "expiring", "user": strings.ToLower(user)})
}
