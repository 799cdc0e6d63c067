package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

// sseBuffer is how many notifications a slow SSE listener may lag behind.
const sseBuffer = 32

// HandleEvents streams channel notifications as Server-Sent Events. The
// stream opens with a connected message, replays the most recent event and
// sends a comment ping on every keep-alive tick.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	channel := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("channel")))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if h.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "sse"), slog.String("channel", channel))

	// Register before replaying so nothing published in between is lost.
	client := h.deps.Events.Open(channel, sseBuffer)
	defer h.deps.Events.Close(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, notify.Message{Type: notify.TypeConnected, Channel: channel}); err != nil {
		return
	}
	if recent, ok := h.deps.Events.Recent(channel); ok {
		if err := writeSSE(w, recent); err != nil {
			return
		}
	}
	flusher.Flush()
	log.Debug("sse listener connected")

	ticker := time.NewTicker(h.deps.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("sse listener disconnected")
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-client.C():
			if !ok {
				return
			}
			if err := writeSSE(w, msg); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes msg as one "data:" event.
func writeSSE(w http.ResponseWriter, msg notify.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
