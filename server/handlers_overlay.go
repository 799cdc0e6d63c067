package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/overlay"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// frameBuffer is how many frames a slow renderer may lag behind before
	// frames are dropped for it.
	frameBuffer = 8
)

// HandleOverlayState returns the current snapshot, totals and settings of a channel.
func (h *Handlers) HandleOverlayState(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	snap := ch.Snapshot()
	primary, secondary := snap.Totals()
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":  ch.Name(),
		"state":    snap,
		"totals":   overlay.Totals{Primary: primary, Secondary: secondary},
		"settings": ch.Settings(),
	})
}

// HandleOverlayLeaderboard returns the top users of both categories. The n
// query parameter bounds the rows (default 10).
func (h *Handlers) HandleOverlayLeaderboard(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	n := parseIntQuery(r, "n", overlay.LeaderboardSize)
	if n <= 0 || n > 100 {
		n = overlay.LeaderboardSize
	}
	snap := ch.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":   ch.Name(),
		"primary":   combo.Leaderboard(snap.Aggregate, n),
		"secondary": combo.Leaderboard(snap.SecondaryCounters(), n),
	})
}

// HandleEntityComplete removes an expiring entity once the renderer finished
// its burst animation. Entities that are not expiring stay.
func (h *Handlers) HandleEntityComplete(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.runningChannel(w, r)
	if !ok {
		return
	}
	removed, err := ch.CompleteEntity(r.Context(), r.PathValue("user"))
	if err != nil {
		writeChannelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// HandleOverlayStream upgrades to a websocket and streams render frames. The
// last frame is sent first so a new renderer draws immediately.
func (h *Handlers) HandleOverlayStream(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.openChannel(w, r)
	if !ok {
		return
	}
	if h.deps.Frames == nil {
		writeError(w, http.StatusServiceUnavailable, "frame stream unavailable")
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return h.cors.allows(r.Header.Get("Origin")) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "stream"), slog.String("channel", ch.Name()))

	client := h.deps.Frames.Open(ch.Name(), frameBuffer)
	defer h.deps.Frames.Close(client)

	// The reader only handles control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if f, ok := ch.LastFrame(); ok {
		if err := writeFrame(conn, notify.Message{Type: notify.TypeFrame, Channel: ch.Name(), Timestamp: f.Timestamp, Data: f}); err != nil {
			return
		}
	}
	log.Debug("renderer connected")

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			log.Debug("renderer disconnected")
			return
		case <-h.ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-client.C():
			if !ok {
				return
			}
			if err := writeFrame(conn, msg); err != nil {
				log.Debug("frame write failed", slog.Any("err", err))
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
