package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/overlay"
)

// defaultPingInterval keeps SSE connections alive through proxies.
const defaultPingInterval = 30 * time.Second

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
	cors *corsConfig
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, d Deps, cors *corsConfig) *Handlers {
	if d.Broadcaster == nil && d.Events != nil {
		d.Broadcaster = d.Events
	}
	if d.PingInterval <= 0 {
		d.PingInterval = defaultPingInterval
	}
	return &Handlers{ctx: ctx, deps: d, cors: cors}
}

// openChannel resolves the {channel} path value, starting the channel when
// needed, and writes the error response itself when it fails.
func (h *Handlers) openChannel(w http.ResponseWriter, r *http.Request) (*overlay.Channel, bool) {
	name := r.PathValue("channel")
	if !overlay.ValidChannel(name) {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return nil, false
	}
	settings := overlay.ParseSettings(r.URL.Query(), h.deps.Manager.Defaults())
	ch, err := h.deps.Manager.OpenWith(r.Context(), name, settings)
	if err != nil {
		writeChannelError(w, err)
		return nil, false
	}
	return ch, true
}

// runningChannel resolves the {channel} path value to a channel that is
// already running; it answers 404 instead of starting one.
func (h *Handlers) runningChannel(w http.ResponseWriter, r *http.Request) (*overlay.Channel, bool) {
	name := r.PathValue("channel")
	if !overlay.ValidChannel(name) {
		writeError(w, http.StatusBadRequest, "invalid channel")
		return nil, false
	}
	ch, ok := h.deps.Manager.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "channel not running")
		return nil, false
	}
	return ch, true
}

// writeChannelError maps engine errors to status codes.
func writeChannelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, overlay.ErrInvalidChannel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, overlay.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, overlay.ErrTooManyChannels):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, overlay.ErrChannelClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "overlay state unavailable")
	}
}

// broadcaster returns where webhook notifications are published.
func (h *Handlers) broadcaster() notify.Broadcaster {
	return h.deps.Broadcaster
}
