// Package server exposes the HTTP API: health, metrics, the overlay state and
// frame stream, SSE notifications, the Twitch EventSub webhook and the admin
// simulation routes. It wraps every request with CORS, a correlation ID and a
// tracing span.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/combo-overlay/backend/chat"
	"github.com/onnwee/combo-overlay/backend/config"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/overlay"
	"github.com/onnwee/combo-overlay/backend/telemetry"
	"github.com/onnwee/combo-overlay/backend/twitchapi"
)

// ReadyCheck is one named readiness probe.
type ReadyCheck struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Config  *config.Config
	Manager *overlay.Manager
	// Events is the local events registry SSE listeners attach to.
	Events *notify.Registry
	// Broadcaster publishes webhook notifications. Defaults to Events; set it
	// to the NATS bridge to reach other instances.
	Broadcaster notify.Broadcaster
	Frames      *notify.Registry
	// Helix is nil when EventSub is not configured.
	Helix      *twitchapi.HelixClient
	Normalizer chat.Normalizer
	Ready      []ReadyCheck
	// PingInterval is the SSE keep-alive period; zero means 30s.
	PingInterval time.Duration
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, d Deps) http.Handler {
	authCfg := newAuthConfig(d.Config)
	corsCfg := newCORSConfig(d.Config)
	rateLimiter := newIPRateLimiter(ctx, newRateLimiterConfig(d.Config))

	h := NewHandlers(ctx, d, corsCfg)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	// Notifications
	mux.HandleFunc("GET /events", h.HandleEvents)

	// EventSub
	mux.HandleFunc("POST /eventsub", h.HandleEventSubWebhook)

	// Overlay endpoints
	mux.HandleFunc("GET /overlay/{channel}", h.HandleOverlayState)
	mux.HandleFunc("GET /overlay/{channel}/leaderboard", h.HandleOverlayLeaderboard)
	mux.HandleFunc("GET /overlay/{channel}/stream", h.HandleOverlayStream)
	mux.HandleFunc("POST /overlay/{channel}/entities/{user}/complete", h.HandleEntityComplete)

	// Admin endpoints
	mux.HandleFunc("GET /admin/overlay", h.HandleAdminChannels)
	mux.HandleFunc("POST /admin/overlay/{channel}/events", h.HandleAdminEvent)
	mux.HandleFunc("POST /admin/overlay/{channel}/raw", h.HandleAdminRaw)
	mux.HandleFunc("POST /admin/overlay/{channel}/clear", h.HandleAdminClear)
	mux.HandleFunc("POST /admin/overlay/{channel}/expire/{user}", h.HandleAdminExpire)
	mux.HandleFunc("GET /admin/eventsub/subscribe", h.HandleEventSubList)
	mux.HandleFunc("POST /admin/eventsub/subscribe", h.HandleEventSubSubscribe)
	mux.HandleFunc("DELETE /admin/eventsub/subscribe", h.HandleEventSubDelete)

	// Apply auth and rate limiting to admin endpoints only
	admin := adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg)
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" || strings.HasPrefix(r.URL.Path, "/admin/") {
			admin.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, d Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, d),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: SSE and websocket responses stay open.
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
