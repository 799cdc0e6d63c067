// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsIngested    *prometheus.CounterVec // label: category
	EventsDuplicate   prometheus.Counter
	EventsIgnored     *prometheus.CounterVec // label: reason
	EntitiesExpired   prometheus.Counter
	EntitiesRemoved   prometheus.Counter
	RecordsPruned     prometheus.Counter
	PersistFailures   prometheus.Counter
	BroadcastsDropped prometheus.Counter
	EventSubReceived  *prometheus.CounterVec // label: message type
	ChannelsEvicted   prometheus.Counter
	ChannelsRefused   prometheus.Counter

	// Histograms (seconds)
	SweepDuration   prometheus.Observer
	PersistDuration prometheus.Observer

	// Gauges
	ActiveChannels prometheus.Gauge
	ListenerCount  *prometheus.GaugeVec // label: kind (events|frames)
	BodyCount      *prometheus.GaugeVec // label: channel
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_events_ingested_total", Help: "Combo events applied to a channel store"}, []string{"category"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_events_duplicate_total", Help: "Combo events dropped because their id was already consumed"})
		EventsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_events_ignored_total", Help: "Combo events ignored before reaching the store"}, []string{"reason"})
		EntitiesExpired = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_entities_expired_total", Help: "Entities marked expiring by the sweep or a manual override"})
		EntitiesRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_entities_removed_total", Help: "Entities removed from the store"})
		RecordsPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_records_pruned_total", Help: "Secondary records filtered out after their expiry window"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_persist_failures_total", Help: "Failed writes of channel state to durable storage"})
		BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_broadcasts_dropped_total", Help: "Messages not delivered to a listener whose buffer was full"})
		EventSubReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_eventsub_messages_total", Help: "EventSub webhook messages by type"}, []string{"type"})
		ChannelsEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_channels_evicted_total", Help: "On-demand channels stopped after idling"})
		ChannelsRefused = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_channels_refused_total", Help: "On-demand channel starts refused at the channel limit"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_sweep_duration_seconds", Help: "Expiry sweep duration seconds", Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}})
		PersistDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "overlay_persist_duration_seconds", Help: "State write duration seconds", Buckets: prometheus.DefBuckets})
		ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_active_channels", Help: "Channels with a running engine"})
		ListenerCount = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "overlay_listeners", Help: "Connected listeners by kind"}, []string{"kind"})
		BodyCount = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "overlay_bodies", Help: "Live ephemeral bodies per channel"}, []string{"channel"})
	})
}

// SetActiveChannels sets the running channel gauge.
func SetActiveChannels(n int) {
	if ActiveChannels != nil {
		ActiveChannels.Set(float64(n))
	}
}

// ForgetChannel drops the per-channel series of a stopped channel.
func ForgetChannel(channel string) {
	if BodyCount != nil {
		BodyCount.DeleteLabelValues(channel)
	}
}

// IncEventIngested counts an applied event of the given category.
func IncEventIngested(category string) {
	if EventsIngested != nil {
		EventsIngested.WithLabelValues(category).Inc()
	}
}

// IncEventIgnored counts an event dropped before the store, by reason.
func IncEventIgnored(reason string) {
	if EventsIgnored != nil {
		EventsIgnored.WithLabelValues(reason).Inc()
	}
}

// AddCounter adds n to c if it is registered.
func AddCounter(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// SetListeners records the number of connected listeners of a kind.
func SetListeners(kind string, n int) {
	if ListenerCount != nil {
		ListenerCount.WithLabelValues(kind).Set(float64(n))
	}
}

// SetBodies records the live body count of a channel.
func SetBodies(channel string, n int) {
	if BodyCount != nil {
		BodyCount.WithLabelValues(channel).Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
