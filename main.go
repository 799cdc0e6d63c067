// Command backend is the combo overlay service. It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Selects the overlay state store (Postgres, Redis or memory) and runs migrations.
//   - Joins the configured Twitch chats and feeds combo events into the channel engines.
//   - Optionally mirrors notifications across instances over NATS.
//   - Ensures stream.online EventSub subscriptions when a public APP_URL is set.
//   - Serves the HTTP API (overlay state, frame stream, SSE, webhook, admin).
//
// Shutdown is graceful on SIGINT/SIGTERM: pending channel state is written
// before the process exits.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/combo-overlay/backend/chat"
	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/config"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/overlay"
	"github.com/onnwee/combo-overlay/backend/physics"
	"github.com/onnwee/combo-overlay/backend/placement"
	"github.com/onnwee/combo-overlay/backend/server"
	"github.com/onnwee/combo-overlay/backend/telemetry"
	"github.com/onnwee/combo-overlay/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("combo-overlay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("state store init failed", slog.String("backend", cfg.StateBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	// Notifications: events (SSE, stream-online) and frames (renderers)
	events := notify.NewRegistry("events")
	frames := notify.NewRegistry("frames")
	var broadcaster notify.Broadcaster = events
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL)
		if err != nil {
			slog.Error("nats connect failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer nc.Close()
		bridge, err := notify.NewNATSBridge(nc, events, cfg.NATSSubject)
		if err != nil {
			slog.Error("nats bridge failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() { _ = bridge.Close() }()
		broadcaster = bridge
		ready = append(ready, server.ReadyCheck{Name: "nats", Fn: func(context.Context) error {
			if !nc.IsConnected() {
				return errNATSDisconnected
			}
			return nil
		}})
	}

	settings := overlay.Settings{
		Size:       cfg.OverlaySize,
		Corner:     placement.ParseCorner(cfg.OverlayCorner),
		Persistent: cfg.OverlayPersistent,
		HeartFall:  cfg.OverlayHeartFall,
		Dev:        cfg.OverlayDev,
		Field:      physics.Field{Width: cfg.FieldWidth, Height: cfg.FieldHeight},
	}
	mgr := overlay.NewManager(ctx, overlay.Options{
		Settings:      settings,
		Store:         store,
		Events:        broadcaster,
		Frames:        frames,
		SweepInterval: cfg.SweepInterval,
		FrameInterval: cfg.FrameInterval,
		MaxChannels:   cfg.MaxChannels,
		IdleTimeout:   cfg.IdleTimeout,
		Listeners:     func(ch string) int { return events.Count(ch) + frames.Count(ch) },
	})
	// stream_online arrives locally from the webhook or remotely over NATS
	events.Subscribe(mgr.HandleNotification)

	normalizer := chat.Normalizer{DevMode: cfg.OverlayDev}

	// Chat listeners: one per configured channel
	slog.Info("starting chat listeners", slog.Int("channel_count", len(cfg.TwitchChannels)), slog.Any("channels", cfg.TwitchChannels))
	sink := func(channel string, ev combo.Event) {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		ch, err := mgr.Open(sctx, channel)
		if err != nil {
			slog.Warn("chat event dropped", slog.String("channel", channel), slog.Any("err", err), slog.String("component", "chat"))
			return
		}
		if _, _, err := ch.AddEvent(sctx, ev); err != nil {
			slog.Warn("chat event rejected", slog.String("channel", channel), slog.Any("err", err), slog.String("component", "chat"))
		}
	}
	for _, channel := range cfg.TwitchChannels {
		if _, err := mgr.Open(ctx, channel); err != nil {
			slog.Error("open overlay channel failed", slog.String("channel", channel), slog.Any("err", err))
			continue
		}
		go chat.StartAutoListener(ctx, channel, normalizer, sink, chat.ListenOptions{}, cfg.ChatReconnectInterval)
	}

	// EventSub (optional; requires Twitch app credentials and a public APP_URL)
	var helix *twitchapi.HelixClient
	if err := cfg.ValidateEventSub(); err != nil {
		slog.Info("eventsub disabled", slog.Any("reason", err))
	} else {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		if cfg.EventSubAutoSubscribe && cfg.PublicCallback() {
			go func() {
				sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				server.SubscribeChannels(sctx, helix, cfg, cfg.TwitchChannels)
			}()
		} else if !cfg.PublicCallback() {
			slog.Info("eventsub auto-subscribe skipped; APP_URL is not public", slog.String("app_url", cfg.AppURL))
		}
	}

	deps := server.Deps{
		Config:      cfg,
		Manager:     mgr,
		Events:      events,
		Broadcaster: broadcaster,
		Frames:      frames,
		Helix:       helix,
		Normalizer:  normalizer,
		Ready:       ready,
	}
	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()
	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	<-srvDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("overlay shutdown incomplete", slog.Any("err", err))
	}
}
