package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TWITCH_CHANNELS", "TWITCH_CHANNEL", "TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET",
		"TWITCH_EVENTSUB_SECRET", "APP_URL", "CHAT_RECONNECT_INTERVAL", "EVENTSUB_AUTO_SUBSCRIBE",
		"HTTP_ADDR", "ENV", "ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS_PER_IP", "RATE_LIMIT_WINDOW_SECONDS",
		"CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS", "STATE_BACKEND", "DB_DSN", "REDIS_URL",
		"REDIS_STATE_TTL", "NATS_URL", "NATS_SUBJECT_PREFIX", "OVERLAY_CORNER", "OVERLAY_SIZE",
		"OVERLAY_PERSISTENT", "OVERLAY_HEART_FALL", "OVERLAY_DEV", "FIELD_WIDTH", "FIELD_HEIGHT",
		"SWEEP_INTERVAL", "FRAME_INTERVAL", "OVERLAY_MAX_CHANNELS", "OVERLAY_IDLE_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StateBackend != BackendMemory {
		t.Errorf("StateBackend = %q, want memory", cfg.StateBackend)
	}
	if cfg.OverlaySize != 3 || cfg.OverlayCorner != "bl" || !cfg.OverlayPersistent || !cfg.OverlayHeartFall || cfg.OverlayDev {
		t.Errorf("unexpected overlay defaults: %+v", cfg)
	}
	if cfg.SweepInterval != time.Second || cfg.FrameInterval != 50*time.Millisecond {
		t.Errorf("unexpected intervals: %v %v", cfg.SweepInterval, cfg.FrameInterval)
	}
	if cfg.FieldWidth != 1920 || cfg.FieldHeight != 1080 {
		t.Errorf("unexpected field %vx%v", cfg.FieldWidth, cfg.FieldHeight)
	}
	if !cfg.CORSPermissive {
		t.Errorf("expected permissive CORS without ENV")
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitWindow != time.Minute {
		t.Errorf("unexpected rate limit defaults")
	}
	if cfg.MaxChannels != 50 || cfg.IdleTimeout != 10*time.Minute {
		t.Errorf("unexpected channel limits: %d %v", cfg.MaxChannels, cfg.IdleTimeout)
	}
}

func TestLoadChannelLimits(t *testing.T) {
	clearEnv(t)
	t.Setenv("OVERLAY_MAX_CHANNELS", "0")
	t.Setenv("OVERLAY_IDLE_TIMEOUT", "90s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxChannels != 0 || cfg.IdleTimeout != 90*time.Second {
		t.Errorf("got %d %v", cfg.MaxChannels, cfg.IdleTimeout)
	}
}

func TestLoadChannels(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNELS", " #Foo, bar ,,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := strings.Join(cfg.TwitchChannels, ","); got != "foo,bar" {
		t.Errorf("TwitchChannels = %q", got)
	}

	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "Solo")
	cfg, _ = Load()
	if len(cfg.TwitchChannels) != 1 || cfg.TwitchChannels[0] != "solo" {
		t.Errorf("TwitchChannels = %v", cfg.TwitchChannels)
	}
}

func TestLoadStateBackend(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{"dsn implies postgres", map[string]string{"DB_DSN": "postgres://x"}, BackendPostgres, false},
		{"redis url implies redis", map[string]string{"REDIS_URL": "redis://x"}, BackendRedis, false},
		{"explicit postgres gets default dsn", map[string]string{"STATE_BACKEND": "postgres"}, BackendPostgres, false},
		{"unknown backend", map[string]string{"STATE_BACKEND": "etcd"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.StateBackend != tt.want {
				t.Errorf("StateBackend = %q, want %q", cfg.StateBackend, tt.want)
			}
			if cfg.StateBackend == BackendPostgres && cfg.DBDsn == "" {
				t.Error("expected a dsn")
			}
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	for key, val := range map[string]string{
		"OVERLAY_SIZE":         "9",
		"SWEEP_INTERVAL":       "soon",
		"OVERLAY_PERSISTENT":   "maybe",
		"FIELD_WIDTH":          "wide",
		"FRAME_INTERVAL":       "-1s",
		"OVERLAY_MAX_CHANNELS": "-3",
		"OVERLAY_IDLE_TIMEOUT": "later",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestValidateEventSub(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_EVENTSUB_SECRET", "hook-secret")
	t.Setenv("APP_URL", "https://overlay.example.com/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.ValidateEventSub(); err != nil {
		t.Errorf("expected valid eventsub config, got %v", err)
	}
	if cfg.AppURL != "https://overlay.example.com" {
		t.Errorf("AppURL = %q", cfg.AppURL)
	}
	if !cfg.PublicCallback() {
		t.Error("expected public callback")
	}

	cfg.EventSubSecret = ""
	err = cfg.ValidateEventSub()
	if err == nil || !strings.Contains(err.Error(), "TWITCH_EVENTSUB_SECRET") {
		t.Errorf("expected missing secret error, got %v", err)
	}
}

func TestPublicCallback(t *testing.T) {
	for appURL, want := range map[string]bool{
		"http://localhost:3000":     false,
		"http://127.0.0.1:8080":     false,
		"":                          false,
		"https://overlay.tv":        true,
		"https://sub.overlay.tv:44": true,
	} {
		c := &Config{AppURL: appURL}
		if got := c.PublicCallback(); got != want {
			t.Errorf("PublicCallback(%q) = %v, want %v", appURL, got, want)
		}
	}
}

func TestAdminAuthEnabled(t *testing.T) {
	if (&Config{}).AdminAuthEnabled() {
		t.Error("no credentials should disable auth")
	}
	if (&Config{AdminUsername: "u"}).AdminAuthEnabled() {
		t.Error("username alone should not enable auth")
	}
	if !(&Config{AdminToken: "t"}).AdminAuthEnabled() {
		t.Error("token should enable auth")
	}
}
