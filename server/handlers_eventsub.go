package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/onnwee/combo-overlay/backend/config"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/telemetry"
	"github.com/onnwee/combo-overlay/backend/twitchapi"
)

// EventSubPath is where Twitch delivers webhook messages.
const EventSubPath = "/eventsub"

// EventSubCallback returns the public webhook URL for cfg.
func EventSubCallback(cfg *config.Config) string {
	return strings.TrimRight(cfg.AppURL, "/") + EventSubPath
}

// HandleEventSubWebhook verifies and dispatches a Twitch EventSub message.
// A stream.online notification is published as a stream_online message for
// the broadcaster's channel.
func (h *Handlers) HandleEventSubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	msgID := r.Header.Get(twitchapi.HeaderMessageID)
	ts := r.Header.Get(twitchapi.HeaderMessageTimestamp)
	sig := r.Header.Get(twitchapi.HeaderMessageSignature)
	msgType := r.Header.Get(twitchapi.HeaderMessageType)
	if msgID == "" || ts == "" || sig == "" {
		writeError(w, http.StatusBadRequest, "missing headers")
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "eventsub"))
	if !twitchapi.VerifySignature(h.deps.Config.EventSubSecret, msgID, ts, body, sig) {
		log.Warn("eventsub signature rejected", slog.String("message_id", msgID))
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	if telemetry.EventSubReceived != nil {
		telemetry.EventSubReceived.WithLabelValues(msgType).Inc()
	}

	var payload twitchapi.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch msgType {
	case twitchapi.MessageVerification:
		log.Info("eventsub verification challenge received", slog.String("subscription_id", payload.Subscription.ID))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(payload.Challenge))
	case twitchapi.MessageRevocation:
		log.Warn("eventsub subscription revoked",
			slog.String("subscription_id", payload.Subscription.ID),
			slog.String("status", payload.Subscription.Status))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case twitchapi.MessageNotification:
		if payload.Subscription.Type == twitchapi.SubscriptionStreamOnline {
			login := strings.ToLower(payload.Event.BroadcasterUserLogin)
			log.Info("stream online", slog.String("channel", login))
			if b := h.broadcaster(); b != nil && login != "" {
				b.Broadcast(notify.Message{Type: notify.TypeStreamOnline, Channel: login, Data: map[string]string{"startedAt": payload.Event.StartedAt}})
			}
		} else {
			log.Debug("eventsub notification ignored", slog.String("type", payload.Subscription.Type))
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	default:
		writeError(w, http.StatusBadRequest, "unknown message type")
	}
}

// HandleEventSubSubscribe ensures a stream.online subscription for the posted channel.
func (h *Handlers) HandleEventSubSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	// Twitch cannot reach a local server
	if !h.deps.Config.PublicCallback() {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Skipped - EventSub requires a public HTTPS URL",
			"skipped": true,
		})
		return
	}
	if !h.eventSubReady(w) {
		return
	}
	sub, existed, err := h.deps.Helix.EnsureStreamOnline(r.Context(), channel, EventSubCallback(h.deps.Config), h.deps.Config.EventSubSecret)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "channel not found")
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("eventsub subscribe failed", slog.String("channel", channel), slog.Any("err", err), slog.String("component", "eventsub"))
		writeError(w, http.StatusBadGateway, "failed to subscribe to EventSub")
		return
	}
	msg := "Subscribed to stream.online"
	if existed {
		msg = "Already subscribed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        msg,
		"channel":        channel,
		"subscriptionId": sub.ID,
		"userId":         sub.Condition["broadcaster_user_id"],
	})
}

// HandleEventSubList returns every subscription of the application.
func (h *Handlers) HandleEventSubList(w http.ResponseWriter, r *http.Request) {
	if !h.eventSubReady(w) {
		return
	}
	subs, err := h.deps.Helix.ListSubscriptions(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("eventsub list failed", slog.Any("err", err), slog.String("component", "eventsub"))
		writeError(w, http.StatusBadGateway, "failed to get subscriptions")
		return
	}
	if subs == nil {
		subs = []twitchapi.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// HandleEventSubDelete removes the subscription named by the id query parameter.
func (h *Handlers) HandleEventSubDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}
	if !h.eventSubReady(w) {
		return
	}
	if err := h.deps.Helix.DeleteSubscription(r.Context(), id); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("eventsub delete failed", slog.String("id", id), slog.Any("err", err), slog.String("component", "eventsub"))
		writeError(w, http.StatusBadGateway, "failed to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Subscription deleted"})
}

func (h *Handlers) eventSubReady(w http.ResponseWriter) bool {
	if h.deps.Helix == nil {
		writeError(w, http.StatusServiceUnavailable, "eventsub not configured")
		return false
	}
	return true
}

// SubscribeChannels ensures stream.online subscriptions for every channel and
// logs the outcome. Failures are logged and do not stop the remaining channels.
func SubscribeChannels(ctx context.Context, helix *twitchapi.HelixClient, cfg *config.Config, channels []string) {
	callback := EventSubCallback(cfg)
	for _, ch := range channels {
		sub, existed, err := helix.EnsureStreamOnline(ctx, ch, callback, cfg.EventSubSecret)
		if err != nil {
			slog.Warn("eventsub subscribe failed", slog.String("channel", ch), slog.Any("err", err), slog.String("component", "eventsub"))
			continue
		}
		slog.Info("eventsub stream.online ready", slog.String("channel", ch), slog.String("subscription_id", sub.ID), slog.Bool("existed", existed), slog.String("component", "eventsub"))
	}
}
