package twitchapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// EventSub webhook headers.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// EventSub message types.
const (
	MessageVerification = "webhook_callback_verification"
	MessageNotification = "notification"
	MessageRevocation   = "revocation"
)

// SubscriptionStreamOnline is the only subscription type the overlay uses.
const SubscriptionStreamOnline = "stream.online"

// Sign returns the "sha256=<hex>" signature Twitch sends for a message.
func Sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an EventSub message signature in constant time.
func VerifySignature(secret, messageID, timestamp string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(secret, messageID, timestamp, body)))
}

// WebhookPayload is the body of an EventSub webhook request.
type WebhookPayload struct {
	Challenge    string       `json:"challenge"`
	Subscription Subscription `json:"subscription"`
	Event        struct {
		ID                   string `json:"id"`
		BroadcasterUserID    string `json:"broadcaster_user_id"`
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
		BroadcasterUserName  string `json:"broadcaster_user_name"`
		Type                 string `json:"type"`
		StartedAt            string `json:"started_at"`
	} `json:"event"`
}
