// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and stream.online EventSub subscriptions, using an
// app access token.
package twitchapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login resolves to no user.
var ErrUserNotFound = errors.New("user not found")

// HelixClient provides the Helix calls the overlay needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	// BaseURL overrides DefaultBaseURL.
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) url(path string) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + path
}

// do sends an authenticated request and decodes a JSON response into out
// (when non-nil). Any status outside 2xx is an error carrying the body.
func (hc *HelixClient) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.url(path), rdr)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		hc.AppTokenSource.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("helix %s %s failed: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", map[string]string{"login": login}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", ErrUserNotFound
	}
	return body.Data[0].ID, nil
}

// Subscription is an EventSub subscription as returned by Helix.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	CreatedAt string            `json:"created_at"`
	Transport struct {
		Method   string `json:"method"`
		Callback string `json:"callback"`
	} `json:"transport"`
}

// ListSubscriptions returns every EventSub subscription of the application.
func (hc *HelixClient) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	cursor := ""
	for {
		query := map[string]string{}
		if cursor != "" {
			query["after"] = cursor
		}
		var body struct {
			Data       []Subscription `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.do(ctx, http.MethodGet, "/eventsub/subscriptions", query, nil, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
		if body.Pagination.Cursor == "" || body.Pagination.Cursor == cursor {
			return out, nil
		}
		cursor = body.Pagination.Cursor
	}
}

// FindStreamOnline returns the existing stream.online subscription for
// broadcasterID, if any.
func FindStreamOnline(subs []Subscription, broadcasterID string) (Subscription, bool) {
	for _, s := range subs {
		if s.Type == SubscriptionStreamOnline && s.Condition["broadcaster_user_id"] == broadcasterID {
			return s, true
		}
	}
	return Subscription{}, false
}

// CreateStreamOnlineSubscription registers a stream.online webhook for the broadcaster.
func (hc *HelixClient) CreateStreamOnlineSubscription(ctx context.Context, broadcasterID, callbackURL, secret string) (Subscription, error) {
	if broadcasterID == "" || callbackURL == "" || secret == "" {
		return Subscription{}, fmt.Errorf("broadcaster id, callback and secret are required")
	}
	req := map[string]any{
		"type":    SubscriptionStreamOnline,
		"version": "1",
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callbackURL,
			"secret":   secret,
		},
	}
	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, req, &body); err != nil {
		return Subscription{}, err
	}
	if len(body.Data) == 0 {
		return Subscription{}, fmt.Errorf("subscription response empty")
	}
	return body.Data[0], nil
}

// DeleteSubscription removes a subscription by id.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("subscription id empty")
	}
	return hc.do(ctx, http.MethodDelete, "/eventsub/subscriptions", map[string]string{"id": id}, nil, nil)
}

// EnsureStreamOnline makes sure the broadcaster with login has a stream.online
// webhook. An existing subscription is reused and reported with existed=true.
func (hc *HelixClient) EnsureStreamOnline(ctx context.Context, login, callbackURL, secret string) (sub Subscription, existed bool, err error) {
	userID, err := hc.GetUserID(ctx, login)
	if err != nil {
		return Subscription{}, false, fmt.Errorf("resolve %s: %w", login, err)
	}
	subs, err := hc.ListSubscriptions(ctx)
	if err != nil {
		return Subscription{}, false, fmt.Errorf("list subscriptions: %w", err)
	}
	if s, ok := FindStreamOnline(subs, userID); ok {
		return s, true, nil
	}
	sub, err = hc.CreateStreamOnlineSubscription(ctx, userID, callbackURL, secret)
	if err != nil {
		return Subscription{}, false, fmt.Errorf("create subscription: %w", err)
	}
	return sub, false, nil
}
