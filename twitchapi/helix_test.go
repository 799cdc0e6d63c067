package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/combo-overlay/backend/testutil"
)

func newTestClient(m *testutil.MockTwitchServer) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", TokenURL: m.TokenURL()}
	return &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", BaseURL: m.HelixURL()}
}

func TestHelixClient_GetUserID(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.MockUserResponse("12345", "testuser")
	client := newTestClient(m)

	tests := []struct {
		name        string
		login       string
		wantUserID  string
		errContains string
	}{
		{name: "successful user lookup", login: "testuser", wantUserID: "12345"},
		{name: "user not found", login: "nonexistent", errContains: "user not found"},
		{name: "empty login", login: "", errContains: "login empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := client.GetUserID(context.Background(), tt.login)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
	if n := m.RequestCount("/oauth2/token"); n != 1 {
		t.Errorf("token requested %d times, want 1", n)
	}
}

func TestHelixClient_SendsHeaders(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"1"}]}`))
	}
	if _, err := newTestClient(m).GetUserID(context.Background(), "x"); err != nil {
		t.Fatalf("GetUserID() error = %v", err)
	}
}

func TestHelixClient_Subscriptions(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.MockEventSub()
	client := newTestClient(m)
	ctx := context.Background()

	subs, err := client.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("ListSubscriptions() = %d subs, want 0", len(subs))
	}

	sub, err := client.CreateStreamOnlineSubscription(ctx, "42", "https://overlay.example.com/eventsub", "s3cret-s3cret")
	if err != nil {
		t.Fatalf("CreateStreamOnlineSubscription() error = %v", err)
	}
	if sub.ID == "" || sub.Type != SubscriptionStreamOnline {
		t.Errorf("created subscription = %+v", sub)
	}

	subs, err = client.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions() error = %v", err)
	}
	found, ok := FindStreamOnline(subs, "42")
	if !ok || found.ID != sub.ID {
		t.Errorf("FindStreamOnline() = %+v, %v; want %s", found, ok, sub.ID)
	}
	if _, ok := FindStreamOnline(subs, "43"); ok {
		t.Error("FindStreamOnline() matched another broadcaster")
	}

	if err := client.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubscription() error = %v", err)
	}
	if err := client.DeleteSubscription(ctx, sub.ID); err == nil {
		t.Error("DeleteSubscription() of a missing id succeeded")
	}
	if err := client.DeleteSubscription(ctx, ""); err == nil {
		t.Error("DeleteSubscription(\"\") succeeded")
	}
}

func TestHelixClient_CreateValidatesInput(t *testing.T) {
	client := &HelixClient{AppTokenSource: &TokenSource{}}
	if _, err := client.CreateStreamOnlineSubscription(context.Background(), "", "cb", "secret"); err == nil {
		t.Error("want error for empty broadcaster id")
	}
}

func TestHelixClient_UnauthorizedInvalidatesToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}
	client := newTestClient(m)
	if _, err := client.GetUserID(context.Background(), "x"); err == nil {
		t.Fatal("GetUserID() error = nil, want 401 error")
	}
	client.AppTokenSource.mu.RLock()
	tok, exp := client.AppTokenSource.token, client.AppTokenSource.expiresAt
	client.AppTokenSource.mu.RUnlock()
	if tok != "" || !exp.Before(time.Now()) {
		t.Errorf("token not invalidated after 401: %q", tok)
	}
}

func TestHelixClient_EnsureStreamOnline(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.MockUserResponse("42", "streamer")
	m.MockEventSub()
	client := newTestClient(m)
	ctx := context.Background()

	sub, existed, err := client.EnsureStreamOnline(ctx, "streamer", "https://overlay.example.com/eventsub", "s3cret-s3cret")
	if err != nil {
		t.Fatalf("EnsureStreamOnline() error = %v", err)
	}
	if existed {
		t.Error("first call reported an existing subscription")
	}

	again, existed, err := client.EnsureStreamOnline(ctx, "streamer", "https://overlay.example.com/eventsub", "s3cret-s3cret")
	if err != nil {
		t.Fatalf("EnsureStreamOnline() error = %v", err)
	}
	if !existed || again.ID != sub.ID {
		t.Errorf("second call = %+v existed=%v, want reuse of %s", again, existed, sub.ID)
	}
	if n := len(m.Subscriptions()); n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}

	_, _, err = client.EnsureStreamOnline(ctx, "nobody", "https://overlay.example.com/eventsub", "s3cret-s3cret")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("EnsureStreamOnline(nobody) error = %v, want ErrUserNotFound", err)
	}
}
