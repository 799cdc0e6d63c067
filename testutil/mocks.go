package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix, EventSub and OAuth responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu            sync.Mutex
	subscriptions []map[string]any
	nextSubID     int
	// Requests counts handled requests per path.
	Requests map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		Requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.Requests[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to give a HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint to give a TokenSource.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// RequestCount returns how many requests hit path.
func (m *MockTwitchServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests[path]
}

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if r.URL.Query().Get("login") == login {
			data = append(data, map[string]string{"id": userID, "login": login})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// AddSubscription seeds an existing EventSub subscription.
func (m *MockTwitchServer) AddSubscription(subType, broadcasterID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := fmt.Sprintf("sub-%d", m.nextSubID)
	m.subscriptions = append(m.subscriptions, map[string]any{
		"id":        id,
		"status":    "enabled",
		"type":      subType,
		"version":   "1",
		"condition": map[string]string{"broadcaster_user_id": broadcasterID},
	})
	return id
}

// Subscriptions returns a copy of the stored subscriptions.
func (m *MockTwitchServer) Subscriptions() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.subscriptions...)
}

// MockEventSub adds an in-memory /helix/eventsub/subscriptions endpoint
// supporting list, create and delete.
func (m *MockTwitchServer) MockEventSub() {
	m.handle("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"data": m.Subscriptions(), "pagination": map[string]string{}})
		case http.MethodPost:
			var req struct {
				Type      string            `json:"type"`
				Condition map[string]string `json:"condition"`
				Transport map[string]string `json:"transport"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Transport["secret"] == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad request"})
				return
			}
			id := m.AddSubscription(req.Type, req.Condition["broadcaster_user_id"])
			writeJSON(w, http.StatusAccepted, map[string]any{"data": []map[string]any{{
				"id": id, "status": "webhook_callback_verification_pending", "type": req.Type, "version": "1",
				"condition": req.Condition,
				"transport": map[string]string{"method": "webhook", "callback": req.Transport["callback"]},
			}}})
		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			m.mu.Lock()
			kept := m.subscriptions[:0]
			found := false
			for _, s := range m.subscriptions {
				if s["id"] == id {
					found = true
					continue
				}
				kept = append(kept, s)
			}
			m.subscriptions = kept
			m.mu.Unlock()
			if !found {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
