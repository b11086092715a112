package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticTokens string

func (t staticTokens) Token() string { return string(t) }

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(
		WithCredentials("cid", "csecret"),
		WithTokenSource(staticTokens("tok")),
		WithBaseURLs(srv.URL, srv.URL),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestFetchToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "newtok", "expires_in": 5000000})
	}))

	tok, err := c.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "newtok" {
		t.Errorf("expected newtok, got %q", tok)
	}
}

func TestValidateToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth tok" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]int{"expires_in": 86400})
	}))

	secs, err := c.ValidateToken(context.Background())
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if secs != 86400 {
		t.Errorf("expected 86400, got %d", secs)
	}
}

func TestValidateTokenRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	secs, err := c.ValidateToken(context.Background())
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if secs != 0 {
		t.Errorf("rejected token should report zero lifetime, got %d", secs)
	}
}

func TestListSubscriptionsPaginates(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "cid" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing helix auth headers")
		}
		page := map[string]interface{}{
			"data":       []map[string]interface{}{{"id": "sub-2", "status": "enabled"}},
			"pagination": map[string]string{},
		}
		if r.URL.Query().Get("after") == "" {
			page = map[string]interface{}{
				"data":       []map[string]interface{}{{"id": "sub-1", "status": "enabled"}},
				"pagination": map[string]string{"cursor": "next"},
			}
		}
		json.NewEncoder(w).Encode(page)
	}))

	subs, err := c.ListSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != "sub-1" || subs[1].ID != "sub-2" {
		t.Errorf("unexpected subscriptions: %+v", subs)
	}
}

func TestCreateSubscription(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Type      string `json:"type"`
			Version   string `json:"version"`
			Condition struct {
				BroadcasterUserID string `json:"broadcaster_user_id"`
			} `json:"condition"`
			Transport struct {
				Method   string `json:"method"`
				Callback string `json:"callback"`
				Secret   string `json:"secret"`
			} `json:"transport"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode create payload: %v", err)
		}
		if payload.Type != "stream.online" || payload.Condition.BroadcasterUserID != "abc123" {
			t.Errorf("unexpected payload: %+v", payload)
		}
		if payload.Transport.Callback != "https://example.com/webhook" || payload.Transport.Secret != "s1" {
			t.Errorf("unexpected transport: %+v", payload.Transport)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"id": "sub-1", "status": "webhook_callback_verification_pending"}},
		})
	}))

	id, err := c.CreateSubscription(context.Background(), "abc123", "https://example.com/webhook", "s1")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if id != "sub-1" {
		t.Errorf("expected sub-1, got %q", id)
	}
}

func TestDeleteSubscriptionToleratesMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := c.DeleteSubscription(context.Background(), "gone"); err != nil {
		t.Errorf("deleting a missing subscription should succeed, got %v", err)
	}
}

func TestGetUserByLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("login"); got != "somestreamer" {
			t.Errorf("unexpected login %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "abc123", "login": "somestreamer", "display_name": "SomeStreamer"}},
		})
	}))

	user, err := c.GetUserByLogin(context.Background(), "somestreamer")
	if err != nil {
		t.Fatalf("GetUserByLogin: %v", err)
	}
	if user == nil || user.ID != "abc123" || user.DisplayName != "SomeStreamer" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestGetUserByIDNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
	}))

	user, err := c.GetUserByID(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil for unknown user, got %+v", user)
	}
}
