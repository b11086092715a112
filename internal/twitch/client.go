package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Default endpoints and client configuration.
const (
	DefaultHelixURL = "https://api.twitch.tv/helix"
	DefaultAuthURL  = "https://id.twitch.tv/oauth2"
	// DefaultTimeout bounds every outbound call to the Twitch API.
	DefaultTimeout = 15 * time.Second
)

// TokenSource supplies the current app access token. The registry implements
// it; the reconciliation loop keeps the token fresh.
type TokenSource interface {
	Token() string
}

// User is a Twitch user record, as returned by the Helix users endpoint.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Subscription is a webhook subscription as reported by the EventSub API.
type Subscription struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
}

// SubjectID returns the broadcaster user id the subscription watches.
func (s Subscription) SubjectID() string {
	return s.Condition.BroadcasterUserID
}

// streamOnlineType is the EventSub subscription type this service manages.
const streamOnlineType = "stream.online"

// Opts holds configuration options for the Twitch client.
type Opts struct {
	ClientID     string
	ClientSecret string
	HelixURL     string
	AuthURL      string
	HTTPClient   *http.Client
	Tokens       TokenSource
}

// Option defines a configuration option for the Twitch client.
type Option func(*Opts)

// WithCredentials sets the application client id and secret.
func WithCredentials(clientID, clientSecret string) Option {
	return func(o *Opts) {
		o.ClientID = clientID
		o.ClientSecret = clientSecret
	}
}

// WithTokenSource sets the source of the app access token.
func WithTokenSource(ts TokenSource) Option {
	return func(o *Opts) {
		o.Tokens = ts
	}
}

// WithHTTPClient overrides the HTTP client (primarily for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithBaseURLs overrides the Helix and auth endpoints (primarily for tests).
func WithBaseURLs(helixURL, authURL string) Option {
	return func(o *Opts) {
		o.HelixURL = helixURL
		o.AuthURL = authURL
	}
}

// Client talks to the Twitch Helix and OAuth endpoints.
type Client struct {
	clientID     string
	clientSecret string
	helixURL     string
	authURL      string
	httpClient   *http.Client
	tokens       TokenSource
}

// NewClient creates a Twitch API client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("twitch client credentials not set")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("twitch token source not set")
	}
	if cfg.HelixURL == "" {
		cfg.HelixURL = DefaultHelixURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		helixURL:     cfg.HelixURL,
		authURL:      cfg.AuthURL,
		httpClient:   cfg.HTTPClient,
		tokens:       cfg.Tokens,
	}, nil
}

// FetchToken requests a new app access token via the client-credentials
// grant. The caller stores the returned token.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("client_secret", c.clientSecret)
	q.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError("POST", "/token", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}
	slog.Debug("Client.FetchToken: obtained app access token", "expires_in", body.ExpiresIn)
	return body.AccessToken, nil
}

// ValidateToken returns the remaining lifetime of the current token in
// seconds. An invalid or rejected token reports zero lifetime rather than an
// error, so callers treat it the same as an absent token.
func (c *Client) ValidateToken(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/validate", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+c.tokens.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("validate request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		slog.Debug("Client.ValidateToken: token rejected")
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apiError("GET", "/validate", resp)
	}

	var body struct {
		ExpiresIn int `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode validate response: %w", err)
	}
	return body.ExpiresIn, nil
}

// ListSubscriptions returns every EventSub subscription registered for this
// application, following pagination cursors.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	cursor := ""
	for {
		endpoint := c.helixURL + "/eventsub/subscriptions"
		if cursor != "" {
			endpoint += "?after=" + url.QueryEscape(cursor)
		}
		resp, err := c.helixDo(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var body struct {
			Data       []Subscription `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode subscription list: %w", err)
		}
		subs = append(subs, body.Data...)
		if body.Pagination.Cursor == "" {
			return subs, nil
		}
		cursor = body.Pagination.Cursor
	}
}

// CreateSubscription registers a stream.online webhook subscription for a
// broadcaster and returns the subscription id assigned by Twitch. The
// subscription stays in the verification-pending state until the callback
// handshake completes.
func (c *Client) CreateSubscription(ctx context.Context, subjectID, callbackURL, secret string) (string, error) {
	payload := map[string]interface{}{
		"type":    streamOnlineType,
		"version": "1",
		"condition": map[string]string{
			"broadcaster_user_id": subjectID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": callbackURL,
			"secret":   secret,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal create request: %w", err)
	}

	resp, err := c.helixDo(ctx, http.MethodPost, c.helixURL+"/eventsub/subscriptions", raw)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("create response contained no subscription")
	}
	slog.Debug("Client.CreateSubscription: subscription requested", "subject", subjectID, "subscription", body.Data[0].ID)
	return body.Data[0].ID, nil
}

// DeleteSubscription removes an EventSub subscription by id. Deleting a
// subscription that is already gone is not an error.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	endpoint := c.helixURL + "/eventsub/subscriptions?id=" + url.QueryEscape(subscriptionID)
	resp, err := c.helixDo(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetUserByLogin resolves a user by login name. Returns nil when no such
// user exists.
func (c *Client) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	return c.getUser(ctx, "login", login)
}

// GetUserByID resolves a user by id. Returns nil when no such user exists.
func (c *Client) GetUserByID(ctx context.Context, id string) (*User, error) {
	return c.getUser(ctx, "id", id)
}

func (c *Client) getUser(ctx context.Context, key, value string) (*User, error) {
	endpoint := c.helixURL + "/users?" + key + "=" + url.QueryEscape(value)
	resp, err := c.helixDo(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// helixDo performs an authenticated Helix request and returns the response
// when the status is successful. 404 on DELETE passes through as success.
func (c *Client) helixDo(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, apiError(method, endpoint, resp)
}

// apiError summarizes a non-2xx response, including a snippet of the body.
func apiError(method, endpoint string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("twitch API %s %s: status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
}
