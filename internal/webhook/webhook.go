// Package webhook implements the HTTP callback endpoint Twitch EventSub
// delivers to: handshake confirmations, live-stream notifications, and
// revocation notices all arrive on a single path and are told apart by the
// message-type header.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"streamping/internal/models"
	"streamping/internal/registry"
	"streamping/internal/twitch"
)

// Server configuration constants.
const (
	// MaxBodyBytes caps the size of an accepted callback body.
	MaxBodyBytes = 1 << 20
	// DefaultRelayTimeout bounds the background relay work spawned per
	// accepted notification.
	DefaultRelayTimeout = 30 * time.Second
)

// SubscriptionStore is the slice of the storage collaborator the endpoint
// needs.
type SubscriptionStore interface {
	GetActiveSubscription(subjectID string) (*models.ActiveSubscription, error)
	UpsertActiveSubscription(sub models.ActiveSubscription) error
	UpdateSubscriptionStatus(subscriptionID, status string) error
	CompareAndSwapStream(subjectID, streamID string) (bool, error)
}

// Relayer fans an accepted live event out to subscribers.
type Relayer interface {
	Relay(ctx context.Context, subjectID, streamID string)
}

// payload is the body shape shared by all EventSub callback messages; which
// fields are populated depends on the message type.
type payload struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Type      string `json:"type"`
		Condition struct {
			BroadcasterUserID string `json:"broadcaster_user_id"`
		} `json:"condition"`
	} `json:"subscription"`
	Event struct {
		ID                string `json:"id"`
		BroadcasterUserID string `json:"broadcaster_user_id"`
		Type              string `json:"type"`
	} `json:"event"`
}

// Server handles the EventSub callback path. The protocol never requires an
// error status: anything that fails authentication or matching is dropped
// with a 200 and no body, so probes learn nothing.
type Server struct {
	store        SubscriptionStore
	registry     *registry.Registry
	relay        Relayer
	replayWindow time.Duration
	relayTimeout time.Duration
}

// NewServer creates the webhook endpoint handler.
func NewServer(store SubscriptionStore, reg *registry.Registry, relay Relayer) *Server {
	return &Server{
		store:        store,
		registry:     reg,
		relay:        relay,
		replayWindow: twitch.DefaultReplayWindow,
		relayTimeout: DefaultRelayTimeout,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.ServeHTTP: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		slog.Warn("Server.ServeHTTP: failed to read body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !twitch.FreshTimestamp(r.Header, s.replayWindow) {
		slog.Warn("Server.ServeHTTP: stale or missing message timestamp",
			"message_id", r.Header.Get(twitch.HeaderMessageID))
		w.WriteHeader(http.StatusOK)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		slog.Warn("Server.ServeHTTP: failed to decode JSON", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	msgType := r.Header.Get(twitch.HeaderMessageType)
	slog.Debug("Server.ServeHTTP: callback received", "type", msgType,
		"message_id", r.Header.Get(twitch.HeaderMessageID), "subscription", p.Subscription.ID)

	switch msgType {
	case twitch.MessageTypeVerification:
		s.handleVerification(w, r, body, p)
	case twitch.MessageTypeNotification:
		s.handleNotification(w, r, body, p)
	case twitch.MessageTypeRevocation:
		s.handleRevocation(w, r, body, p)
	default:
		slog.Debug("Server.ServeHTTP: ignoring unknown message type", "type", msgType)
		w.WriteHeader(http.StatusOK)
	}
}

// handleVerification completes the subscription handshake: it matches the
// callback against a pending create call, checks the signature with that
// call's secret, promotes the subscription to active, and echoes the
// challenge. Anything that does not line up gets an empty 200 and no state
// change.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request, body []byte, p payload) {
	subject := p.Subscription.Condition.BroadcasterUserID
	pending, ok := s.registry.Pending(p.Subscription.ID, subject)
	if !ok {
		slog.Warn("Server.handleVerification: no matching pending subscription",
			"subscription", p.Subscription.ID, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !twitch.VerifySignature(r.Header, body, pending.Secret) {
		slog.Warn("Server.handleVerification: signature verification failed",
			"subscription", p.Subscription.ID, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}

	err := s.store.UpsertActiveSubscription(models.ActiveSubscription{
		SubscriptionID: pending.RequestID,
		SubjectID:      pending.SubjectID,
		Secret:         pending.Secret,
		Status:         models.StatusEnabled,
	})
	if err != nil {
		// Leave the entry pending; Twitch retries the handshake.
		slog.Error("Server.handleVerification: failed to persist subscription", "error", err, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.registry.RemovePending(pending.RequestID)

	slog.Info("Server.handleVerification: subscription confirmed",
		"subscription", pending.RequestID, "subject", subject)

	// The response body must be exactly the challenge value.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, p.Challenge); err != nil {
		slog.Error("Server.handleVerification: failed to write challenge", "error", err)
	}
}

// handleNotification authenticates a live-event callback against the
// subject's active subscription, collapses repeat deliveries of the same
// stream, and hands accepted events to the relay without holding up the
// HTTP response.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request, body []byte, p payload) {
	subject := p.Subscription.Condition.BroadcasterUserID
	if subject == "" {
		subject = p.Event.BroadcasterUserID
	}

	active, err := s.store.GetActiveSubscription(subject)
	if err != nil {
		slog.Error("Server.handleNotification: failed to look up subscription", "error", err, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	if active == nil {
		slog.Warn("Server.handleNotification: no active subscription for subject", "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !twitch.VerifySignature(r.Header, body, active.Secret) {
		slog.Warn("Server.handleNotification: signature verification failed", "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}

	// stream.online carries a type field; anything but a live broadcast
	// (reruns, premieres) is not announced.
	if p.Event.Type != "" && p.Event.Type != "live" {
		slog.Debug("Server.handleNotification: ignoring non-live event", "subject", subject, "event_type", p.Event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}
	streamID := p.Event.ID
	if streamID == "" {
		slog.Warn("Server.handleNotification: event carried no stream id", "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}

	shouldRelay, err := s.store.CompareAndSwapStream(subject, streamID)
	if err != nil {
		slog.Error("Server.handleNotification: dedup check failed", "error", err, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !shouldRelay {
		slog.Debug("Server.handleNotification: duplicate stream event", "subject", subject, "stream", streamID)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Relay in the background so slow Discord sends never delay the
	// acknowledgement Twitch is waiting for.
	timeout := s.relayTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.relay.Relay(ctx, subject, streamID)
	}()

	w.WriteHeader(http.StatusOK)
}

// handleRevocation mirrors the remote status onto the stored subscription so
// the next reconciliation cycle re-creates it. Revocations are signed with
// the same secret as notifications.
func (s *Server) handleRevocation(w http.ResponseWriter, r *http.Request, body []byte, p payload) {
	subject := p.Subscription.Condition.BroadcasterUserID
	active, err := s.store.GetActiveSubscription(subject)
	if err != nil || active == nil {
		slog.Warn("Server.handleRevocation: revocation for unknown subscription", "error", err, "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !twitch.VerifySignature(r.Header, body, active.Secret) {
		slog.Warn("Server.handleRevocation: signature verification failed", "subject", subject)
		w.WriteHeader(http.StatusOK)
		return
	}
	slog.Warn("Server.handleRevocation: subscription revoked",
		"subscription", p.Subscription.ID, "subject", p.Subscription.Condition.BroadcasterUserID,
		"status", p.Subscription.Status)
	if err := s.store.UpdateSubscriptionStatus(p.Subscription.ID, p.Subscription.Status); err != nil {
		slog.Error("Server.handleRevocation: failed to record revocation", "error", err, "subscription", p.Subscription.ID)
	}
	w.WriteHeader(http.StatusOK)
}
