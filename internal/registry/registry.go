// Package registry holds the mutable process state shared by the webhook
// endpoint and the reconciliation loop: the set of subscriptions awaiting
// their callback handshake, and the Twitch app access token.
//
// Both are process-local on purpose. A pending handshake that dies with the
// process is simply re-issued by the next reconciliation cycle, and the token
// is re-fetched on startup.
package registry

import (
	"sync"

	"streamping/internal/models"
)

// Registry is safe for concurrent use by HTTP handlers and the
// reconciliation goroutine.
type Registry struct {
	mu      sync.Mutex
	pending map[string]models.PendingSubscription // keyed by request id
	token   string
}

func New() *Registry {
	return &Registry{pending: make(map[string]models.PendingSubscription)}
}

// AddPending records a subscription awaiting handshake. Any older pending
// entry for the same subject is dropped: its request id is dead on the Twitch
// side once a newer create call has been issued.
func (r *Registry) AddPending(p models.PendingSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.pending {
		if existing.SubjectID == p.SubjectID {
			delete(r.pending, id)
		}
	}
	r.pending[p.RequestID] = p
}

// Pending returns the pending entry matching both the request id and the
// subject, without removing it. The caller verifies the handshake signature
// against the entry's secret before committing to any state change.
func (r *Registry) Pending(requestID, subjectID string) (models.PendingSubscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if !ok || p.SubjectID != subjectID {
		return models.PendingSubscription{}, false
	}
	return p, true
}

// RemovePending drops a pending entry once its handshake has been confirmed.
// Removing makes handshake replays no-ops.
func (r *Registry) RemovePending(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

// PendingCount returns the number of subscriptions awaiting handshake.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Token returns the current app access token, or "" when none is held.
func (r *Registry) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// SetToken replaces the app access token.
func (r *Registry) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}
