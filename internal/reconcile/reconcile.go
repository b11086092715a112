// Package reconcile aligns the webhook subscriptions registered with Twitch
// against the set of streamers that actually have subscribers. It runs as a
// single background loop: refresh the app token, list the remote
// subscriptions, delete the unwanted and broken ones, and re-create whatever
// is missing.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"streamping/internal/models"
	"streamping/internal/registry"
	"streamping/internal/twitch"
	"streamping/internal/util"
)

// Loop configuration constants.
const (
	// DefaultPeriod is the reconciliation interval.
	DefaultPeriod = 24 * time.Hour
	// TokenRenewalMargin is added to the period when deciding whether the
	// token survives until the next cycle.
	TokenRenewalMargin = time.Hour
)

// TwitchAPI is the slice of the Twitch client the loop needs.
type TwitchAPI interface {
	ValidateToken(ctx context.Context) (int, error)
	FetchToken(ctx context.Context) (string, error)
	ListSubscriptions(ctx context.Context) ([]twitch.Subscription, error)
	CreateSubscription(ctx context.Context, subjectID, callbackURL, secret string) (string, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

// SubjectSource lists the subjects that still have at least one subscriber.
type SubjectSource interface {
	ListSubjectsWithSubscribers() ([]string, error)
}

// Loop drives the reconciliation cycle. All cycles run on one goroutine, so
// two cycles never overlap.
type Loop struct {
	twitch      TwitchAPI
	store       SubjectSource
	registry    *registry.Registry
	callbackURL string
	period      time.Duration
	kick        chan struct{}
}

// New creates a reconciliation loop posting callbacks to callbackURL.
func New(api TwitchAPI, store SubjectSource, reg *registry.Registry, callbackURL string) *Loop {
	return &Loop{
		twitch:      api,
		store:       store,
		registry:    reg,
		callbackURL: callbackURL,
		period:      DefaultPeriod,
		kick:        make(chan struct{}, 1),
	}
}

// Kick requests an extra cycle outside the regular schedule, e.g. right
// after a subscriber was added or removed. Safe to call from any goroutine;
// kicks coalesce while a cycle is running.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run executes one cycle immediately, then one per kick until the context is
// cancelled. The periodic schedule kicks via the scheduler.
func (l *Loop) Run(ctx context.Context) {
	l.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.kick:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle performs the ordered reconciliation phases. Per-subscription
// failures are logged and skipped; only a failure to obtain a token or the
// remote subscription list aborts the cycle, since every later phase depends
// on them. The next cycle retries whatever was left behind.
func (l *Loop) RunCycle(ctx context.Context) {
	slog.Info("Loop.RunCycle: reconciliation cycle starting")

	if err := l.ensureToken(ctx); err != nil {
		slog.Error("Loop.RunCycle: token refresh failed, aborting cycle", "error", err)
		return
	}

	remote, err := l.twitch.ListSubscriptions(ctx)
	if err != nil {
		slog.Error("Loop.RunCycle: failed to list remote subscriptions, aborting cycle", "error", err)
		return
	}

	subjects, err := l.store.ListSubjectsWithSubscribers()
	if err != nil {
		slog.Error("Loop.RunCycle: failed to list wanted subjects, aborting cycle", "error", err)
		return
	}
	wanted := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		wanted[s] = true
	}

	survivors := l.pruneUnwanted(ctx, remote, wanted)
	enabled := l.pruneInvalid(ctx, survivors)
	l.renewLapsed(ctx, subjects, enabled)

	slog.Info("Loop.RunCycle: reconciliation cycle complete",
		"remote", len(remote), "wanted", len(subjects), "pending", l.registry.PendingCount())
}

// ensureToken validates the current app token's remaining lifetime and
// replaces it when it is absent or would expire before the cycle after this
// one.
func (l *Loop) ensureToken(ctx context.Context) error {
	threshold := int((l.period + TokenRenewalMargin).Seconds())

	if l.registry.Token() != "" {
		remaining, err := l.twitch.ValidateToken(ctx)
		if err != nil {
			slog.Warn("Loop.ensureToken: validation call failed, fetching fresh token", "error", err)
		} else if remaining >= threshold {
			slog.Debug("Loop.ensureToken: token still valid", "remaining_s", remaining)
			return nil
		} else {
			slog.Info("Loop.ensureToken: token below renewal threshold", "remaining_s", remaining, "threshold_s", threshold)
		}
	}

	token, err := l.twitch.FetchToken(ctx)
	if err != nil {
		return err
	}
	l.registry.SetToken(token)
	slog.Info("Loop.ensureToken: app access token refreshed")
	return nil
}

// pruneUnwanted deletes remote subscriptions for subjects that no longer
// have any subscriber, and returns the remaining subscriptions.
func (l *Loop) pruneUnwanted(ctx context.Context, remote []twitch.Subscription, wanted map[string]bool) []twitch.Subscription {
	var survivors []twitch.Subscription
	for _, sub := range remote {
		if wanted[sub.SubjectID()] {
			survivors = append(survivors, sub)
			continue
		}
		slog.Info("Loop.pruneUnwanted: deleting unwanted subscription", "subject", sub.SubjectID(), "subscription", sub.ID)
		if err := l.twitch.DeleteSubscription(ctx, sub.ID); err != nil {
			slog.Error("Loop.pruneUnwanted: delete failed", "error", err, "subject", sub.SubjectID(), "subscription", sub.ID)
		}
	}
	return survivors
}

// pruneInvalid deletes wanted subscriptions that are not enabled (revoked,
// failed, expired). They cannot be repaired, only re-created. Returns the
// set of subjects that still have an enabled subscription.
func (l *Loop) pruneInvalid(ctx context.Context, subs []twitch.Subscription) map[string]bool {
	enabled := make(map[string]bool)
	for _, sub := range subs {
		if sub.Status == models.StatusEnabled {
			enabled[sub.SubjectID()] = true
			continue
		}
		slog.Info("Loop.pruneInvalid: deleting dead subscription", "subject", sub.SubjectID(), "subscription", sub.ID, "status", sub.Status)
		if err := l.twitch.DeleteSubscription(ctx, sub.ID); err != nil {
			slog.Error("Loop.pruneInvalid: delete failed", "error", err, "subject", sub.SubjectID(), "subscription", sub.ID)
		}
	}
	return enabled
}

// renewLapsed issues a subscription-create call for every wanted subject
// without an enabled subscription, each with a fresh secret, and registers
// the pending entry the handshake will complete.
func (l *Loop) renewLapsed(ctx context.Context, subjects []string, enabled map[string]bool) {
	for _, subject := range subjects {
		if enabled[subject] {
			continue
		}
		secret := util.GenerateSecret(util.DefaultSecretBytes)
		requestID, err := l.twitch.CreateSubscription(ctx, subject, l.callbackURL, secret)
		if err != nil {
			slog.Error("Loop.renewLapsed: create failed", "error", err, "subject", subject)
			continue
		}
		l.registry.AddPending(models.PendingSubscription{
			RequestID: requestID,
			SubjectID: subject,
			Secret:    secret,
		})
		slog.Info("Loop.renewLapsed: subscription requested", "subject", subject, "subscription", requestID)
	}
}
