package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"streamping/internal/models"
	"streamping/internal/registry"
	"streamping/internal/store"
	"streamping/internal/twitch"
)

type fakeTwitch struct {
	tokenRemaining int
	validateErr    error
	fetchErr       error
	fetched        int

	subs    []twitch.Subscription
	listErr error

	created   []string // subject ids passed to CreateSubscription
	createErr map[string]error
	deleted   []string // subscription ids passed to DeleteSubscription
	deleteErr map[string]error
}

func (f *fakeTwitch) ValidateToken(ctx context.Context) (int, error) {
	return f.tokenRemaining, f.validateErr
}

func (f *fakeTwitch) FetchToken(ctx context.Context) (string, error) {
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	f.fetched++
	return fmt.Sprintf("token-%d", f.fetched), nil
}

func (f *fakeTwitch) ListSubscriptions(ctx context.Context) ([]twitch.Subscription, error) {
	return f.subs, f.listErr
}

func (f *fakeTwitch) CreateSubscription(ctx context.Context, subjectID, callbackURL, secret string) (string, error) {
	if err := f.createErr[subjectID]; err != nil {
		return "", err
	}
	f.created = append(f.created, subjectID)
	return "req-" + subjectID, nil
}

func (f *fakeTwitch) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	if err := f.deleteErr[subscriptionID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, subscriptionID)
	return nil
}

func remoteSub(id, subject, status string) twitch.Subscription {
	var s twitch.Subscription
	s.ID = id
	s.Status = status
	s.Condition.BroadcasterUserID = subject
	return s
}

func seedSubjects(t *testing.T, subjects ...string) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	for i, subject := range subjects {
		err := st.AddSubscriber(models.Subscriber{
			SubjectID: subject,
			GuildID:   fmt.Sprintf("g%d", i),
			ChannelID: fmt.Sprintf("c%d", i),
			Template:  "live $link",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return st
}

func TestCyclePrunesAndRenews(t *testing.T) {
	api := &fakeTwitch{
		tokenRemaining: 999999,
		subs: []twitch.Subscription{
			remoteSub("sub-x", "x", models.StatusEnabled),
			remoteSub("sub-y", "y", "authorization_revoked"),
		},
	}
	reg := registry.New()
	reg.SetToken("tok")
	loop := New(api, seedSubjects(t, "x", "z"), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	// y is wanted by nobody: deleted. x is wanted and enabled: untouched.
	if len(api.deleted) != 1 || api.deleted[0] != "sub-y" {
		t.Errorf("expected only sub-y deleted, got %v", api.deleted)
	}
	// z is wanted with no enabled subscription: exactly one create call.
	if len(api.created) != 1 || api.created[0] != "z" {
		t.Errorf("expected one create for z, got %v", api.created)
	}
	if reg.PendingCount() != 1 {
		t.Errorf("expected one pending registration, got %d", reg.PendingCount())
	}
	if p, ok := reg.Pending("req-z", "z"); !ok || p.Secret == "" {
		t.Errorf("expected pending entry with fresh secret for z, got %+v ok=%v", p, ok)
	}
}

func TestCycleDeletesInvalidEvenWhenWanted(t *testing.T) {
	api := &fakeTwitch{
		tokenRemaining: 999999,
		subs:           []twitch.Subscription{remoteSub("sub-x", "x", "webhook_callback_verification_failed")},
	}
	reg := registry.New()
	reg.SetToken("tok")
	loop := New(api, seedSubjects(t, "x"), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if len(api.deleted) != 1 || api.deleted[0] != "sub-x" {
		t.Errorf("expected failed subscription deleted, got %v", api.deleted)
	}
	// The dead registration is re-created, not repaired.
	if len(api.created) != 1 || api.created[0] != "x" {
		t.Errorf("expected re-create for x, got %v", api.created)
	}
}

func TestCycleIsolatesPerSubjectFailures(t *testing.T) {
	api := &fakeTwitch{
		tokenRemaining: 999999,
		subs:           []twitch.Subscription{remoteSub("sub-dead", "gone", "enabled")},
		deleteErr:      map[string]error{"sub-dead": errors.New("twitch 500")},
		createErr:      map[string]error{"a": errors.New("twitch 500")},
	}
	reg := registry.New()
	reg.SetToken("tok")
	loop := New(api, seedSubjects(t, "a", "b"), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	// The failed delete and the failed create for "a" must not stop "b".
	if len(api.created) != 1 || api.created[0] != "b" {
		t.Errorf("expected create for b despite failures, got %v", api.created)
	}
	if _, ok := reg.Pending("req-b", "b"); !ok {
		t.Error("expected pending entry for b")
	}
	if reg.PendingCount() != 1 {
		t.Errorf("failed create must not register pending state, got %d entries", reg.PendingCount())
	}
}

func TestEnsureTokenFetchesWhenAbsent(t *testing.T) {
	api := &fakeTwitch{}
	reg := registry.New()
	loop := New(api, seedSubjects(t), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if reg.Token() != "token-1" {
		t.Errorf("expected fetched token stored, got %q", reg.Token())
	}
	if api.fetched != 1 {
		t.Errorf("expected exactly one fetch, got %d", api.fetched)
	}
}

func TestEnsureTokenRenewsBelowThreshold(t *testing.T) {
	// A day's period plus margin is not covered by one hour of lifetime.
	api := &fakeTwitch{tokenRemaining: 3600}
	reg := registry.New()
	reg.SetToken("old")
	loop := New(api, seedSubjects(t), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if reg.Token() != "token-1" {
		t.Errorf("expected renewed token, got %q", reg.Token())
	}
}

func TestEnsureTokenKeepsHealthyToken(t *testing.T) {
	api := &fakeTwitch{tokenRemaining: 60 * 60 * 24 * 30}
	reg := registry.New()
	reg.SetToken("healthy")
	loop := New(api, seedSubjects(t), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if reg.Token() != "healthy" {
		t.Errorf("healthy token should be kept, got %q", reg.Token())
	}
	if api.fetched != 0 {
		t.Errorf("no fetch expected, got %d", api.fetched)
	}
}

func TestCycleAbortsWhenTokenUnavailable(t *testing.T) {
	api := &fakeTwitch{
		fetchErr: errors.New("auth down"),
		subs:     []twitch.Subscription{remoteSub("sub-x", "x", "enabled")},
	}
	reg := registry.New()
	loop := New(api, seedSubjects(t, "y"), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if len(api.deleted) != 0 || len(api.created) != 0 {
		t.Error("no remote mutations expected when the token phase fails")
	}
}

func TestCycleAbortsWhenListFails(t *testing.T) {
	api := &fakeTwitch{tokenRemaining: 999999, listErr: errors.New("helix down")}
	reg := registry.New()
	reg.SetToken("tok")
	loop := New(api, seedSubjects(t, "x"), reg, "https://example.com/webhook")

	loop.RunCycle(context.Background())

	if len(api.created) != 0 {
		t.Error("no creates expected when listing fails")
	}
}

func TestKickCoalesces(t *testing.T) {
	loop := New(&fakeTwitch{}, seedSubjects(t), registry.New(), "https://example.com/webhook")
	loop.Kick()
	loop.Kick()
	loop.Kick()

	if len(loop.kick) != 1 {
		t.Errorf("kicks should coalesce to one, got %d", len(loop.kick))
	}
}
