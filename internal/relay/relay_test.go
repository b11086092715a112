package relay

import (
	"context"
	"errors"
	"testing"

	"streamping/internal/models"
	"streamping/internal/store"
	"streamping/internal/twitch"
)

type fakeNames struct {
	user *twitch.User
	err  error
}

func (f *fakeNames) GetUserByID(ctx context.Context, id string) (*twitch.User, error) {
	return f.user, f.err
}

type sentMessage struct {
	ChannelID string
	Text      string
}

type fakeChat struct {
	roles    map[string]string // guildID/roleID -> mention
	failFor  map[string]bool   // channelID -> fail send
	messages []sentMessage
}

func (f *fakeChat) SendMessage(channelID, text string) error {
	if f.failFor[channelID] {
		return errors.New("channel deleted")
	}
	f.messages = append(f.messages, sentMessage{channelID, text})
	return nil
}

func (f *fakeChat) ResolveRoleMention(guildID, roleID string) (string, bool) {
	m, ok := f.roles[guildID+"/"+roleID]
	return m, ok
}

func testStore(t *testing.T) *store.InMemoryStore {
	t.Helper()
	s := store.NewInMemoryStore()
	must := func(err error) {
		if err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	must(s.AddSubscriber(models.Subscriber{SubjectID: "abc123", GuildID: "G1", ChannelID: "C1", RoleID: "R1", Template: "$role new stream! $link"}))
	must(s.AddSubscriber(models.Subscriber{SubjectID: "abc123", GuildID: "G2", ChannelID: "C2", Template: "$role new stream! $link"}))
	return s
}

func TestRelayFanOut(t *testing.T) {
	chat := &fakeChat{roles: map[string]string{"G1/R1": "<@&R1>"}}
	names := &fakeNames{user: &twitch.User{ID: "abc123", Login: "somestreamer", DisplayName: "SomeStreamer"}}
	r := New(testStore(t), names, chat)

	r.Relay(context.Background(), "abc123", "999")

	if len(chat.messages) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(chat.messages))
	}
	byChannel := map[string]string{}
	for _, m := range chat.messages {
		byChannel[m.ChannelID] = m.Text
	}
	if byChannel["C1"] != "<@&R1> new stream! https://twitch.tv/somestreamer" {
		t.Errorf("unexpected C1 message: %q", byChannel["C1"])
	}
	// G2 has no role; the placeholder renders as an empty string.
	if byChannel["C2"] != " new stream! https://twitch.tv/somestreamer" {
		t.Errorf("unexpected C2 message: %q", byChannel["C2"])
	}
}

func TestRelayUnresolvableRoleRendersEmpty(t *testing.T) {
	chat := &fakeChat{roles: map[string]string{}} // R1 cannot be resolved
	names := &fakeNames{user: &twitch.User{ID: "abc123", Login: "somestreamer"}}
	r := New(testStore(t), names, chat)

	r.Relay(context.Background(), "abc123", "999")

	for _, m := range chat.messages {
		if m.ChannelID == "C1" && m.Text != " new stream! https://twitch.tv/somestreamer" {
			t.Errorf("unresolvable role should render empty, got %q", m.Text)
		}
	}
}

func TestRelayIsolatesDeliveryFailures(t *testing.T) {
	chat := &fakeChat{roles: map[string]string{"G1/R1": "<@&R1>"}, failFor: map[string]bool{"C1": true}}
	names := &fakeNames{user: &twitch.User{ID: "abc123", Login: "somestreamer"}}
	r := New(testStore(t), names, chat)

	r.Relay(context.Background(), "abc123", "999")

	if len(chat.messages) != 1 || chat.messages[0].ChannelID != "C2" {
		t.Errorf("expected delivery to C2 despite C1 failure, got %+v", chat.messages)
	}
}

func TestRelayNoSubscribersIsNoOp(t *testing.T) {
	chat := &fakeChat{}
	names := &fakeNames{user: &twitch.User{ID: "zzz", Login: "whoever"}}
	r := New(store.NewInMemoryStore(), names, chat)

	r.Relay(context.Background(), "zzz", "1")

	if len(chat.messages) != 0 {
		t.Errorf("expected no sends, got %+v", chat.messages)
	}
}

func TestRelayAbortsWhenStreamerLookupFails(t *testing.T) {
	chat := &fakeChat{}
	names := &fakeNames{err: errors.New("helix down")}
	r := New(testStore(t), names, chat)

	r.Relay(context.Background(), "abc123", "999")

	if len(chat.messages) != 0 {
		t.Errorf("expected no sends when lookup fails, got %+v", chat.messages)
	}
}
