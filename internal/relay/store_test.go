package relay

import (
	"path/filepath"
	"testing"

	"courier/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserRoundTrip(t *testing.T) {
	st := openTestStore(t)

	p := wire.Profile{
		ID: "u1", Username: "alice", DisplayName: "Alice", Phone: "555-0100",
		Bio: "hello", AvatarColor: "#e57373", Privacy: wire.DefaultPrivacy(),
	}
	if err := st.SaveUser(p); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetUserByUsername("alice")
	if err != nil || got == nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != "u1" || got.DisplayName != "Alice" || got.Privacy.Phone != wire.VisibilityEverybody {
		t.Errorf("round trip = %+v", got)
	}

	if missing, err := st.GetUser("nope"); err != nil || missing != nil {
		t.Errorf("missing user = %+v, err %v", missing, err)
	}

	// Same id, new username: the row follows the identity.
	p.Username = "alice2"
	if err := st.SaveUser(p); err != nil {
		t.Fatal(err)
	}
	users, err := st.ListUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "alice2" {
		t.Errorf("users = %+v", users)
	}
}

func TestMessageLogIdempotent(t *testing.T) {
	st := openTestStore(t)

	m := wire.Message{ID: "m1", ConversationID: "bob", SenderID: "alice", Body: "hi", Timestamp: 10}
	if err := st.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := st.AllMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
}

func TestRedeemCodePerUser(t *testing.T) {
	st := openTestStore(t)

	fresh, err := st.RedeemCode("u1", "PROMO")
	if err != nil || !fresh {
		t.Fatalf("first redemption fresh=%v err=%v", fresh, err)
	}
	fresh, err = st.RedeemCode("u1", "PROMO")
	if err != nil || fresh {
		t.Fatalf("repeat redemption fresh=%v err=%v", fresh, err)
	}
	// A different user may use the same code.
	fresh, err = st.RedeemCode("u2", "PROMO")
	if err != nil || !fresh {
		t.Fatalf("other user redemption fresh=%v err=%v", fresh, err)
	}
}
