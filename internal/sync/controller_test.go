package sync

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/channel"
	"courier/internal/directory"
	"courier/internal/status"
	"courier/internal/store"
	"courier/internal/wire"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeEmitter struct {
	registered []wire.Profile
	presences  []string
	receipts   []wire.ReadReceipt
	promos     []string
	resets     int
}

func (f *fakeEmitter) Register(p wire.Profile) error               { f.registered = append(f.registered, p); return nil }
func (f *fakeEmitter) AnnouncePresence(userID string) error        { f.presences = append(f.presences, userID); return nil }
func (f *fakeEmitter) SendReadReceipt(r wire.ReadReceipt) error    { f.receipts = append(f.receipts, r); return nil }
func (f *fakeEmitter) RedeemPromo(userID, code string) error       { f.promos = append(f.promos, code); return nil }
func (f *fakeEmitter) RequestAdminData(string) error               { return nil }
func (f *fakeEmitter) Reset()                                      { f.resets++ }

type fakeReplier struct {
	calls []string
}

func (f *fakeReplier) Reply(botID, _, _, _ string, _ []store.Message, lastText string) {
	f.calls = append(f.calls, botID+":"+lastText)
}

type fixture struct {
	c       *Controller
	db      *store.DB
	emitter *fakeEmitter
	replier *fakeReplier
	machine *status.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	db := testDB(t)
	emitter := &fakeEmitter{}
	replier := &fakeReplier{}
	machine := status.NewMachine(b)
	c := NewController(db, directory.New(directory.DefaultCapacity), b, machine, emitter, replier, zap.NewNop())
	return &fixture{c: c, db: db, emitter: emitter, replier: replier, machine: machine}
}

// register brings up an account through the full handshake.
func (f *fixture) register(t *testing.T, username string) *store.Account {
	t.Helper()
	acct, err := f.c.RegisterAccount(username, username, "")
	if err != nil {
		t.Fatalf("RegisterAccount(%q): %v", username, err)
	}
	f.c.handleEvent(bus.Now(kindRegistrationSuccess, &wire.Profile{ID: acct.ID, Username: username}))
	return acct
}

func inbound(id, conv, sender, body string) bus.Event {
	return bus.Now(kindNewMessage, &wire.Message{
		ID: id, ConversationID: conv, SenderID: sender, SenderName: sender,
		Body: body, Timestamp: 1000,
	})
}

func TestRegistrationHandshake(t *testing.T) {
	f := newFixture(t)
	acct, err := f.c.RegisterAccount("alice", "Alice", "555-0100")
	if err != nil {
		t.Fatal(err)
	}
	if f.machine.Current() != status.Registering {
		t.Errorf("state = %s, want REGISTERING", f.machine.Current())
	}
	if len(f.emitter.registered) != 1 || f.emitter.registered[0].Username != "alice" {
		t.Fatalf("register frame not emitted: %+v", f.emitter.registered)
	}

	f.c.handleEvent(bus.Now(kindRegistrationSuccess, &wire.Profile{ID: acct.ID, Username: "alice"}))
	if f.machine.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", f.machine.Current())
	}
	stored, _ := f.db.GetAccount(acct.ID)
	if !stored.Registered {
		t.Error("account not marked registered")
	}
	if len(f.emitter.presences) != 1 || f.emitter.presences[0] != "alice" {
		t.Errorf("presence not announced after registration: %v", f.emitter.presences)
	}
}

func TestRegistrationErrorKeepsRegistering(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.RegisterAccount("alice", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	f.c.handleEvent(bus.Now(kindRegistrationError, &wire.RegistrationError{Message: "username taken"}))
	if f.machine.Current() != status.Registering {
		t.Errorf("state = %s, want REGISTERING after rejection", f.machine.Current())
	}
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.RegisterAccount("A!", "", ""); err == nil {
		t.Error("expected validation error")
	}
}

func TestInboundSelfIDRoutesToSenderThread(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	// Direct messages arrive addressed to the recipient's own id.
	f.c.handleEvent(inbound("m1", "alice", "bob", "hi alice"))

	chat, err := f.db.GetChat(f.c.ActiveAccount().ID, "bob")
	if err != nil || chat == nil {
		t.Fatalf("chat for bob not created: %v", err)
	}
	msgs, _ := f.db.ListMessages("bob")
	if len(msgs) != 1 || msgs[0].Body != "hi alice" {
		t.Fatalf("message not stored under sender thread: %+v", msgs)
	}
	if msgs[0].Direction != store.DirectionPeer {
		t.Errorf("direction = %q, want peer", msgs[0].Direction)
	}
	if chatsUnder(t, f, "alice") {
		t.Error("a thread keyed by the local identity must never exist")
	}
}

func chatsUnder(t *testing.T, f *fixture, conv string) bool {
	t.Helper()
	chat, err := f.db.GetChat(f.c.ActiveAccount().ID, conv)
	if err != nil {
		t.Fatal(err)
	}
	return chat != nil
}

func TestInboundGroupIDIsLiteral(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	f.c.handleEvent(bus.Now(kindNewMessage, &wire.Message{
		ID: "g1", ConversationID: "group-42", SenderID: "bob", Body: "hey all",
		IsGroup: true, Timestamp: 1000,
	}))

	if !chatsUnder(t, f, "group-42") {
		t.Fatal("group thread not keyed by literal conversation id")
	}
}

func TestUnreadIncrementsUnlessViewing(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	f.c.handleEvent(inbound("m1", "alice", "bob", "one"))
	f.c.handleEvent(inbound("m2", "alice", "bob", "two"))
	chat, _ := f.db.GetChat(acct.ID, "bob")
	if chat.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", chat.UnreadCount)
	}

	if err := f.c.OpenConversation("bob"); err != nil {
		t.Fatal(err)
	}
	chat, _ = f.db.GetChat(acct.ID, "bob")
	if chat.UnreadCount != 0 {
		t.Errorf("unread after open = %d, want 0", chat.UnreadCount)
	}

	// Arriving while viewed: no unread, read immediately, receipt sent.
	before := len(f.emitter.receipts)
	f.c.handleEvent(inbound("m3", "alice", "bob", "three"))
	chat, _ = f.db.GetChat(acct.ID, "bob")
	if chat.UnreadCount != 0 {
		t.Errorf("unread while viewing = %d, want 0", chat.UnreadCount)
	}
	msgs, _ := f.db.ListMessages("bob")
	if msgs[2].Status != store.StatusRead {
		t.Errorf("live-viewed message status = %q, want read", msgs[2].Status)
	}
	if len(f.emitter.receipts) != before+1 {
		t.Errorf("no immediate receipt for live-viewed message")
	}
}

func TestOpenConversationBatchesOneReceipt(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	f.c.handleEvent(inbound("m1", "alice", "bob", "one"))
	f.c.handleEvent(inbound("m2", "alice", "bob", "two"))
	f.c.handleEvent(inbound("m3", "alice", "bob", "three"))

	if err := f.c.OpenConversation("bob"); err != nil {
		t.Fatal(err)
	}
	if len(f.emitter.receipts) != 1 {
		t.Fatalf("receipts = %d, want exactly 1", len(f.emitter.receipts))
	}
	r := f.emitter.receipts[0]
	if len(r.MessageIDs) != 3 || r.ReaderID != "alice" || r.ConversationID != "bob" {
		t.Errorf("receipt = %+v", r)
	}

	// Re-opening with nothing unread emits nothing.
	if err := f.c.OpenConversation("bob"); err != nil {
		t.Fatal(err)
	}
	if len(f.emitter.receipts) != 1 {
		t.Errorf("re-open emitted a duplicate receipt")
	}
}

func TestInboundReceiptResolvesReaderThread(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	if _, err := f.c.SendText("bob", "hello"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := f.db.ListMessages("bob")
	id := msgs[0].MsgID

	// Bob's receipt arrives keyed by his view of the conversation; the
	// reader id locates our thread.
	f.c.handleEvent(bus.Now(kindMessageRead, &wire.ReadReceipt{
		ConversationID: "alice", MessageIDs: []string{id}, ReaderID: "bob",
	}))

	msgs, _ = f.db.ListMessages("bob")
	if msgs[0].Status != store.StatusRead {
		t.Errorf("status = %q, want read", msgs[0].Status)
	}
}

func TestInitStateAppendsUnseenPeers(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	// A chat already at the front must keep its place.
	f.c.handleEvent(inbound("m1", "alice", "dave", "early"))

	f.c.handleEvent(bus.Now(kindInitState, &wire.InitState{Users: []wire.Profile{
		{ID: "u1", Username: "alice"}, // self, skipped
		{ID: "u2", Username: "bob", DisplayName: "Bob"},
		{ID: "u3", Username: "carol"},
	}}))

	chats, err := f.db.ListChats(acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range chats {
		order = append(order, c.ConversationID)
	}
	want := []string{"dave", "bob", "carol"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("chat order = %v, want %v", order, want)
	}
	for _, c := range chats {
		if c.UnreadCount != 0 && c.ConversationID != "dave" {
			t.Errorf("snapshot chat %q has unread %d", c.ConversationID, c.UnreadCount)
		}
	}

	// Replaying the snapshot changes nothing.
	f.c.handleEvent(bus.Now(kindInitState, &wire.InitState{Users: []wire.Profile{
		{ID: "u2", Username: "bob"},
	}}))
	chats, _ = f.db.ListChats(acct.ID)
	if len(chats) != 3 {
		t.Errorf("snapshot replay duplicated chats: %d", len(chats))
	}
}

func TestUserJoinedIdempotent(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	p := &wire.Profile{ID: "u2", Username: "bob", DisplayName: "Bob"}
	f.c.handleEvent(bus.Now(kindUserJoined, p))
	f.c.handleEvent(bus.Now(kindUserJoined, p))

	chats, _ := f.db.ListChats(acct.ID)
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
	if !chats[0].Online {
		t.Error("joined peer not marked online")
	}
	msgs, _ := f.db.ListMessages("bob")
	if len(msgs) != 1 {
		t.Fatalf("seed messages = %d, want 1", len(msgs))
	}
	if msgs[0].Status != store.StatusRead {
		t.Errorf("seed message status = %q, want read", msgs[0].Status)
	}
}

func TestSendTextOptimistic(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	id, err := f.c.SendText("bob", "hello")
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := f.db.ListMessages("bob")
	if len(msgs) != 1 || msgs[0].MsgID != id {
		t.Fatalf("optimistic message missing: %+v", msgs)
	}
	if msgs[0].Status != store.StatusPending {
		t.Errorf("status = %q, want pending", msgs[0].Status)
	}
	chat, _ := f.db.GetChat(acct.ID, "bob")
	if chat == nil || chat.LastMessage != "hello" {
		t.Fatalf("preview not updated: %+v", chat)
	}
	pending, _ := f.db.PendingOutbox(acct.ID)
	if len(pending) != 1 || pending[0].RecipientID != "bob" {
		t.Fatalf("outbox = %+v", pending)
	}
}

func TestSendToBotTriggersReplier(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	f.c.handleEvent(bus.Now(kindUserJoined, &wire.Profile{
		ID: "u9", Username: "helper_bot", DisplayName: "Helper", IsBot: true,
	}))

	if _, err := f.c.SendText("helper_bot", "what time is it"); err != nil {
		t.Fatal(err)
	}
	if len(f.replier.calls) != 1 || f.replier.calls[0] != "helper_bot:what time is it" {
		t.Fatalf("replier calls = %v", f.replier.calls)
	}

	// Humans never trigger the responder.
	f.c.handleEvent(bus.Now(kindUserJoined, &wire.Profile{ID: "u2", Username: "bob"}))
	if _, err := f.c.SendText("bob", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(f.replier.calls) != 1 {
		t.Errorf("replier fired for a human conversation")
	}
}

func TestSwitchAccountRestoresSnapshots(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	f.c.handleEvent(inbound("m1", "alice", "bob", "for alice"))

	carol, err := f.c.RegisterAccount("carol", "Carol", "")
	if err != nil {
		t.Fatal(err)
	}
	f.c.handleEvent(bus.Now(kindRegistrationSuccess, &wire.Profile{ID: carol.ID, Username: "carol"}))
	f.c.handleEvent(inbound("m2", "carol", "dave", "for carol"))

	aliceChats, _ := f.db.ListChats(alice.ID)
	carolChats, _ := f.db.ListChats(carol.ID)
	if len(aliceChats) != 1 || aliceChats[0].ConversationID != "bob" {
		t.Fatalf("alice chats = %+v", aliceChats)
	}
	if len(carolChats) != 1 || carolChats[0].ConversationID != "dave" {
		t.Fatalf("carol chats = %+v", carolChats)
	}

	resets := f.emitter.resets
	if err := f.c.SwitchAccount(alice.ID); err != nil {
		t.Fatal(err)
	}
	if f.c.ActiveAccount().Username != "alice" {
		t.Errorf("active = %q, want alice", f.c.ActiveAccount().Username)
	}
	if f.c.ActiveConversation() != "" {
		t.Error("viewed conversation survived the switch")
	}
	if f.emitter.resets != resets+1 {
		t.Error("channel not reset on switch")
	}
	last := f.emitter.presences[len(f.emitter.presences)-1]
	if last != "alice" {
		t.Errorf("presence after switch = %q, want alice", last)
	}
	if f.machine.Current() != status.Disconnected {
		t.Errorf("state after switch = %s, want DISCONNECTED until the channel confirms", f.machine.Current())
	}
	f.c.handleEvent(bus.Now(kindStatus, statusPayload(true)))
	if f.machine.Current() != status.Connected {
		t.Errorf("state after channel confirm = %s, want CONNECTED", f.machine.Current())
	}
}

// A rejected registration, a switch to another account and a switch
// back must leave the session able to complete onboarding when the
// relay accepts the retried registration.
func TestSwitchBackToUnregisteredAccountCompletesOnboarding(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")

	carol, err := f.c.RegisterAccount("carol", "Carol", "")
	if err != nil {
		t.Fatal(err)
	}
	f.c.handleEvent(bus.Now(kindRegistrationError, &wire.RegistrationError{Message: "username taken"}))

	if err := f.c.SwitchAccount(alice.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.c.SwitchAccount(carol.ID); err != nil {
		t.Fatal(err)
	}
	if f.machine.Current() != status.Registering {
		t.Fatalf("state after switching to unregistered account = %s, want REGISTERING", f.machine.Current())
	}
	last := f.emitter.registered[len(f.emitter.registered)-1]
	if last.Username != "carol" {
		t.Fatalf("re-announced profile = %q, want carol", last.Username)
	}

	f.c.handleEvent(bus.Now(kindRegistrationSuccess, &wire.Profile{ID: carol.ID, Username: "carol"}))
	if f.machine.Current() != status.Connected {
		t.Errorf("state after accepted retry = %s, want CONNECTED", f.machine.Current())
	}
	stored, _ := f.db.GetAccount(carol.ID)
	if !stored.Registered {
		t.Error("account not marked registered after accepted retry")
	}
	if got := f.emitter.presences[len(f.emitter.presences)-1]; got != "carol" {
		t.Errorf("presence after accepted retry = %q, want carol", got)
	}
}

func TestUserUpdatedRefreshesPeerAndSelf(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")
	f.c.handleEvent(bus.Now(kindUserJoined, &wire.Profile{ID: "u2", Username: "bob", DisplayName: "Bob"}))

	f.c.handleEvent(bus.Now(kindUserUpdated, &wire.Profile{
		ID: "u2", Username: "bob", DisplayName: "Bobby", AvatarColor: "#123456", Bio: "new bio",
	}))
	chat, _ := f.db.GetChat(acct.ID, "bob")
	if chat.Name != "Bobby" || chat.Bio != "new bio" {
		t.Errorf("peer identity not updated: %+v", chat)
	}

	f.c.handleEvent(bus.Now(kindUserUpdated, &wire.Profile{
		ID: acct.ID, Username: "alice", DisplayName: "Alice Prime", IsPremium: true,
	}))
	self, _ := f.db.GetAccount(acct.ID)
	if self.DisplayName != "Alice Prime" || !self.IsPremium {
		t.Errorf("self profile not updated: %+v", self)
	}
}

func TestPromoSuccessSetsPremium(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	f.c.handleEvent(bus.Now(kindPromoResult, &wire.PromoResult{Success: false, Message: "already used"}))
	self, _ := f.db.GetAccount(acct.ID)
	if self.IsPremium {
		t.Error("failed promo granted premium")
	}

	f.c.handleEvent(bus.Now(kindPromoResult, &wire.PromoResult{Success: true, Message: "enjoy"}))
	self, _ = f.db.GetAccount(acct.ID)
	if !self.IsPremium {
		t.Error("successful promo did not grant premium")
	}
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "alice")

	id, err := f.c.CreateGroup("weekend plans", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	chat, _ := f.db.GetChat(acct.ID, id)
	if chat == nil || !chat.IsGroup || !chat.IsGroupAdmin {
		t.Fatalf("group chat = %+v", chat)
	}
	if chat.MemberCount != 3 {
		t.Errorf("members = %d, want 3 (incl. self)", chat.MemberCount)
	}
	msgs, _ := f.db.ListMessages(id)
	if len(msgs) != 1 {
		t.Errorf("group seed messages = %d, want 1", len(msgs))
	}
}

func TestDeleteConversationClearsView(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	f.c.handleEvent(inbound("m1", "alice", "bob", "hi"))
	if err := f.c.OpenConversation("bob"); err != nil {
		t.Fatal(err)
	}

	if err := f.c.DeleteConversation("bob"); err != nil {
		t.Fatal(err)
	}
	if f.c.ActiveConversation() != "" {
		t.Error("deleted conversation still viewed")
	}
	if chatsUnder(t, f, "bob") {
		t.Error("chat survived deletion")
	}
}

func statusPayload(connected bool) channel.Status {
	return channel.Status{Connected: connected}
}

func TestConnectionStatusTransitions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	f.c.handleEvent(bus.Now(kindStatus, statusPayload(false)))
	if f.machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", f.machine.Current())
	}
	f.c.handleEvent(bus.Now(kindStatus, statusPayload(true)))
	if f.machine.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", f.machine.Current())
	}
}
