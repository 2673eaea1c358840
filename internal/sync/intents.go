package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"courier/internal/bus"
	"courier/internal/profiles"
	"courier/internal/status"
	"courier/internal/store"
	"courier/internal/wire"
)

// RegisterAccount creates a new local identity and submits it to the
// relay. The session stays in Registering until the relay answers.
func (c *Controller) RegisterAccount(username, displayName, phone string) (*store.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := profiles.ValidateUsername(username); err != nil {
		return nil, err
	}
	if existing, err := c.db.GetAccountByUsername(username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("account %q already exists locally", username)
	}

	acct := &store.Account{
		ID:              uuid.NewString(),
		Username:        username,
		DisplayName:     displayName,
		Phone:           phone,
		AvatarColor:     profiles.ColorFor(username),
		PhonePrivacy:    wire.VisibilityEverybody,
		LastSeenPrivacy: wire.VisibilityEverybody,
		BioPrivacy:      wire.VisibilityEverybody,
	}
	if err := c.db.UpsertAccount(acct); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	c.active = acct
	c.activeConv = ""
	if err := c.machine.Transition(status.Registering); err != nil {
		return nil, err
	}
	_ = c.emitter.Register(c.profileOf(acct))
	return acct, nil
}

// ActiveAccount returns a copy of the active account, or nil.
func (c *Controller) ActiveAccount() *store.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	out := *c.active
	return &out
}

// ActiveConversation returns the conversation currently being viewed.
func (c *Controller) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeConv
}

// OpenConversation marks a conversation as being viewed: every unread
// counterpart message is batched, marked read locally, and announced in
// exactly one receipt. Re-opening with nothing unread emits nothing.
func (c *Controller) OpenConversation(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}

	c.activeConv = conversationID

	ids, err := c.db.UnreadPeerMessageIDs(conversationID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := c.db.MarkMessagesRead(conversationID, ids); err != nil {
			return err
		}
		_ = c.emitter.SendReadReceipt(wire.ReadReceipt{
			ConversationID: conversationID,
			MessageIDs:     ids,
			ReaderID:       c.active.Username,
		})
	}
	if err := c.db.ResetUnread(c.active.ID, conversationID); err != nil {
		return err
	}
	c.bus.Publish(bus.Now("chat.opened", conversationID))
	return nil
}

// CloseConversation clears the viewed conversation.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeConv = ""
}

// SendText sends a plain text message.
func (c *Controller) SendText(conversationID, body string) (string, error) {
	return c.send(conversationID, body, store.Message{})
}

// SendAttachment sends a message carrying a voice, image or file payload.
func (c *Controller) SendAttachment(conversationID, body, kind, ref, fileName string, size, duration int64) (string, error) {
	return c.send(conversationID, body, store.Message{
		AttachmentKind: kind,
		AttachmentRef:  ref,
		FileName:       fileName,
		FileSize:       size,
		Duration:       duration,
	})
}

// send applies the optimistic message immediately (status pending),
// refreshes the preview, moves the chat to the front and queues the
// outbox entry. A bot-flagged direct conversation additionally triggers
// the responder; its reply re-enters through the inbound path.
func (c *Controller) send(conversationID, body string, att store.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", fmt.Errorf("no active account")
	}

	chat, err := c.db.GetChat(c.active.ID, conversationID)
	if err != nil {
		return "", err
	}
	if chat == nil {
		// Manual contact add: messaging an unseen username opens the chat.
		chat = &store.Chat{
			AccountID:      c.active.ID,
			ConversationID: conversationID,
			Name:           conversationID,
			AvatarColor:    profiles.ColorFor(conversationID),
			Username:       conversationID,
		}
		if p, ok := c.dir.Get(conversationID); ok {
			chat.Name = displayName(&p)
			chat.AvatarColor = p.AvatarColor
			chat.Bio = p.Bio
			chat.IsBot = p.IsBot
		}
		if err := c.db.InsertChatFront(chat); err != nil {
			return "", err
		}
	}

	now := time.Now().UnixMilli()
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          uuid.NewString(),
		SenderID:       c.active.Username,
		SenderName:     c.active.DisplayName,
		Body:           body,
		Direction:      store.DirectionSelf,
		Status:         store.StatusPending,
		AttachmentKind: att.AttachmentKind,
		AttachmentRef:  att.AttachmentRef,
		FileName:       att.FileName,
		FileSize:       att.FileSize,
		Duration:       att.Duration,
		Timestamp:      now,
	}
	if err := c.db.AppendMessage(msg); err != nil {
		return "", fmt.Errorf("append optimistic message: %w", err)
	}

	preview := previewText(&wire.Message{Body: body, AttachmentKind: att.AttachmentKind, FileName: att.FileName})
	if err := c.db.UpdateChatPreview(c.active.ID, conversationID, preview, c.active.Username, now); err != nil {
		return "", err
	}
	if err := c.db.MoveChatToFront(c.active.ID, conversationID); err != nil {
		return "", err
	}

	recipient := ""
	if !chat.IsGroup {
		recipient = conversationID
	}
	entry := &store.OutboxEntry{
		ClientMsgID:    msg.MsgID,
		AccountID:      c.active.ID,
		ConversationID: conversationID,
		RecipientID:    recipient,
		Body:           body,
		IsGroup:        chat.IsGroup,
		AttachmentKind: att.AttachmentKind,
		AttachmentRef:  att.AttachmentRef,
	}
	if err := c.db.QueueOutbox(entry); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	if c.replier != nil && chat.IsBot && !chat.IsGroup && conversationID != c.active.Username {
		history, err := c.db.ListMessages(conversationID)
		if err != nil {
			history = nil
		}
		c.replier.Reply(conversationID, chat.Name, chat.Bio, c.active.Username, history, body)
	}

	c.bus.Publish(bus.Now("chat.message", conversationID))
	return msg.MsgID, nil
}

// RetrySend requeues a failed message for another delivery attempt.
func (c *Controller) RetrySend(conversationID, clientMsgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.RequeueOutbox(clientMsgID); err != nil {
		return err
	}
	return c.db.SetMessageStatus(conversationID, clientMsgID, store.StatusPending)
}

// SwitchAccount makes another locally registered account active. The
// outgoing account's snapshot is already persistent; the channel is
// reset so the new identity is announced on a fresh connection.
func (c *Controller) SwitchAccount(accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, err := c.db.GetAccount(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("unknown account %q", accountID)
	}

	c.active = acct
	c.activeConv = ""

	if acct.Registered {
		// Registered but on a channel that has not confirmed yet; the
		// next status event completes the move to Connected.
		_ = c.machine.Transition(status.Disconnected)
		_ = c.emitter.AnnouncePresence(acct.Username)
	} else {
		// The account never completed onboarding, so re-announcing it is
		// a registration and the relay's acceptance must land on a state
		// with a Connected edge.
		_ = c.machine.Transition(status.Registering)
		_ = c.emitter.Register(c.profileOf(acct))
	}
	c.emitter.Reset()
	c.bus.Publish(bus.Now("session.account_switched", acct.ID))
	return nil
}

// CreateGroup creates a group conversation owned by the active account.
func (c *Controller) CreateGroup(name string, memberIDs []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", fmt.Errorf("no active account")
	}

	conversationID := uuid.NewString()
	members := append([]string{c.active.Username}, memberIDs...)
	chat := &store.Chat{
		AccountID:      c.active.ID,
		ConversationID: conversationID,
		Name:           name,
		AvatarColor:    profiles.ColorFor(name),
		IsGroup:        true,
		MemberIDs:      members,
		MemberCount:    len(members),
		IsGroupAdmin:   true,
	}
	if err := c.db.InsertChatFront(chat); err != nil {
		return "", err
	}
	seed := &store.Message{
		ConversationID: conversationID,
		MsgID:          uuid.NewString(),
		Body:           "Group \"" + name + "\" created",
		Direction:      store.DirectionSelf,
		Status:         store.StatusRead,
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := c.db.AppendMessage(seed); err != nil {
		return "", err
	}
	c.bus.Publish(bus.Now("chat.list_changed", c.active.ID))
	return conversationID, nil
}

// ArchiveConversation toggles a conversation's archived state.
func (c *Controller) ArchiveConversation(conversationID string, archived bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}
	return c.db.SetArchived(c.active.ID, conversationID, archived)
}

// MuteConversation toggles a conversation's mute flag.
func (c *Controller) MuteConversation(conversationID string, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}
	return c.db.SetChatMuted(c.active.ID, conversationID, muted)
}

// DeleteConversation removes a conversation and its messages.
func (c *Controller) DeleteConversation(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}
	if c.activeConv == conversationID {
		c.activeConv = ""
	}
	if err := c.db.DeleteChat(c.active.ID, conversationID); err != nil {
		return err
	}
	c.bus.Publish(bus.Now("chat.list_changed", c.active.ID))
	return nil
}

// EditProfile updates the active account and pushes the new profile to
// the relay, which broadcasts it to peers as user_updated.
func (c *Controller) EditProfile(displayName, bio, phone string, privacy wire.Privacy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}

	c.active.DisplayName = displayName
	c.active.Bio = bio
	c.active.Phone = phone
	if privacy.Phone != "" {
		c.active.PhonePrivacy = privacy.Phone
	}
	if privacy.LastSeen != "" {
		c.active.LastSeenPrivacy = privacy.LastSeen
	}
	if privacy.Bio != "" {
		c.active.BioPrivacy = privacy.Bio
	}
	if err := c.db.UpsertAccount(c.active); err != nil {
		return err
	}
	_ = c.emitter.Register(c.profileOf(c.active))
	return nil
}

// RedeemPromo submits a promo code for the active account.
func (c *Controller) RedeemPromo(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}
	return c.emitter.RedeemPromo(c.active.Username, code)
}

// RequestAdminData asks the relay for its full message log. The relay
// only answers admin-flagged identities.
func (c *Controller) RequestAdminData() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return fmt.Errorf("no active account")
	}
	return c.emitter.RequestAdminData(c.active.Username)
}

func (c *Controller) profileOf(a *store.Account) wire.Profile {
	return wire.Profile{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Phone:       a.Phone,
		Bio:         a.Bio,
		AvatarColor: a.AvatarColor,
		IsPremium:   a.IsPremium,
		IsAdmin:     a.IsAdmin,
		Privacy: wire.Privacy{
			Phone:    a.PhonePrivacy,
			LastSeen: a.LastSeenPrivacy,
			Bio:      a.BioPrivacy,
		},
	}
}
