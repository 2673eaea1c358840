// Package sync reconciles local state with relay notifications and user
// intents. The Controller is the single writer over the store and the
// directory: the channel adapter only publishes notifications, and every
// mutation funnels through here.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/channel"
	"courier/internal/directory"
	"courier/internal/profiles"
	"courier/internal/status"
	"courier/internal/store"
	"courier/internal/wire"
)

// Bus kinds the controller reacts to, one per relay frame.
const (
	kindStatus              = "relay.status"
	kindInitState           = "relay." + string(wire.FrameInitState)
	kindUserJoined          = "relay." + string(wire.FrameUserJoined)
	kindNewMessage          = "relay." + string(wire.FrameNewMessage)
	kindMessageRead         = "relay." + string(wire.FrameMessageRead)
	kindUserUpdated         = "relay." + string(wire.FrameUserUpdated)
	kindRegistrationSuccess = "relay." + string(wire.FrameRegistrationSuccess)
	kindRegistrationError   = "relay." + string(wire.FrameRegistrationError)
	kindPromoResult         = "relay." + string(wire.FramePromoResult)
	kindAdminData           = "relay." + string(wire.FrameAdminData)
)

// Emitter is the outbound half of the relay channel.
type Emitter interface {
	Register(p wire.Profile) error
	AnnouncePresence(userID string) error
	SendReadReceipt(r wire.ReadReceipt) error
	RedeemPromo(userID, code string) error
	RequestAdminData(userID string) error
	Reset()
}

// Replier produces a bot reply asynchronously and re-injects it through
// the inbound message path, indistinguishable from a human reply.
type Replier interface {
	Reply(botID, botName, botBio, userID string, history []store.Message, lastText string)
}

// Controller owns all local-state mutation for the active session.
type Controller struct {
	db      *store.DB
	dir     *directory.Table
	bus     *bus.Bus
	machine *status.Machine
	emitter Emitter
	replier Replier
	logger  *zap.Logger

	// mu serializes handlers and intents: the system is single-writer
	// even though notifications and user actions arrive concurrently.
	mu         stdsync.Mutex
	active     *store.Account
	activeConv string

	cancel context.CancelFunc
}

// NewController creates a controller. replier may be nil, in which case
// bot conversations never answer.
func NewController(db *store.DB, dir *directory.Table, b *bus.Bus, machine *status.Machine, emitter Emitter, replier Replier, logger *zap.Logger) *Controller {
	return &Controller{
		db:      db,
		dir:     dir,
		bus:     b,
		machine: machine,
		emitter: emitter,
		replier: replier,
		logger:  logger,
	}
}

// Start subscribes to inbound relay notifications on the bus.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("relay.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the controller.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) handleEvent(evt bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch evt.Kind {
	case kindStatus:
		if s, ok := evt.Payload.(channel.Status); ok {
			err = c.handleStatus(s)
		}
	case kindInitState:
		if st, ok := evt.Payload.(*wire.InitState); ok {
			err = c.handleInitState(st)
		}
	case kindUserJoined:
		if p, ok := evt.Payload.(*wire.Profile); ok {
			err = c.handleUserJoined(p)
		}
	case kindNewMessage:
		if m, ok := evt.Payload.(*wire.Message); ok {
			err = c.handleNewMessage(m)
		}
	case kindMessageRead:
		if r, ok := evt.Payload.(*wire.ReadReceipt); ok {
			err = c.handleMessageRead(r)
		}
	case kindUserUpdated:
		if p, ok := evt.Payload.(*wire.Profile); ok {
			err = c.handleUserUpdated(p)
		}
	case kindRegistrationSuccess:
		if p, ok := evt.Payload.(*wire.Profile); ok {
			err = c.handleRegistrationSuccess(p)
		}
	case kindRegistrationError:
		if e, ok := evt.Payload.(*wire.RegistrationError); ok {
			c.handleRegistrationError(e)
		}
	case kindPromoResult:
		if r, ok := evt.Payload.(*wire.PromoResult); ok {
			err = c.handlePromoResult(r)
		}
	case kindAdminData:
		if d, ok := evt.Payload.(*wire.AdminData); ok {
			c.bus.Publish(bus.Now("chat.admin_data", d))
		}
	}
	if err != nil {
		c.logger.Error("event handling failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (c *Controller) handleStatus(s channel.Status) error {
	if s.Connected {
		if c.machine.Current() == status.Disconnected {
			return c.machine.Transition(status.Connected)
		}
		return nil
	}
	if c.machine.Current() == status.Connected {
		return c.machine.Transition(status.Disconnected)
	}
	return nil
}

// handleInitState reconciles the chat list against a full directory
// snapshot: every unseen peer is appended after existing chats, in
// directory order, with a zero unread count.
func (c *Controller) handleInitState(st *wire.InitState) error {
	if c.active == nil {
		return nil
	}
	for _, u := range st.Users {
		if u.Username == c.active.Username {
			continue
		}
		c.dir.Insert(u)
		if err := c.db.InsertChatBack(chatFromProfile(c.active.ID, &u)); err != nil {
			return fmt.Errorf("insert chat for %q: %w", u.Username, err)
		}
	}
	c.bus.Publish(bus.Now("chat.list_changed", c.active.ID))
	return nil
}

// handleUserJoined prepends a chat for a newly registered peer and seeds
// the conversation with one system message. Idempotent: a known peer is
// only marked online.
func (c *Controller) handleUserJoined(p *wire.Profile) error {
	if c.active == nil || p.Username == c.active.Username {
		return nil
	}
	c.dir.Insert(*p)

	existing, err := c.db.GetChat(c.active.ID, p.Username)
	if err != nil {
		return err
	}
	if existing != nil {
		return c.db.SetChatOnline(c.active.ID, p.Username, true)
	}

	chat := chatFromProfile(c.active.ID, p)
	chat.Online = true
	if err := c.db.InsertChatFront(chat); err != nil {
		return err
	}
	seed := &store.Message{
		ConversationID: p.Username,
		MsgID:          uuid.NewString(),
		Body:           displayName(p) + " joined Courier",
		Direction:      store.DirectionPeer,
		Status:         store.StatusRead,
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := c.db.AppendMessage(seed); err != nil {
		return err
	}
	c.bus.Publish(bus.Now("chat.list_changed", c.active.ID))
	return nil
}

// handleNewMessage routes an inbound message. A conversation id equal to
// the local identity means "addressed to me": the thread is the sender's.
// Anything else (groups) is used as-is. The target chat is created on the
// fly if unseen, the unread counter bumps unless the chat is being
// viewed, and the chat moves to the front unconditionally.
func (c *Controller) handleNewMessage(m *wire.Message) error {
	if c.active == nil {
		return nil
	}
	target := c.resolveConversation(m.ConversationID, m.SenderID, m.IsGroup)

	if err := c.ensureChat(target, m); err != nil {
		return err
	}

	direction := store.DirectionPeer
	if m.SenderID == c.active.Username {
		direction = store.DirectionSelf
	}
	msg := &store.Message{
		ConversationID: target,
		MsgID:          m.ID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Body,
		Direction:      direction,
		Status:         store.StatusDelivered,
		AttachmentKind: m.AttachmentKind,
		AttachmentRef:  m.AttachmentRef,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
		Duration:       m.Duration,
		Timestamp:      m.Timestamp,
	}
	if err := c.db.AppendMessage(msg); err != nil {
		return fmt.Errorf("append message %q: %w", m.ID, err)
	}
	if err := c.db.UpdateChatPreview(c.active.ID, target, previewText(m), m.SenderID, m.Timestamp); err != nil {
		return err
	}

	if c.activeConv == target {
		// Viewed live: stays at zero unread and is read immediately.
		if direction == store.DirectionPeer {
			if err := c.db.MarkMessagesRead(target, []string{m.ID}); err != nil {
				return err
			}
			_ = c.emitter.SendReadReceipt(wire.ReadReceipt{
				ConversationID: target,
				MessageIDs:     []string{m.ID},
				ReaderID:       c.active.Username,
			})
		}
	} else if direction == store.DirectionPeer {
		if err := c.db.IncrementUnread(c.active.ID, target); err != nil {
			return err
		}
	}

	if err := c.db.MoveChatToFront(c.active.ID, target); err != nil {
		return err
	}
	c.bus.Publish(bus.Now("chat.message", target))
	return nil
}

// handleMessageRead applies an inbound read receipt, resolving the
// conversation with the same self-vs-partner rule as inbound routing:
// direct receipts arrive keyed by the reader, groups by the literal id.
func (c *Controller) handleMessageRead(r *wire.ReadReceipt) error {
	if c.active == nil {
		return nil
	}
	key := r.ConversationID
	chat, err := c.db.GetChat(c.active.ID, key)
	if err != nil {
		return err
	}
	if chat == nil || !chat.IsGroup {
		key = r.ReaderID
	}
	if err := c.db.MarkMessagesRead(key, r.MessageIDs); err != nil {
		return err
	}
	c.bus.Publish(bus.Now("chat.receipt", key))
	return nil
}

func (c *Controller) handleUserUpdated(p *wire.Profile) error {
	if c.active == nil {
		return nil
	}
	c.dir.Insert(*p)

	if p.ID == c.active.ID {
		c.active.DisplayName = p.DisplayName
		c.active.Bio = p.Bio
		c.active.Phone = p.Phone
		c.active.IsPremium = p.IsPremium
		return c.db.UpsertAccount(c.active)
	}
	chat, err := c.db.GetChat(c.active.ID, p.Username)
	if err != nil || chat == nil {
		return err
	}
	return c.db.UpdateChatIdentity(c.active.ID, p.Username, displayName(p), p.AvatarColor, p.Bio)
}

func (c *Controller) handleRegistrationSuccess(p *wire.Profile) error {
	if c.active == nil || p.ID != c.active.ID {
		return nil
	}
	if err := c.db.MarkRegistered(c.active.ID); err != nil {
		return err
	}
	c.active.Registered = true
	if err := c.machine.Transition(status.Connected); err != nil {
		return err
	}
	// Future reconnects re-announce presence instead of re-registering.
	_ = c.emitter.AnnouncePresence(c.active.Username)
	c.bus.Publish(bus.Now("session.registered", *p))
	return nil
}

// handleRegistrationError keeps the session in Registering; the conflict
// is surfaced to observers and the user picks another username.
func (c *Controller) handleRegistrationError(e *wire.RegistrationError) {
	c.logger.Warn("registration rejected", zap.String("reason", e.Message))
	c.bus.Publish(bus.Now("session.registration_failed", e.Message))
}

func (c *Controller) handlePromoResult(r *wire.PromoResult) error {
	c.bus.Publish(bus.Now("session.promo_result", r))
	if !r.Success || c.active == nil {
		return nil
	}
	c.active.IsPremium = true
	return c.db.SetPremium(c.active.ID, true)
}

// resolveConversation disambiguates a conversation id: the local identity
// means the thread belongs to the sender; anything else is literal.
func (c *Controller) resolveConversation(conversationID, senderID string, isGroup bool) string {
	if !isGroup && (conversationID == c.active.Username || conversationID == c.active.ID) {
		return senderID
	}
	return conversationID
}

// ensureChat creates the target chat on the fly for a previously unseen
// correspondent, enriched from the directory when possible.
func (c *Controller) ensureChat(target string, m *wire.Message) error {
	existing, err := c.db.GetChat(c.active.ID, target)
	if err != nil || existing != nil {
		return err
	}

	chat := &store.Chat{
		AccountID:      c.active.ID,
		ConversationID: target,
		Name:           target,
		AvatarColor:    profiles.ColorFor(target),
		Username:       target,
		IsGroup:        m.IsGroup,
	}
	if p, ok := c.dir.Get(target); ok {
		chat.Name = displayName(&p)
		chat.AvatarColor = p.AvatarColor
		chat.Bio = p.Bio
		chat.IsBot = p.IsBot
	}
	return c.db.InsertChatFront(chat)
}

func chatFromProfile(accountID string, p *wire.Profile) *store.Chat {
	return &store.Chat{
		AccountID:      accountID,
		ConversationID: p.Username,
		Name:           displayName(p),
		AvatarColor:    p.AvatarColor,
		Username:       p.Username,
		Bio:            p.Bio,
		IsBot:          p.IsBot,
	}
}

func displayName(p *wire.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

func previewText(m *wire.Message) string {
	switch m.AttachmentKind {
	case wire.AttachmentVoice:
		return "Voice message"
	case wire.AttachmentImage:
		return "Photo"
	case wire.AttachmentFile:
		if m.FileName != "" {
			return m.FileName
		}
		return "File"
	}
	return m.Body
}
