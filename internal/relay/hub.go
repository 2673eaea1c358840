// Package relay implements the fan-out server courier clients connect
// to. The hub keeps one websocket per identity, persists every message,
// and routes frames between connections; it never reaches into client
// databases.
package relay

import (
	"strings"

	"go.uber.org/zap"

	"courier/internal/wire"
)

// frame is one decoded inbound frame tagged with its connection.
type frame struct {
	client  *Client
	typ     wire.FrameType
	payload any
}

func decodeInbound(data []byte) (frame, error) {
	t, payload, err := wire.Decode(data)
	if err != nil {
		return frame{}, err
	}
	return frame{typ: t, payload: payload}, nil
}

// Hub routes frames between connected clients. All state is owned by the
// Run goroutine; other goroutines talk to it through channels only.
type Hub struct {
	store  *Store
	logger *zap.Logger

	// promoCodes is the set of codes the relay accepts, uppercase.
	promoCodes map[string]bool

	clients    map[*Client]bool
	byUsername map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan frame
}

// NewHub creates a hub accepting the given promo codes.
func NewHub(store *Store, promoCodes []string, logger *zap.Logger) *Hub {
	codes := make(map[string]bool, len(promoCodes))
	for _, c := range promoCodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			codes[c] = true
		}
	}
	return &Hub{
		store:      store,
		logger:     logger,
		promoCodes: codes,
		clients:    make(map[*Client]bool),
		byUsername: make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 64),
	}
}

// Run processes hub events until the channels close. Call once.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				if c.username != "" && h.byUsername[c.username] == c {
					delete(h.byUsername, c.username)
				}
				close(c.send)
			}
		case f := <-h.inbound:
			h.dispatch(f)
		}
	}
}

func (h *Hub) dispatch(f frame) {
	switch f.typ {
	case wire.FrameRegister:
		if r, ok := f.payload.(*wire.Register); ok {
			h.handleRegister(f.client, r.Profile)
		}
	case wire.FramePresence:
		if p, ok := f.payload.(*wire.Presence); ok {
			h.handlePresence(f.client, p.UserID)
		}
	case wire.FrameSendMessage:
		if sm, ok := f.payload.(*wire.SendMessage); ok {
			h.handleSend(f.client, sm)
		}
	case wire.FrameMessageRead:
		if r, ok := f.payload.(*wire.ReadReceipt); ok {
			h.handleRead(f.client, r)
		}
	case wire.FrameRedeemPromo:
		if r, ok := f.payload.(*wire.RedeemPromo); ok {
			h.handlePromo(f.client, r)
		}
	case wire.FrameAdminGetAllData:
		if r, ok := f.payload.(*wire.AdminRequest); ok {
			h.handleAdmin(f.client, r)
		}
	default:
		h.logger.Warn("unexpected frame", zap.String("type", string(f.typ)))
	}
}

// handleRegister claims a username. Re-registering the same username with
// the same profile id is a profile update; a different id is a conflict.
func (h *Hub) handleRegister(c *Client, p wire.Profile) {
	existing, err := h.store.GetUserByUsername(p.Username)
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		h.send(c, wire.FrameRegistrationError, wire.RegistrationError{Message: "internal error"})
		return
	}
	if existing != nil && existing.ID != p.ID {
		h.send(c, wire.FrameRegistrationError, wire.RegistrationError{Message: "username already taken"})
		return
	}
	update := existing != nil

	// Premium and admin are relay-owned flags; a client cannot grant
	// itself either through a profile update.
	if update {
		p.IsPremium = existing.IsPremium
		p.IsAdmin = existing.IsAdmin
	} else {
		p.IsPremium = false
	}

	if err := h.store.SaveUser(p); err != nil {
		h.logger.Error("user save failed", zap.Error(err))
		h.send(c, wire.FrameRegistrationError, wire.RegistrationError{Message: "internal error"})
		return
	}
	h.bind(c, p.Username)
	h.send(c, wire.FrameRegistrationSuccess, p)
	h.sendSnapshot(c)

	if update {
		h.broadcast(wire.FrameUserUpdated, p, "")
	} else {
		h.broadcast(wire.FrameUserJoined, p, p.Username)
		h.logger.Info("user registered", zap.String("username", p.Username))
	}
}

// handlePresence re-binds a reconnected connection to a known identity
// and replays the directory snapshot.
func (h *Hub) handlePresence(c *Client, username string) {
	user, err := h.store.GetUserByUsername(username)
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		return
	}
	if user == nil {
		h.send(c, wire.FrameRegistrationError, wire.RegistrationError{Message: "unknown identity"})
		return
	}
	h.bind(c, username)
	h.sendSnapshot(c)
}

// handleSend persists the message and routes it: direct messages go to
// the recipient's connection unchanged, group messages to everyone else.
func (h *Hub) handleSend(c *Client, sm *wire.SendMessage) {
	if c.username == "" {
		return
	}
	m := sm.Message
	m.SenderID = c.username // the connection's identity wins
	m.IsGroup = m.IsGroup || sm.IsGroup

	if err := h.store.SaveMessage(m); err != nil {
		h.logger.Error("message save failed", zap.String("msg", m.ID), zap.Error(err))
		return
	}

	if m.IsGroup {
		h.broadcast(wire.FrameNewMessage, m, c.username)
		return
	}
	if peer, ok := h.byUsername[sm.RecipientID]; ok {
		h.send(peer, wire.FrameNewMessage, m)
	}
}

// handleRead forwards a receipt. For direct chats the conversation id
// names the message author; groups fan out to everyone but the reader.
func (h *Hub) handleRead(c *Client, r *wire.ReadReceipt) {
	if c.username == "" {
		return
	}
	r.ReaderID = c.username
	if peer, ok := h.byUsername[r.ConversationID]; ok {
		h.send(peer, wire.FrameMessageRead, r)
		return
	}
	h.broadcast(wire.FrameMessageRead, r, c.username)
}

func (h *Hub) handlePromo(c *Client, r *wire.RedeemPromo) {
	user, err := h.store.GetUserByUsername(c.username)
	if err != nil || user == nil {
		h.send(c, wire.FramePromoResult, wire.PromoResult{Success: false, Message: "unknown identity"})
		return
	}

	code := strings.ToUpper(strings.TrimSpace(r.Code))
	if !h.promoCodes[code] {
		h.send(c, wire.FramePromoResult, wire.PromoResult{Success: false, Message: "invalid promo code"})
		return
	}
	fresh, err := h.store.RedeemCode(user.ID, code)
	if err != nil {
		h.logger.Error("promo redemption failed", zap.Error(err))
		h.send(c, wire.FramePromoResult, wire.PromoResult{Success: false, Message: "internal error"})
		return
	}
	if !fresh {
		h.send(c, wire.FramePromoResult, wire.PromoResult{Success: false, Message: "code already used"})
		return
	}

	if err := h.store.SetPremium(user.ID, true); err != nil {
		h.logger.Error("premium grant failed", zap.Error(err))
		h.send(c, wire.FramePromoResult, wire.PromoResult{Success: false, Message: "internal error"})
		return
	}
	user.IsPremium = true
	h.send(c, wire.FramePromoResult, wire.PromoResult{Success: true, Message: "premium activated"})
	h.broadcast(wire.FrameUserUpdated, *user, "")
}

// handleAdmin answers only admin-flagged identities; everyone else is
// silently ignored.
func (h *Hub) handleAdmin(c *Client, _ *wire.AdminRequest) {
	user, err := h.store.GetUserByUsername(c.username)
	if err != nil || user == nil || !user.IsAdmin {
		return
	}
	msgs, err := h.store.AllMessages()
	if err != nil {
		h.logger.Error("message export failed", zap.Error(err))
		return
	}
	h.send(c, wire.FrameAdminData, wire.AdminData{Messages: msgs})
}

// bind associates a connection with a username, displacing a stale
// connection for the same identity.
func (h *Hub) bind(c *Client, username string) {
	if old, ok := h.byUsername[username]; ok && old != c {
		delete(h.clients, old)
		close(old.send)
	}
	c.username = username
	h.byUsername[username] = c
}

func (h *Hub) sendSnapshot(c *Client) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.logger.Error("directory snapshot failed", zap.Error(err))
		return
	}
	h.send(c, wire.FrameInitState, wire.InitState{Users: users})
}

// send encodes a frame onto one client's queue, dropping it if the
// client cannot keep up.
func (h *Hub) send(c *Client, t wire.FrameType, payload any) {
	data, err := wire.Encode(t, payload)
	if err != nil {
		h.logger.Error("frame encode failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		h.drop(c)
	}
}

// broadcast sends a frame to every bound client except skipUsername.
func (h *Hub) broadcast(t wire.FrameType, payload any, skipUsername string) {
	data, err := wire.Encode(t, payload)
	if err != nil {
		h.logger.Error("frame encode failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	for c := range h.clients {
		if c.username == "" || c.username == skipUsername {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	if c.username != "" && h.byUsername[c.username] == c {
		delete(h.byUsername, c.username)
	}
	close(c.send)
}
