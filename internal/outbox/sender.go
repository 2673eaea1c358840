// Package outbox drains queued outbound messages to the relay. Sends are
// optimistic: the message already sits in the conversation with status
// 'pending', and the sender settles it to 'sent' or 'failed'.
package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/channel"
	"courier/internal/store"
	"courier/internal/wire"
)

const pollInterval = 500 * time.Millisecond

// RelaySender is the outbound message half of the relay channel.
type RelaySender interface {
	Send(m wire.Message, recipientID string, isGroup bool) error
}

// Identity exposes the active account; entries for other accounts stay
// queued until their owner becomes active again.
type Identity interface {
	ActiveAccount() *store.Account
}

// Sender polls the outbox table and pushes queued entries in FIFO order.
type Sender struct {
	db       *store.DB
	identity Identity
	relay    RelaySender
	bus      *bus.Bus
	logger   *zap.Logger

	cancel context.CancelFunc
}

func NewSender(db *store.DB, identity Identity, relay RelaySender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{db: db, identity: identity, relay: relay, bus: b, logger: logger}
}

// Start begins the drain loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-ctx.Done():
			return
		}
	}
}

// drain pushes every queued entry for the active account. A dead channel
// aborts the batch with the entry back in 'queued'; any other error is
// terminal for that entry and the message is marked 'failed'.
func (s *Sender) drain() {
	acct := s.identity.ActiveAccount()
	if acct == nil {
		return
	}

	entries, err := s.db.PendingOutbox(acct.ID)
	if err != nil {
		s.logger.Error("outbox query failed", zap.Error(err))
		return
	}

	for _, e := range entries {
		if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
			s.logger.Error("outbox claim failed", zap.String("msg", e.ClientMsgID), zap.Error(err))
			continue
		}

		err := s.relay.Send(s.buildMessage(acct, e), e.RecipientID, e.IsGroup)
		switch {
		case errors.Is(err, channel.ErrNotConnected):
			if err := s.db.DeferOutbox(e.ClientMsgID); err != nil {
				s.logger.Error("outbox defer failed", zap.String("msg", e.ClientMsgID), zap.Error(err))
			}
			return
		case err != nil:
			s.logger.Warn("send failed", zap.String("msg", e.ClientMsgID), zap.Error(err))
			if err := s.db.MarkOutboxFailed(e.ClientMsgID, err.Error()); err != nil {
				s.logger.Error("outbox update failed", zap.String("msg", e.ClientMsgID), zap.Error(err))
			}
			_ = s.db.SetMessageStatus(e.ConversationID, e.ClientMsgID, store.StatusFailed)
			s.bus.Publish(bus.Now("outbox.failed", e.ClientMsgID))
		default:
			if err := s.db.MarkOutboxSent(e.ClientMsgID); err != nil {
				s.logger.Error("outbox update failed", zap.String("msg", e.ClientMsgID), zap.Error(err))
			}
			_ = s.db.SetMessageStatus(e.ConversationID, e.ClientMsgID, store.StatusSent)
			s.bus.Publish(bus.Now("outbox.sent", e.ClientMsgID))
		}
	}
}

// buildMessage reconstructs the wire message from the stored copy; the
// outbox row alone lacks attachment metadata.
func (s *Sender) buildMessage(acct *store.Account, e store.OutboxEntry) wire.Message {
	m := wire.Message{
		ID:             e.ClientMsgID,
		ConversationID: e.ConversationID,
		SenderID:       acct.Username,
		SenderName:     acct.DisplayName,
		Body:           e.Body,
		IsGroup:        e.IsGroup,
		AttachmentKind: e.AttachmentKind,
		AttachmentRef:  e.AttachmentRef,
		Timestamp:      time.Now().UnixMilli(),
	}
	if stored, err := s.db.GetMessage(e.ConversationID, e.ClientMsgID); err == nil && stored != nil {
		m.FileName = stored.FileName
		m.FileSize = stored.FileSize
		m.Duration = stored.Duration
		m.Timestamp = stored.Timestamp
	}
	return m
}
