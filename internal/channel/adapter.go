// Package channel maintains the client's websocket connection to the
// relay. Inbound frames are decoded and published on the bus under
// "relay.*"; outbound calls are typed emissions that silently no-op
// while disconnected.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/wire"
)

// ErrNotConnected is returned by Send when the relay is unreachable, so
// the outbox can keep the entry queued for the next connection.
var ErrNotConnected = errors.New("channel: not connected")

// Status is the payload of "relay.status" events.
type Status struct {
	Connected bool
}

const (
	writeWait        = 10 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Adapter wraps one relay connection. It holds no business state beyond
// the last known profile and identity, kept solely so reconnection can
// re-announce who this session is.
type Adapter struct {
	url    string
	bus    *bus.Bus
	logger *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	lastProfile *wire.Profile
	lastUserID  string

	cancel context.CancelFunc
}

// NewAdapter creates an adapter for the given relay websocket URL.
func NewAdapter(url string, b *bus.Bus, logger *zap.Logger) *Adapter {
	return &Adapter{url: url, bus: b, logger: logger}
}

// Connect starts the connection loop. It returns immediately; the loop
// dials, reads until failure, backs off and redials until ctx ends.
func (a *Adapter) Connect(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.run(ctx)
}

// Disconnect stops the connection loop and closes the connection.
func (a *Adapter) Disconnect() {
	if a.cancel != nil {
		a.cancel()
	}
	a.dropConn()
}

// Reset drops the current connection, forcing a reconnection cycle.
// Used when the active identity changes.
func (a *Adapter) Reset() {
	a.dropConn()
}

func (a *Adapter) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, a.url, nil)
		if err != nil {
			a.logger.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		a.mu.Lock()
		a.conn = conn
		a.connected = true
		a.mu.Unlock()

		a.logger.Info("relay connected", zap.String("url", a.url))
		a.bus.Publish(bus.Now("relay.status", Status{Connected: true}))
		a.announceIdentity()

		a.readLoop(conn)

		a.mu.Lock()
		a.conn = nil
		a.connected = false
		a.mu.Unlock()

		a.logger.Warn("relay disconnected")
		a.bus.Publish(bus.Now("relay.status", Status{Connected: false}))
	}
}

// announceIdentity re-establishes who this session is after a (re)connect.
// Best effort and unacknowledged: a known identity re-announces presence,
// an unacknowledged one re-sends its registration.
func (a *Adapter) announceIdentity() {
	a.mu.Lock()
	userID := a.lastUserID
	profile := a.lastProfile
	a.mu.Unlock()

	switch {
	case userID != "":
		_ = a.write(wire.FramePresence, wire.Presence{UserID: userID})
	case profile != nil:
		_ = a.write(wire.FrameRegister, wire.Register{Profile: *profile})
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn("relay read error", zap.Error(err))
			}
			return
		}

		ft, payload, err := wire.Decode(data)
		if err != nil {
			a.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		a.bus.Publish(bus.Now("relay."+string(ft), payload))
	}
}

// Register announces a new identity to the relay. The profile is kept
// for automatic re-registration after reconnects.
func (a *Adapter) Register(p wire.Profile) error {
	a.mu.Lock()
	a.lastProfile = &p
	a.lastUserID = ""
	a.mu.Unlock()
	return a.writeOrDrop(wire.FrameRegister, wire.Register{Profile: p})
}

// AnnouncePresence binds this session to an already-registered identity.
func (a *Adapter) AnnouncePresence(userID string) error {
	a.mu.Lock()
	a.lastUserID = userID
	a.lastProfile = nil
	a.mu.Unlock()
	return a.writeOrDrop(wire.FramePresence, wire.Presence{UserID: userID})
}

// Send emits one message. Unlike the other emissions it reports
// ErrNotConnected instead of dropping, so the caller can retry later.
func (a *Adapter) Send(m wire.Message, recipientID string, isGroup bool) error {
	return a.write(wire.FrameSendMessage, wire.SendMessage{
		Message:     m,
		RecipientID: recipientID,
		IsGroup:     isGroup,
	})
}

// SendReadReceipt announces viewed message ids.
func (a *Adapter) SendReadReceipt(r wire.ReadReceipt) error {
	return a.writeOrDrop(wire.FrameMessageRead, r)
}

// RedeemPromo redeems a promo code.
func (a *Adapter) RedeemPromo(userID, code string) error {
	return a.writeOrDrop(wire.FrameRedeemPromo, wire.RedeemPromo{UserID: userID, Code: code})
}

// RequestAdminData asks for the relay's full message log.
func (a *Adapter) RequestAdminData(userID string) error {
	return a.writeOrDrop(wire.FrameAdminGetAllData, wire.AdminRequest{UserID: userID})
}

// writeOrDrop swallows ErrNotConnected: for these emissions a
// disconnected channel is a silent no-op.
func (a *Adapter) writeOrDrop(t wire.FrameType, payload any) error {
	err := a.write(t, payload)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (a *Adapter) write(t wire.FrameType, payload any) error {
	data, err := wire.Encode(t, payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return ErrNotConnected
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) dropConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.connected = false
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
