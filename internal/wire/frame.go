// Package wire defines the JSON frame protocol spoken between courier
// clients and the relay. The frame set is closed: every frame type has
// exactly one payload struct, and Decode rejects anything else.
package wire

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates the envelope payload.
type FrameType string

// Client-to-relay frames.
const (
	FrameRegister        FrameType = "register"
	FramePresence        FrameType = "presence"
	FrameSendMessage     FrameType = "send_message"
	FrameMessageRead     FrameType = "message_read"
	FrameRedeemPromo     FrameType = "redeem_promo"
	FrameAdminGetAllData FrameType = "admin_get_all_data"
)

// Relay-to-client frames.
const (
	FrameInitState           FrameType = "init_state"
	FrameUserJoined          FrameType = "user_joined"
	FrameNewMessage          FrameType = "new_message"
	FrameUserUpdated         FrameType = "user_updated"
	FrameRegistrationSuccess FrameType = "registration_success"
	FrameRegistrationError   FrameType = "registration_error"
	FramePromoResult         FrameType = "promo_result"
	FrameAdminData           FrameType = "admin_data"
)

// Envelope is the outer JSON shape of every frame.
type Envelope struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Visibility values for per-field privacy preferences.
const (
	VisibilityEverybody = "everybody"
	VisibilityNobody    = "nobody"
)

// Privacy holds per-field visibility preferences.
type Privacy struct {
	Phone    string `json:"phone"`
	LastSeen string `json:"last_seen"`
	Bio      string `json:"bio"`
}

// DefaultPrivacy returns the preference set assigned at registration.
func DefaultPrivacy() Privacy {
	return Privacy{
		Phone:    VisibilityEverybody,
		LastSeen: VisibilityEverybody,
		Bio:      VisibilityEverybody,
	}
}

// Profile is the identity record exchanged with the relay.
type Profile struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Phone       string  `json:"phone,omitempty"`
	Bio         string  `json:"bio,omitempty"`
	AvatarColor string  `json:"avatar_color,omitempty"`
	IsPremium   bool    `json:"is_premium,omitempty"`
	IsAdmin     bool    `json:"is_admin,omitempty"`
	IsBot       bool    `json:"is_bot,omitempty"`
	Privacy     Privacy `json:"privacy"`
}

// Attachment kinds carried on a message. Empty means plain text.
const (
	AttachmentVoice = "voice"
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// Message is a chat message as it travels over the relay.
// ConversationID is the thread key as the sender sees it: for a direct
// message it is the recipient's username, for a group it is the group id.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Body           string `json:"body"`
	IsGroup        bool   `json:"is_group,omitempty"`
	AttachmentKind string `json:"attachment_kind,omitempty"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	Duration       int64  `json:"duration,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Register asks the relay to create an identity. The relay answers with
// registration_success or registration_error.
type Register struct {
	Profile Profile `json:"profile"`
}

// Presence re-binds a reconnected connection to an existing identity.
type Presence struct {
	UserID string `json:"user_id"`
}

// SendMessage carries one outbound message plus routing hints.
type SendMessage struct {
	Message     Message `json:"message"`
	RecipientID string  `json:"recipient_id,omitempty"`
	IsGroup     bool    `json:"is_group,omitempty"`
}

// ReadReceipt announces that specific message ids have been viewed.
// For direct chats ConversationID names the message author; the author
// resolves the receipt to their thread with ReaderID.
type ReadReceipt struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	ReaderID       string   `json:"reader_id"`
}

// RedeemPromo redeems a promo code for a user.
type RedeemPromo struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

// AdminRequest asks for the relay's full message log.
type AdminRequest struct {
	UserID string `json:"user_id"`
}

// InitState is the full directory snapshot sent after registration.
type InitState struct {
	Users []Profile `json:"users"`
}

// RegistrationError reports a rejected registration (username taken).
type RegistrationError struct {
	Message string `json:"message"`
}

// PromoResult reports the outcome of a promo redemption.
type PromoResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AdminData carries the relay's full message log.
type AdminData struct {
	Messages []Message `json:"messages"`
}

// Encode wraps a payload in an envelope and marshals it.
func Encode(t FrameType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Decode parses an envelope and returns its typed payload. The returned
// value is always a pointer to one of the payload structs above; unknown
// frame types are an error so handlers can type-switch exhaustively.
func Decode(data []byte) (FrameType, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var payload any
	switch env.Type {
	case FrameRegister:
		payload = new(Register)
	case FramePresence:
		payload = new(Presence)
	case FrameSendMessage:
		payload = new(SendMessage)
	case FrameMessageRead:
		payload = new(ReadReceipt)
	case FrameRedeemPromo:
		payload = new(RedeemPromo)
	case FrameAdminGetAllData:
		payload = new(AdminRequest)
	case FrameInitState:
		payload = new(InitState)
	case FrameUserJoined, FrameUserUpdated, FrameRegistrationSuccess:
		payload = new(Profile)
	case FrameNewMessage:
		payload = new(Message)
	case FrameRegistrationError:
		payload = new(RegistrationError)
	case FramePromoResult:
		payload = new(PromoResult)
	case FrameAdminData:
		payload = new(AdminData)
	default:
		return env.Type, nil, fmt.Errorf("unknown frame type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return env.Type, nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return env.Type, payload, nil
}
