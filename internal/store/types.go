package store

// Message delivery statuses. A message may additionally be 'pending' or
// 'failed' while the outbox owns it; 'read' is terminal and never reverts.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message directions relative to the local account.
const (
	DirectionSelf = "self"
	DirectionPeer = "peer"
)

// Outbox entry statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Account is a locally registered identity.
type Account struct {
	ID              string
	Username        string
	DisplayName     string
	Phone           string
	Bio             string
	AvatarColor     string
	IsPremium       bool
	IsAdmin         bool
	PhonePrivacy    string
	LastSeenPrivacy string
	BioPrivacy      string
	Registered      bool
	CreatedAt       int64
}

// Chat is one conversation preview in an account's chat list.
// ConversationID is the counterparty's username for direct chats and a
// generated id for groups; it is unique within an account's list.
type Chat struct {
	AccountID      string
	ConversationID string
	Name           string
	AvatarColor    string
	LastMessage    string
	LastSender     string
	LastActivity   int64
	UnreadCount    int
	Online         bool
	IsBot          bool
	IsGroup        bool
	Username       string
	Bio            string
	MemberIDs      []string
	MemberCount    int
	IsGroupAdmin   bool
	Muted          bool
}

// Message is one stored chat message.
type Message struct {
	ConversationID string
	MsgID          string
	SenderID       string
	SenderName     string
	Body           string
	Direction      string
	Status         string
	AttachmentKind string
	AttachmentRef  string
	FileName       string
	FileSize       int64
	Duration       int64
	Timestamp      int64
}

// OutboxEntry is a pending outbound message.
type OutboxEntry struct {
	ClientMsgID    string
	AccountID      string
	ConversationID string
	RecipientID    string
	Body           string
	IsGroup        bool
	AttachmentKind string
	AttachmentRef  string
	Status         string
	ErrorMessage   string
}
