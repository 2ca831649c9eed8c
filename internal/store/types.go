package store

import "strings"

// Message statuses. Forward progress follows the precedence order
// Pending < Sent < Delivered < Read; Failed and Deleted are terminal.
const (
	StatusPending   = "PENDING"
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
	StatusFailed    = "FAILED"
	StatusDeleted   = "DELETED"
)

// Message types.
const (
	TypeText   = "TEXT"
	TypeImage  = "IMAGE"
	TypeVideo  = "VIDEO"
	TypeVoice  = "VOICE"
	TypeSystem = "SYSTEM"
)

var statusRank = map[string]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// MergeStatus resolves the effective status when a new status report arrives
// for a message already known at status current. Failed and Deleted absorb:
// they are reachable from any status and never overwritten by a
// lower-precedence one. Otherwise the higher-precedence status wins, so a
// stale SENT can never downgrade a DELIVERED or READ row.
func MergeStatus(current, incoming string) string {
	if current == StatusFailed || current == StatusDeleted {
		return current
	}
	if incoming == StatusFailed || incoming == StatusDeleted {
		return incoming
	}
	if statusRank[incoming] > statusRank[current] {
		return incoming
	}
	return current
}

// ConversationID derives the deterministic id for a two-party conversation.
// The lexicographically smaller user id comes first, so both parties compute
// the same id without a server round-trip.
func ConversationID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// Conversation represents a messaging thread between two participants.
type Conversation struct {
	ID                 string
	LastMessagePreview string
	LastMessageAt      int64 // epoch millis, 0 until the first message
	UpdatedAt          int64
}

// Participant represents a user profile shared across conversations.
type Participant struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Online      bool
	LastSeenAt  int64 // epoch millis, 0 if never seen
}

// Membership is one row of the conversation-participant join relation.
type Membership struct {
	ConversationID string
	UserID         string
	UnreadCount    int
	LastReadAt     int64
}

// Message represents a chat message.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Content        string
	MessageType    string
	Status         string
	Timestamp      int64
	Metadata       map[string]string
}

// RecentChat is the denormalized conversation-list projection, one row per
// conversation partner, scoped to the viewing user. Rebuilt on every relevant
// write, never authoritative.
type RecentChat struct {
	PartnerID        string
	ConversationID   string
	PartnerName      string
	PartnerAvatarURL string
	LastMessage      string
	LastMessageAt    int64
	UnreadCount      int
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	RecipientID    string
	Content        string
	MessageType    string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64 // epoch millis
}
