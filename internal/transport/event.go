package transport

import (
	"encoding/json"
	"fmt"
)

// Topic identifies one of the multiplexed inbound subscription channels.
type Topic string

const (
	TopicConversations Topic = "conversation-updates"
	TopicMessages      Topic = "messages"
	TopicTyping        Topic = "typing"
	TopicStatusUpdates Topic = "status-updates"
	TopicReadReceipts  Topic = "read-receipts"
	TopicPresence      Topic = "presence"
)

// AllTopics lists every topic the client subscribes to on connect.
var AllTopics = []Topic{
	TopicConversations,
	TopicMessages,
	TopicTyping,
	TopicStatusUpdates,
	TopicReadReceipts,
	TopicPresence,
}

// Outbound action kinds accepted by Client.Send.
const (
	ActionChatSend      = "chat-send"
	ActionChatTyping    = "chat-typing"
	ActionChatRead      = "chat-read"
	ActionChatDelivered = "chat-delivered"
)

// Event is the closed set of decoded inbound live events. Exactly one
// concrete type exists per topic, so consumers can switch exhaustively.
type Event interface {
	isEvent()
}

// ConversationUpdate refreshes a conversation snippet.
type ConversationUpdate struct {
	ConversationID string `json:"conversationId"`
	LastMessage    string `json:"lastMessage"`
	Timestamp      int64  `json:"timestamp"`
}

// MessageEvent is an inbound chat message (or an echo of our own).
type MessageEvent struct {
	MsgID          string            `json:"messageId"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	RecipientID    string            `json:"recipientId"`
	Content        string            `json:"content"`
	MessageType    string            `json:"messageType"`
	Timestamp      int64             `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TypingEvent signals a participant started or stopped typing.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// StatusUpdate reports a delivery-state change for a message.
type StatusUpdate struct {
	MsgID          string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
}

// ReadReceipt reports that a participant read a message.
type ReadReceipt struct {
	MsgID          string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
	Timestamp      int64  `json:"timestamp"`
}

// PresenceEvent reports a participant's online state.
type PresenceEvent struct {
	UserID     string `json:"userId"`
	Online     bool   `json:"online"`
	LastSeenAt int64  `json:"lastSeenAt"`
}

func (ConversationUpdate) isEvent() {}
func (MessageEvent) isEvent()       {}
func (TypingEvent) isEvent()        {}
func (StatusUpdate) isEvent()       {}
func (ReadReceipt) isEvent()        {}
func (PresenceEvent) isEvent()      {}

// Decode parses a topic payload into its typed event. An error means the
// payload is malformed for that topic; the caller drops it and keeps reading.
func Decode(topic Topic, data []byte) (Event, error) {
	var evt Event
	switch topic {
	case TopicConversations:
		evt = &ConversationUpdate{}
	case TopicMessages:
		evt = &MessageEvent{}
	case TopicTyping:
		evt = &TypingEvent{}
	case TopicStatusUpdates:
		evt = &StatusUpdate{}
	case TopicReadReceipts:
		evt = &ReadReceipt{}
	case TopicPresence:
		evt = &PresenceEvent{}
	default:
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", topic, err)
	}
	return evt, nil
}
