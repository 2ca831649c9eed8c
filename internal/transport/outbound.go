package transport

// Outbound action payloads. The chat-send payload carries no client temp id:
// the server assigns the authoritative message id, and the sender correlates
// the eventual echo by content and timestamp proximity.

// OutboundChat is the chat-send payload.
type OutboundChat struct {
	ConversationID string            `json:"conversationId"`
	RecipientID    string            `json:"recipientId"`
	Content        string            `json:"content"`
	MessageType    string            `json:"messageType"`
	Timestamp      int64             `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OutboundTyping is the chat-typing payload.
type OutboundTyping struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// OutboundRead is the chat-read payload: the caller read everything in the
// conversation up to the given timestamp.
type OutboundRead struct {
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
}

// OutboundDelivered is the chat-delivered payload acknowledging receipt of a
// single message.
type OutboundDelivered struct {
	ConversationID string `json:"conversationId"`
	MsgID          string `json:"messageId"`
}
