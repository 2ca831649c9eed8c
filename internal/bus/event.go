package bus

import "time"

// Event kind namespaces published on the bus.
//
//	live.*         decoded transport events, consumed by the reconciliation engine
//	message.*      store mutations affecting message rows
//	conversation.* store mutations affecting conversation rows
//	typing.*       transient typing indicators (never persisted)
//	presence.*     participant online/last-seen changes
//	conn.*         connection lifecycle transitions
//	sync.*         catch-up sync progress
const (
	KindLiveConversation = "live.conversation"
	KindLiveMessage      = "live.message"
	KindLiveTyping       = "live.typing"
	KindLiveStatus       = "live.status"
	KindLiveReadReceipt  = "live.read_receipt"
	KindLivePresence     = "live.presence"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConversationUpdated = "conversation.updated"
	KindTyping              = "typing.changed"
	KindPresenceChanged     = "presence.changed"
	KindConnStatusChanged   = "conn.status_changed"
	KindSyncCompleted       = "sync.completed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
