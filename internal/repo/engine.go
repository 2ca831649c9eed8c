// Package repo is the reconciliation engine: the single authority translating
// live events, catch-up sync results and local user actions into store
// mutations. All writes funnel through one sequential apply path, so no row
// ever sees two concurrent writers.
package repo

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/store"
	"github.com/prohands/chatsync/internal/syncapi"
	"github.com/prohands/chatsync/internal/transport"
	"go.uber.org/zap"
)

// correlationWindow bounds the timestamp distance when matching a server echo
// against an outstanding optimistic row. Identical rapid sends inside the
// window collapse to one row; the protocol carries no idempotency key to do
// better.
const correlationWindow = 30 * time.Second

// Sender is the outbound side of the live transport.
type Sender interface {
	Send(action string, payload any) error
}

// SyncClient is the catch-up REST surface the engine consumes.
type SyncClient interface {
	Sync(ctx context.Context, since time.Time) (*syncapi.SyncResult, error)
	History(ctx context.Context, chatID string, page, size int) (*syncapi.HistoryPage, error)
}

// Engine owns all chat-data writes to the store.
type Engine struct {
	db        *store.DB
	transport Sender
	api       SyncClient
	bus       *bus.Bus
	logger    *zap.Logger
	localUser string
	cancel    context.CancelFunc
}

// NewEngine creates a reconciliation engine for the signed-in user.
func NewEngine(db *store.DB, t Sender, api SyncClient, b *bus.Bus, localUser string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:        db,
		transport: t,
		api:       api,
		bus:       b,
		logger:    logger,
		localUser: localUser,
	}
}

// Start subscribes to decoded live events on the bus. One goroutine drains
// the subscription, so every apply is serialized.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("live.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the apply loop. In-flight applies finish; nothing new starts.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// handleEvent dispatches one decoded transport event. A store failure is
// fatal to that single event only; the loop keeps consuming.
func (e *Engine) handleEvent(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case *transport.MessageEvent:
		err = e.ApplyMessage(p)
	case *transport.StatusUpdate:
		err = e.ApplyStatusUpdate(p)
	case *transport.ReadReceipt:
		err = e.ApplyReadReceipt(p)
	case *transport.PresenceEvent:
		err = e.ApplyPresence(p)
	case *transport.ConversationUpdate:
		err = e.ApplyConversationUpdate(p)
	case *transport.TypingEvent:
		e.applyTyping(p)
	default:
		e.logger.Warn("unhandled live event", zap.String("kind", evt.Kind))
	}
	if err != nil {
		e.logger.Error("apply failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// ApplyMessage ingests one inbound message idempotently. Re-applying the same
// message id never duplicates the row or double-increments unread counters.
func (e *Engine) ApplyMessage(m *transport.MessageEvent) error {
	existing, err := e.db.GetMessage(m.ConversationID, m.MsgID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if existing != nil {
		// Known id: only the status can move, and only forward.
		merged := store.MergeStatus(existing.Status, incomingStatus(m, e.localUser))
		if merged != existing.Status {
			if err := e.db.SetMessageStatus(m.ConversationID, m.MsgID, merged); err != nil {
				return fmt.Errorf("merge status: %w", err)
			}
			e.publishMessage(m.ConversationID, m.MsgID)
		}
		return nil
	}

	if m.SenderID == e.localUser {
		return e.applyOwnEcho(m)
	}
	return e.applyInbound(m)
}

// applyInbound handles a message from the conversation partner: upsert the
// row, bump the local unread counter, refresh the snippet and projection, and
// acknowledge delivery.
func (e *Engine) applyInbound(m *transport.MessageEvent) error {
	if err := e.ensureConversation(m.ConversationID, m.SenderID, m.RecipientID); err != nil {
		return err
	}

	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.MsgID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    messageType(m.MessageType),
		Status:         store.StatusDelivered,
		Timestamp:      m.Timestamp,
		Metadata:       m.Metadata,
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if err := e.db.IncrementUnread(m.ConversationID, e.localUser); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	if err := e.refreshConversation(m.ConversationID, m.Content, m.Timestamp); err != nil {
		return err
	}

	// Best-effort delivery ack; the local row is already authoritative.
	if err := e.transport.Send(transport.ActionChatDelivered, transport.OutboundDelivered{
		ConversationID: m.ConversationID,
		MsgID:          m.MsgID,
	}); err != nil {
		e.logger.Warn("delivery ack failed", zap.String("msg_id", m.MsgID), zap.Error(err))
	}

	e.publishMessage(m.ConversationID, m.MsgID)
	return nil
}

// applyOwnEcho handles the server echoing one of our own sends, possibly from
// another device. If an optimistic temp-id row is outstanding it is
// superseded in place, never duplicated.
func (e *Engine) applyOwnEcho(m *transport.MessageEvent) error {
	window := correlationWindow.Milliseconds()
	outstanding, err := e.db.FindOutstandingLocal(
		m.ConversationID, m.SenderID, m.Content, m.Timestamp-window, m.Timestamp+window)
	if err != nil {
		return fmt.Errorf("correlate echo: %w", err)
	}

	if outstanding != nil {
		merged := store.MergeStatus(outstanding.Status, store.StatusSent)
		if err := e.db.ReplaceMessageID(m.ConversationID, outstanding.MsgID, m.MsgID, merged, m.Timestamp); err != nil {
			return fmt.Errorf("supersede temp id: %w", err)
		}
	} else {
		if err := e.ensureConversation(m.ConversationID, m.SenderID, m.RecipientID); err != nil {
			return err
		}
		if err := e.db.UpsertMessage(&store.Message{
			ConversationID: m.ConversationID,
			MsgID:          m.MsgID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			MessageType:    messageType(m.MessageType),
			Status:         store.StatusSent,
			Timestamp:      m.Timestamp,
			Metadata:       m.Metadata,
		}); err != nil {
			return fmt.Errorf("upsert echo: %w", err)
		}
	}

	// Own message: no unread increment.
	if err := e.refreshConversation(m.ConversationID, m.Content, m.Timestamp); err != nil {
		return err
	}
	e.publishMessage(m.ConversationID, m.MsgID)
	return nil
}

// ApplyStatusUpdate advances a message's status by precedence; a stale report
// never regresses it.
func (e *Engine) ApplyStatusUpdate(u *transport.StatusUpdate) error {
	msg, err := e.lookup(u.ConversationID, u.MsgID)
	if err != nil || msg == nil {
		return err
	}
	merged := store.MergeStatus(msg.Status, u.Status)
	if merged == msg.Status {
		return nil
	}
	if err := e.db.SetMessageStatus(msg.ConversationID, msg.MsgID, merged); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	e.publishMessage(msg.ConversationID, msg.MsgID)
	return nil
}

// ApplyReadReceipt marks one of our messages READ.
func (e *Engine) ApplyReadReceipt(r *transport.ReadReceipt) error {
	return e.ApplyStatusUpdate(&transport.StatusUpdate{
		MsgID:          r.MsgID,
		ConversationID: r.ConversationID,
		Status:         store.StatusRead,
		Timestamp:      r.Timestamp,
	})
}

// ApplyPresence is a last-writer-wins projection keyed by user id.
func (e *Engine) ApplyPresence(p *transport.PresenceEvent) error {
	if err := e.db.SetPresence(p.UserID, p.Online, p.LastSeenAt); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindPresenceChanged,
		Timestamp: time.Now(),
		Payload:   p,
	})
	return nil
}

// ApplyConversationUpdate refreshes a conversation snippet, last writer wins.
func (e *Engine) ApplyConversationUpdate(u *transport.ConversationUpdate) error {
	return e.refreshConversation(u.ConversationID, u.LastMessage, u.Timestamp)
}

// applyTyping republishes typing indicators for the presentation layer.
// Typing is transient and never persisted.
func (e *Engine) applyTyping(tp *transport.TypingEvent) {
	e.bus.Publish(bus.Event{
		Kind:      bus.KindTyping,
		Timestamp: time.Now(),
		Payload:   tp,
	})
}

// SendMessage writes an optimistic PENDING row under a generated temp id and
// queues the outbound send. The UI sees the message immediately; the outbox
// sender dispatches it. Returns the temp client message id.
func (e *Engine) SendMessage(recipientID, content, msgType string, metadata map[string]string) (string, error) {
	convID := store.ConversationID(e.localUser, recipientID)
	if err := e.ensureConversation(convID, e.localUser, recipientID); err != nil {
		return "", err
	}

	clientMsgID := "local-" + uuid.New().String()
	now := time.Now().UnixMilli()
	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: convID,
		MsgID:          clientMsgID,
		SenderID:       e.localUser,
		Content:        content,
		MessageType:    messageType(msgType),
		Status:         store.StatusPending,
		Timestamp:      now,
		Metadata:       metadata,
	}); err != nil {
		return "", fmt.Errorf("optimistic write: %w", err)
	}

	if err := e.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    clientMsgID,
		ConversationID: convID,
		RecipientID:    recipientID,
		Content:        content,
		MessageType:    messageType(msgType),
	}); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	if err := e.refreshConversation(convID, content, now); err != nil {
		return "", err
	}
	e.publishMessage(convID, clientMsgID)
	return clientMsgID, nil
}

// MarkRead clears the local user's unread counter. Local read-state is
// authoritative: the outbound read receipt is best-effort and a send failure
// never rolls the clear back.
func (e *Engine) MarkRead(conversationID string) error {
	if err := e.db.ResetUnread(conversationID, e.localUser); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	if err := e.db.RebuildRecentChat(conversationID, e.localUser); err != nil {
		return fmt.Errorf("rebuild recent chat: %w", err)
	}

	if err := e.transport.Send(transport.ActionChatRead, transport.OutboundRead{
		ConversationID: conversationID,
		Timestamp:      time.Now().UnixMilli(),
	}); err != nil {
		e.logger.Warn("read receipt send failed", zap.String("conversation", conversationID), zap.Error(err))
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
	return nil
}

// SendTyping forwards a typing indicator, fire-and-forget.
func (e *Engine) SendTyping(conversationID string, typing bool) {
	if err := e.transport.Send(transport.ActionChatTyping, transport.OutboundTyping{
		ConversationID: conversationID,
		Typing:         typing,
	}); err != nil {
		e.logger.Debug("typing send failed", zap.Error(err))
	}
}

// DeleteMessage marks a message DELETED locally. DELETED is absorbing: no
// later status report resurrects the row.
func (e *Engine) DeleteMessage(conversationID, msgID string) error {
	if err := e.db.SetMessageStatus(conversationID, msgID, store.StatusDeleted); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	e.publishMessage(conversationID, msgID)
	return nil
}

func (e *Engine) lookup(conversationID, msgID string) (*store.Message, error) {
	if conversationID != "" {
		return e.db.GetMessage(conversationID, msgID)
	}
	return e.db.FindMessageByID(msgID)
}

// ensureConversation creates the conversation with participant stubs on first
// sight, atomically. Profile details fill in later via participant updates.
func (e *Engine) ensureConversation(conversationID, a, b string) error {
	existing, err := e.db.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	if existing != nil {
		return nil
	}
	participants := []store.Participant{{UserID: a}}
	if b != "" && b != a {
		participants = append(participants, store.Participant{UserID: b})
	}
	if err := e.db.InsertConversationWithParticipants(&store.Conversation{ID: conversationID}, participants); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// refreshConversation advances the snippet and rebuilds the recent-chat
// projection for the local user.
func (e *Engine) refreshConversation(conversationID, preview string, ts int64) error {
	if err := e.db.UpsertConversation(&store.Conversation{
		ID:                 conversationID,
		LastMessagePreview: truncate(preview, 100),
		LastMessageAt:      ts,
	}); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	if err := e.db.RebuildRecentChat(conversationID, e.localUser); err != nil {
		return fmt.Errorf("rebuild recent chat: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: time.Now(),
		Payload:   conversationID,
	})
	return nil
}

func (e *Engine) publishMessage(conversationID, msgID string) {
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": conversationID,
			"msg_id":          msgID,
		},
	})
}

// incomingStatus decides the status an inbound copy of a message implies.
func incomingStatus(m *transport.MessageEvent, localUser string) string {
	if m.SenderID == localUser {
		return store.StatusSent
	}
	return store.StatusDelivered
}

func messageType(t string) string {
	switch t {
	case store.TypeText, store.TypeImage, store.TypeVideo, store.TypeVoice, store.TypeSystem:
		return t
	default:
		return store.TypeText
	}
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
