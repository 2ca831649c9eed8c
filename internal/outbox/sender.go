// Package outbox drains the durable send queue onto the live transport.
// Queued entries survive restarts; a message is only abandoned once it has
// been retried past the send timeout.
package outbox

import (
	"context"
	"time"

	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/store"
	"github.com/prohands/chatsync/internal/transport"
	"go.uber.org/zap"
)

// ChatSender is the outbound action surface of the live transport.
type ChatSender interface {
	Send(action string, payload any) error
}

// Sender polls the outbox and dispatches queued messages.
type Sender struct {
	db          *store.DB
	transport   ChatSender
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	sendTimeout time.Duration
	cancel      context.CancelFunc
}

// NewSender creates an outbox sender. A zero interval defaults to 500ms and a
// zero sendTimeout to 30s.
func NewSender(db *store.DB, t ChatSender, b *bus.Bus, logger *zap.Logger, interval, sendTimeout time.Duration) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Sender{
		db:          db,
		transport:   t,
		bus:         b,
		logger:      logger,
		interval:    interval,
		sendTimeout: sendTimeout,
	}
}

// Start begins polling the outbox for queued messages. Entries a previous
// run left stuck in 'sending' are requeued first, so a crash mid-send never
// strands a message.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStaleSending(); err != nil {
		s.logger.Error("failed to requeue stale sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Flush processes every queued entry once. Transient transport failures put
// the entry back in the queue; entries older than the send timeout fail
// permanently and the optimistic message row follows.
func (s *Sender) Flush() {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	now := time.Now().UnixMilli()
	for _, entry := range pending {
		if now-entry.CreatedAt > s.sendTimeout.Milliseconds() {
			s.fail(entry, "send timeout exceeded")
			continue
		}

		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		err := s.transport.Send(transport.ActionChatSend, transport.OutboundChat{
			ConversationID: entry.ConversationID,
			RecipientID:    entry.RecipientID,
			Content:        entry.Content,
			MessageType:    entry.MessageType,
			Timestamp:      now,
		})
		if err != nil {
			// Likely disconnected; retry on the next poll until the
			// timeout expires.
			s.logger.Warn("send failed, requeueing", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			if err := s.db.RequeueOutbox(entry.ClientMsgID); err != nil {
				s.logger.Error("failed to requeue", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			}
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, ""); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		// The optimistic row advances PENDING -> SENT. The server echo
		// later supersedes the temp id with the authoritative one.
		if err := s.db.SetMessageStatus(entry.ConversationID, entry.ClientMsgID, store.StatusSent); err != nil {
			s.logger.Error("failed to advance message status", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message dispatched", zap.String("client_msg_id", entry.ClientMsgID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendAck,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"conversation_id": entry.ConversationID,
				"client_msg_id":   entry.ClientMsgID,
			},
		})
	}
}

// fail abandons an entry permanently and pushes the optimistic row to FAILED.
func (s *Sender) fail(entry store.OutboxEntry, reason string) {
	s.logger.Error("message send abandoned",
		zap.String("client_msg_id", entry.ClientMsgID), zap.String("reason", reason))
	if err := s.db.MarkOutboxFailed(entry.ClientMsgID, reason); err != nil {
		s.logger.Error("failed to mark outbox failed", zap.Error(err))
	}
	if err := s.db.SetMessageStatus(entry.ConversationID, entry.ClientMsgID, store.StatusFailed); err != nil {
		s.logger.Error("failed to mark message failed", zap.Error(err))
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"error":           reason,
		},
	})
}
