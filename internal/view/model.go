// Package view exposes read-only presentation models over the store and bus.
// Models cache snapshots under a read-write mutex and coalesce change
// notifications onto a refresh channel; they never write to the store.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/status"
	"github.com/prohands/chatsync/internal/store"
	"github.com/prohands/chatsync/internal/transport"
)

// Model caches presentation state and signals refreshes when the underlying
// data changes.
type Model struct {
	mu sync.RWMutex

	db        *store.DB
	bus       *bus.Bus
	typingTTL time.Duration

	conversations []store.RecentChat
	messages      []ThreadRow
	activeConv    string
	connState     status.State
	typing        map[string]time.Time // conversation id -> expiry
	presence      map[string]Presence  // user id -> last observed state

	refreshCh chan struct{}
	cancel    context.CancelFunc
}

// NewModel creates a presentation model over the store. A zero typingTTL
// defaults to 5s.
func NewModel(db *store.DB, b *bus.Bus, typingTTL time.Duration) *Model {
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	return &Model{
		db:        db,
		bus:       b,
		typingTTL: typingTTL,
		connState: status.Disconnected,
		typing:    make(map[string]time.Time),
		presence:  make(map[string]Presence),
		refreshCh: make(chan struct{}, 1),
	}
}

// Presence is a participant's last observed online state.
type Presence struct {
	Online     bool
	LastSeenAt int64 // epoch millis, 0 if never seen
}

// RefreshCh returns the channel that signals a UI refresh. Signals coalesce:
// a slow consumer sees at least one.
func (m *Model) RefreshCh() <-chan struct{} {
	return m.refreshCh
}

func (m *Model) signalRefresh() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}

// Start subscribes to store-change and connection events. The model reloads
// affected snapshots and signals a refresh. Safe to call again after Stop.
func (m *Model) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := m.bus.Subscribe("message.", 64)
	convCh, unsubConv := m.bus.Subscribe("conversation.", 64)
	typCh, unsubTyp := m.bus.Subscribe("typing.", 64)
	presCh, unsubPres := m.bus.Subscribe("presence.", 64)
	connCh, unsubConn := m.bus.Subscribe("conn.", 16)

	go func() {
		defer unsubMsg()
		defer unsubConv()
		defer unsubTyp()
		defer unsubPres()
		defer unsubConn()
		for {
			select {
			case <-msgCh:
				m.reloadMessages()
			case <-convCh:
				m.reloadConversations()
			case evt := <-typCh:
				m.applyTyping(evt)
			case evt := <-presCh:
				m.applyPresence(evt)
			case evt := <-connCh:
				m.applyConn(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the subscription loop.
func (m *Model) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// LoadConversations refreshes the recent-chat snapshot from the store.
func (m *Model) LoadConversations() error {
	recents, err := m.db.ListRecentChats(100)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.conversations = recents
	m.mu.Unlock()
	m.signalRefresh()
	return nil
}

// LoadMessages makes conversationID the active thread and loads its rows.
func (m *Model) LoadMessages(conversationID string) error {
	msgs, err := m.db.ListMessages(conversationID, 500)
	if err != nil {
		return err
	}
	rows := BuildThread(msgs, time.Local)
	m.mu.Lock()
	m.activeConv = conversationID
	m.messages = rows
	m.mu.Unlock()
	m.signalRefresh()
	return nil
}

// Conversations returns a snapshot of the recent-chat list, newest first.
func (m *Model) Conversations() []store.RecentChat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conversations
}

// Messages returns the active thread's rows, oldest first, with date
// separators interleaved.
func (m *Model) Messages() []ThreadRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messages
}

// ActiveConversation returns the id of the thread currently loaded.
func (m *Model) ActiveConversation() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConv
}

// ConnState returns the last observed connection state.
func (m *Model) ConnState() status.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connState
}

// TypingIn reports whether the partner in conversationID is typing. The
// indicator expires on its own; a stale start event never sticks.
func (m *Model) TypingIn(conversationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expiry, ok := m.typing[conversationID]
	return ok && time.Now().Before(expiry)
}

// PresenceOf returns the last observed presence for userID. The boolean is
// false until a presence event or store load has been seen for that user.
func (m *Model) PresenceOf(userID string) (Presence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presence[userID]
	return p, ok
}

// PresenceLabel renders userID's presence for display, falling back to the
// participant row cached in the store when no live event has arrived yet.
func (m *Model) PresenceLabel(userID string) string {
	if p, ok := m.PresenceOf(userID); ok {
		return FormatLastSeen(p.Online, p.LastSeenAt, time.Now())
	}
	part, err := m.db.GetParticipant(userID)
	if err != nil || part == nil {
		return FormatLastSeen(false, 0, time.Now())
	}
	return FormatLastSeen(part.Online, part.LastSeenAt, time.Now())
}

func (m *Model) reloadConversations() {
	_ = m.LoadConversations()
}

func (m *Model) reloadMessages() {
	m.mu.RLock()
	active := m.activeConv
	m.mu.RUnlock()
	if active == "" {
		// No thread open; the conversation list still moves.
		m.reloadConversations()
		return
	}
	_ = m.LoadMessages(active)
	m.reloadConversations()
}

func (m *Model) applyTyping(evt bus.Event) {
	tp, ok := evt.Payload.(*transport.TypingEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	if tp.Typing {
		m.typing[tp.ConversationID] = time.Now().Add(m.typingTTL)
	} else {
		delete(m.typing, tp.ConversationID)
	}
	m.mu.Unlock()
	m.signalRefresh()
}

func (m *Model) applyPresence(evt bus.Event) {
	p, ok := evt.Payload.(*transport.PresenceEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	m.presence[p.UserID] = Presence{Online: p.Online, LastSeenAt: p.LastSeenAt}
	m.mu.Unlock()
	m.signalRefresh()
}

func (m *Model) applyConn(evt bus.Event) {
	change, ok := evt.Payload.(status.StatusChange)
	if !ok {
		return
	}
	m.mu.Lock()
	m.connState = change.To
	m.mu.Unlock()
	m.signalRefresh()
}
