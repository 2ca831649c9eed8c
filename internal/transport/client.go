package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/status"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// envelope is the inbound wire frame: a topic tag plus its payload.
type envelope struct {
	Topic Topic           `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// outFrame is the outbound wire frame for both subscriptions and actions.
type outFrame struct {
	Action  string `json:"action"`
	Topic   Topic  `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// topicKind maps each topic to the bus kind its decoded events are published under.
var topicKind = map[Topic]string{
	TopicConversations: bus.KindLiveConversation,
	TopicMessages:      bus.KindLiveMessage,
	TopicTyping:        bus.KindLiveTyping,
	TopicStatusUpdates: bus.KindLiveStatus,
	TopicReadReceipts:  bus.KindLiveReadReceipt,
	TopicPresence:      bus.KindLivePresence,
}

// Client maintains the single live websocket connection for the signed-in
// user, decoding topic payloads into typed events published on the bus.
// It never reconnects on its own; a drop lands it back in Disconnected and
// the owner decides when to call Connect again.
type Client struct {
	url       string
	token     string
	heartbeat time.Duration
	maxMissed int
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger

	mu      sync.Mutex
	sess    *wsSession
	userID  string
	writeMu sync.Mutex
}

// wsSession is the per-connection state torn down as a unit.
type wsSession struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewClient creates a live transport client. heartbeat is the keepalive ping
// interval; maxMissed consecutive unanswered pings count as a connection failure.
func NewClient(url, token string, heartbeat time.Duration, maxMissed int, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Client {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if maxMissed <= 0 {
		maxMissed = 3
	}
	return &Client{
		url:       url,
		token:     token,
		heartbeat: heartbeat,
		maxMissed: maxMissed,
		machine:   m,
		bus:       b,
		logger:    logger,
	}
}

// Connect dials the server and subscribes to all topics. It is a no-op when
// already Live for the same user.
func (c *Client) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && c.machine.Current() == status.Live {
		if c.userID == userID {
			return nil
		}
		return fmt.Errorf("already connected as %q", c.userID)
	}

	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.DialContext(ctx, c.url+"?userId="+userID, header)
	if err != nil {
		_ = c.machine.Transition(status.Disconnected)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	sess := &wsSession{
		conn: conn,
		done: make(chan struct{}),
	}
	c.sess = sess
	c.userID = userID

	pongWait := c.heartbeat * time.Duration(c.maxMissed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := c.machine.Transition(status.Subscribing); err != nil {
		c.teardown(sess)
		return err
	}

	// Each topic subscribes independently: a write failure on one is logged
	// and must not cancel the others.
	subscribed := 0
	for _, topic := range AllTopics {
		if err := c.writeFrame(conn, outFrame{Action: "subscribe", Topic: topic}); err != nil {
			c.logger.Warn("topic subscription failed",
				zap.String("topic", string(topic)), zap.Error(err))
			continue
		}
		subscribed++
	}
	if subscribed == 0 {
		c.teardown(sess)
		return fmt.Errorf("all %d topic subscriptions failed", len(AllTopics))
	}

	if err := c.machine.Transition(status.Live); err != nil {
		c.teardown(sess)
		return err
	}
	c.logger.Info("transport live",
		zap.String("user_id", userID), zap.Int("topics", subscribed))

	sess.wg.Add(2)
	go c.readLoop(sess)
	go c.pingLoop(sess)
	return nil
}

// Disconnect tears the connection down deterministically. No event is
// delivered to the bus after it returns.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	c.teardown(sess)
	sess.wg.Wait()
}

// Send writes an outbound action frame. It returns once the transport layer
// accepts the write; delivery confirmation arrives later as an inbound event.
func (c *Client) Send(action string, payload any) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("send %s: not connected", action)
	}
	return c.writeFrame(sess.conn, outFrame{Action: action, Payload: payload})
}

func (c *Client) writeFrame(conn *websocket.Conn, f outFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// teardown closes a session exactly once and moves the machine to Disconnected.
func (c *Client) teardown(sess *wsSession) {
	sess.once.Do(func() {
		close(sess.done)
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = sess.conn.Close()
		if c.machine.Current() != status.Disconnected {
			_ = c.machine.Transition(status.Disconnected)
		}
	})
}

// readLoop decodes inbound frames until the connection dies. A malformed
// payload is dropped and the loop keeps reading; a read error ends the session.
func (c *Client) readLoop(sess *wsSession) {
	defer sess.wg.Done()
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.done:
				// Voluntary disconnect, already torn down.
			default:
				c.logger.Warn("transport read failed", zap.Error(err))
				c.dropSession(sess)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		if env.Topic == "subscribed" {
			continue
		}
		evt, err := Decode(env.Topic, env.Data)
		if err != nil {
			c.logger.Warn("undecodable payload dropped",
				zap.String("topic", string(env.Topic)), zap.Error(err))
			continue
		}

		select {
		case <-sess.done:
			return
		default:
		}
		c.bus.Publish(bus.Event{
			Kind:      topicKind[env.Topic],
			Timestamp: time.Now(),
			Payload:   evt,
		})
	}
}

// pingLoop sends keepalive pings. Unanswered pings eventually blow the read
// deadline set by the pong handler, which surfaces as a read error.
func (c *Client) pingLoop(sess *wsSession) {
	defer sess.wg.Done()
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				select {
				case <-sess.done:
				default:
					c.logger.Warn("heartbeat write failed", zap.Error(err))
					c.dropSession(sess)
				}
				return
			}
		case <-sess.done:
			return
		}
	}
}

// dropSession handles an involuntary connection loss observed by a pump.
func (c *Client) dropSession(sess *wsSession) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	c.teardown(sess)
}
