package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/status"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer is a minimal in-process live server: it records subscribe frames
// and lets tests push raw frames to the connected client.
type testServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	subs   []string
	frames chan string // raw frames the server writes to the newest client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{frames: make(chan string, 32)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		go func() {
			for frame := range ts.frames {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f struct {
				Action string `json:"action"`
				Topic  string `json:"topic"`
			}
			if json.Unmarshal(data, &f) == nil && f.Action == "subscribe" {
				ts.mu.Lock()
				ts.subs = append(ts.subs, f.Topic)
				ts.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) subscriptions() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.subs...)
}

func newTestClient(t *testing.T, url string, b *bus.Bus) (*Client, *status.Machine) {
	t.Helper()
	m := status.NewMachine(b)
	logger := zap.NewNop()
	c := NewClient(url, "test-token", time.Second, 3, m, b, logger)
	t.Cleanup(c.Disconnect)
	return c, m
}

func TestConnectSubscribesAllTopics(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, m := newTestClient(t, ts.wsURL(), b)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if m.Current() != status.Live {
		t.Errorf("state = %s, want LIVE", m.Current())
	}

	// Wait for the server to see all subscribe frames.
	deadline := time.After(2 * time.Second)
	for len(ts.subscriptions()) < len(AllTopics) {
		select {
		case <-deadline:
			t.Fatalf("got subscriptions %v, want all %d topics", ts.subscriptions(), len(AllTopics))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConnectTwiceIsNoOp(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, _ := newTestClient(t, ts.wsURL(), b)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("second Connect should be a no-op, got %v", err)
	}

	// Only one subscription set may exist: one message from the server must
	// be delivered exactly once.
	ch, unsub := b.Subscribe("live.", 10)
	defer unsub()

	ts.frames <- `{"topic":"messages","data":{"messageId":"m1","conversationId":"a:b","senderId":"a","content":"once","messageType":"TEXT","timestamp":1000}}`

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindLiveMessage {
			t.Errorf("kind = %q, want live.message", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message event")
	}

	select {
	case evt := <-ch:
		t.Errorf("duplicate delivery: %v", evt)
	case <-time.After(200 * time.Millisecond):
		// Expected: exactly one delivery.
	}
}

func TestInboundEventsDecodedAndPublished(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, _ := newTestClient(t, ts.wsURL(), b)

	ch, unsub := b.Subscribe("live.", 10)
	defer unsub()

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	ts.frames <- `{"topic":"presence","data":{"userId":"u2","online":true,"lastSeenAt":123}}`

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindLivePresence {
			t.Fatalf("kind = %q, want live.presence", evt.Kind)
		}
		p, ok := evt.Payload.(*PresenceEvent)
		if !ok {
			t.Fatalf("payload type = %T, want *PresenceEvent", evt.Payload)
		}
		if p.UserID != "u2" || !p.Online {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for presence event")
	}
}

// TestDecodeFailureDoesNotKillSubscription verifies a malformed payload is
// dropped and subsequent frames on the same topic still arrive.
func TestDecodeFailureDoesNotKillSubscription(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, _ := newTestClient(t, ts.wsURL(), b)

	ch, unsub := b.Subscribe("live.", 10)
	defer unsub()

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	ts.frames <- `{"topic":"messages","data":{"timestamp":"garbage"}}`
	ts.frames <- `{"topic":"messages","data":{"messageId":"m2","conversationId":"a:b","senderId":"a","content":"survived","messageType":"TEXT","timestamp":2000}}`

	select {
	case evt := <-ch:
		msg, ok := evt.Payload.(*MessageEvent)
		if !ok || msg.Content != "survived" {
			t.Errorf("payload = %#v, want the well-formed follow-up", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: subscription died after malformed payload")
	}
}

func TestDisconnectStopsDelivery(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, m := newTestClient(t, ts.wsURL(), b)

	ch, unsub := b.Subscribe("live.", 10)
	defer unsub()

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()

	if m.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.Current())
	}

	// Frames written after disconnect completes must not be delivered.
	ts.frames <- `{"topic":"presence","data":{"userId":"u2","online":true}}`
	select {
	case evt := <-ch:
		t.Errorf("event delivered after disconnect: %v", evt)
	case <-time.After(300 * time.Millisecond):
		// Expected.
	}
}

func TestSendRequiresConnection(t *testing.T) {
	b := bus.New()
	c, _ := newTestClient(t, "ws://127.0.0.1:0", b)

	if err := c.Send(ActionChatSend, map[string]string{"content": "hi"}); err == nil {
		t.Error("Send without connection should fail")
	}
}

// TestMissedHeartbeatsDropConnection: a server that stops answering pings is
// a dead connection. After maxMissed heartbeat intervals without traffic the
// read deadline blows and the machine lands back in Disconnected.
func TestMissedHeartbeatsDropConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		// Swallow pings instead of answering with pongs.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	b := bus.New()
	m := status.NewMachine(b)
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "test-token",
		100*time.Millisecond, 2, m, b, zap.NewNop())
	t.Cleanup(c.Disconnect)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	// 2 * 100ms without a pong must fail the connection well inside 2s.
	deadline := time.After(2 * time.Second)
	for m.Current() != status.Disconnected {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want DISCONNECTED after missed heartbeats", m.Current())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServerDropReturnsToDisconnected(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	c, m := newTestClient(t, ts.wsURL(), b)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	// Kill the server side of the socket.
	ts.mu.Lock()
	for _, conn := range ts.conns {
		_ = conn.Close()
	}
	ts.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for m.Current() != status.Disconnected {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want DISCONNECTED after server drop", m.Current())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The client must not reconnect on its own; a fresh Connect works.
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("reconnect after drop: %v", err)
	}
	if m.Current() != status.Live {
		t.Errorf("state = %s, want LIVE after explicit reconnect", m.Current())
	}
}
