package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rulesmarket/relay/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newRelayStub runs a minimal relay endpoint: it completes the connected
// handshake, then passes every inbound envelope to serve until the
// connection drops.
func newRelayStub(t *testing.T, serve func(ws *websocket.Conn, env models.Envelope)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		hello, err := models.NewEnvelope(models.KindConnected, models.Connected{
			SocketID:  "stub-socket",
			Timestamp: models.Now(),
		})
		if err != nil {
			t.Errorf("failed to build connected envelope: %v", err)
			return
		}
		raw, _ := sonic.Marshal(hello)
		if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if err := sonic.Unmarshal(data, &env); err != nil {
				continue
			}
			if serve != nil {
				serve(ws, env)
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testOptions() Options {
	return Options{
		Attempts:         2,
		Delay:            50 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
	}
}

func TestClient_Connect(t *testing.T) {
	srv := newRelayStub(t, nil)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	if !c.IsConnected() {
		t.Error("expected the client to report connected")
	}
	if c.SocketID() != "stub-socket" {
		t.Errorf("expected socket id stub-socket, got %v", c.SocketID())
	}

	// Connecting again while up is a no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("repeated Connect must be a no-op, got %v", err)
	}
}

func TestClient_ConnectExhaustsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no relay here", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected a ConnectionError, got %T: %v", err, err)
	}
	if connErr.Attempts != 2 {
		t.Errorf("expected the budget of 2 attempts, got %d", connErr.Attempts)
	}
	if c.IsConnected() {
		t.Error("client must not report connected after a failed budget")
	}
}

func TestClient_EmitRoundtrip(t *testing.T) {
	got := make(chan models.Envelope, 1)
	srv := newRelayStub(t, func(ws *websocket.Conn, env models.Envelope) {
		if env.Kind != models.KindPing {
			return
		}
		var ping models.Ping
		if err := env.Decode(&ping); err != nil {
			t.Errorf("failed to decode ping: %v", err)
			return
		}
		reply, _ := models.NewEnvelope(models.KindPong, models.Pong{
			Client: ping.Client, Timestamp: ping.Timestamp, Server: "stub",
		})
		raw, _ := sonic.Marshal(reply)
		_ = ws.WriteMessage(websocket.TextMessage, raw)
	})
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Disconnect()

	c.On(models.KindPong, func(env models.Envelope) {
		got <- env
	})
	c.Ping("monitor")

	select {
	case env := <-got:
		var pong models.Pong
		if err := env.Decode(&pong); err != nil {
			t.Fatalf("failed to decode pong: %v", err)
		}
		if pong.Client != "monitor" {
			t.Errorf("expected client monitor echoed back, got %v", pong.Client)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pong within 2s")
	}
}

func TestClient_EmitWhileDisconnected(t *testing.T) {
	c := New("ws://localhost:1/relay/events", testOptions())
	// Must drop silently, not panic or block.
	c.Emit(models.KindPing, models.Ping{Client: "monitor"})
}

func TestClient_OnOff(t *testing.T) {
	c := New("ws://unused", testOptions())

	var first, second int
	sub := c.On(models.KindNewLog, func(models.Envelope) { first++ })
	c.On(models.KindNewLog, func(models.Envelope) { second++ })

	env, _ := models.NewEnvelope(models.KindNewLog, models.LogEntry{Message: "hi"})
	c.dispatch(env)
	if first != 1 || second != 1 {
		t.Fatalf("expected both handlers to fire once, got (%d, %d)", first, second)
	}

	// Off removes exactly the handle's handler.
	c.Off(sub)
	c.dispatch(env)
	if first != 1 {
		t.Errorf("removed handler must not fire, got %d calls", first)
	}
	if second != 2 {
		t.Errorf("remaining handler must keep firing, got %d calls", second)
	}

	c.OffAll(models.KindNewLog)
	c.dispatch(env)
	if second != 2 {
		t.Errorf("OffAll must remove every handler for the kind, got %d calls", second)
	}
}

func TestClient_DisconnectedEvent(t *testing.T) {
	closeCh := make(chan struct{})
	srv := newRelayStub(t, func(ws *websocket.Conn, env models.Envelope) {
		if env.Kind == models.KindPing {
			_ = ws.Close()
			close(closeCh)
		}
	})
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	dropped := make(chan struct{})
	c.On(models.KindDisconnected, func(models.Envelope) {
		close(dropped)
	})
	c.Ping("monitor")

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a disconnected event after the server closed the transport")
	}
	if c.IsConnected() {
		t.Error("client must report disconnected after transport loss")
	}
	<-closeCh
}

func TestClient_ManualDisconnectSilent(t *testing.T) {
	srv := newRelayStub(t, nil)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	fired := make(chan struct{}, 1)
	c.On(models.KindDisconnected, func(models.Envelope) {
		fired <- struct{}{}
	})

	c.Disconnect()
	c.Disconnect() // idempotent

	select {
	case <-fired:
		t.Error("manual disconnect must not fire the disconnected event")
	case <-time.After(200 * time.Millisecond):
	}
	if c.IsConnected() {
		t.Error("client must report disconnected")
	}
}
