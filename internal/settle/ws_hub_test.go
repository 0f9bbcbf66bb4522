package settle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestConn upgrades a real WebSocket pair over httptest and returns
// the server-side and client-side connections.
func dialTestConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return <-serverConns, client
}

func clientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h := NewHub()
	go h.Run()

	server, client := dialTestConn(t)
	h.register <- server

	h.Broadcast(WSMessage{Type: "settlement", UserID: "user1", Symbol: "BTC"})

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(data), `"symbol":"BTC"`) {
		t.Errorf("unexpected broadcast payload: %s", data)
	}
}

// A dead connection discovered during broadcast must be removed from the
// client map while concurrent readers (the per-connection ping loops)
// hold read locks on it.
func TestHub_BroadcastRemovesDeadConnections(t *testing.T) {
	h := NewHub()
	go h.Run()

	server, client := dialTestConn(t)
	h.register <- server

	deadline := time.Now().Add(time.Second)
	for clientCount(h) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client.Close()
	server.Close()

	// Hammer the map with reads the way the ping loops do.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				h.mu.RLock()
				_, _ = h.clients[server], len(h.clients)
				h.mu.RUnlock()
			}
		}
	}()
	defer close(stop)

	h.Broadcast(WSMessage{Type: "settlement", Symbol: "BTC"})

	deadline = time.Now().Add(time.Second)
	for clientCount(h) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("dead connection never removed: %d clients", clientCount(h))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
