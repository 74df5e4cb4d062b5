package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// MockExchangeServer is an in-process WebSocket endpoint for tests. It
// accepts connections, records every inbound frame, and can acknowledge
// canonical subscribe/unsubscribe control frames the way an exchange would.
type MockExchangeServer struct {
	server *httptest.Server
	url    string

	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
	received    [][]byte
	autoAck     bool
	dropNext    bool
	reject      bool

	onMessage func(*websocket.Conn, []byte)
}

// NewMockExchangeServer starts a mock server.
func NewMockExchangeServer() *MockExchangeServer {
	m := &MockExchangeServer{
		connections: make(map[*websocket.Conn]bool),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// endpoint of the server.
func (m *MockExchangeServer) URL() string { return m.url }

// Close shuts the server down.
func (m *MockExchangeServer) Close() { m.server.Close() }

// SetAutoAck makes the server answer subscribe/unsubscribe frames with a
// matching subscription-status message.
func (m *MockExchangeServer) SetAutoAck(ack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoAck = ack
}

// SetRejectConnections makes the server refuse new connections.
func (m *MockExchangeServer) SetRejectConnections(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = reject
}

// DropConnections closes every active connection, simulating a transport
// failure.
func (m *MockExchangeServer) DropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.connections {
		conn.Close()
		delete(m.connections, conn)
	}
}

// OnMessage registers a callback invoked with every inbound frame.
func (m *MockExchangeServer) OnMessage(fn func(*websocket.Conn, []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// Broadcast sends a frame to every connected client.
func (m *MockExchangeServer) Broadcast(message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for conn := range m.connections {
		conn.WriteMessage(websocket.TextMessage, message)
	}
}

// ConnectionCount returns the number of live connections.
func (m *MockExchangeServer) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Received returns a copy of every frame the server has read.
func (m *MockExchangeServer) Received() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockExchangeServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	reject := m.reject
	m.mu.RUnlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		m.mu.Lock()
		m.received = append(m.received, message)
		ack := m.autoAck
		callback := m.onMessage
		m.mu.Unlock()

		if callback != nil {
			callback(conn, message)
		}
		if ack {
			m.maybeAck(conn, message)
		}
	}
}

// maybeAck answers a canonical control frame with a subscription-status
// confirmation.
func (m *MockExchangeServer) maybeAck(conn *websocket.Conn, message []byte) {
	var frame struct {
		Event  string `json:"event"`
		Feed   string `json:"feed"`
		Symbol string `json:"symbol"`
	}
	if json.Unmarshal(message, &frame) != nil {
		return
	}
	var status string
	switch frame.Event {
	case "subscribe":
		status = "subscribed"
	case "unsubscribe":
		status = "unsubscribed"
	default:
		return
	}
	ack, _ := json.Marshal(map[string]string{
		"event":  "subscriptionStatus",
		"status": status,
		"feed":   frame.Feed,
		"symbol": frame.Symbol,
	})
	conn.WriteMessage(websocket.TextMessage, ack)
}
