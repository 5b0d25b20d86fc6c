package handlers

import (
	"sync"

	"github.com/gorilla/websocket"
)

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	inbox     chan wsEnvelope
	remote    string
	authID    string // set when the handshake carried a verified token
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, remote string) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		inbox:  make(chan wsEnvelope, 64),
		remote: remote,
	}
}

// Send queues payload for the write pump. A client whose queue is full is
// disconnected instead of stalling the sender.
func (c *wsClient) Send(payload []byte) bool {
	if c.trySend(payload) {
		return true
	}
	c.closeConn()
	return false
}

func (c *wsClient) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// claims rejects a payload field naming an identity other than the one the
// handshake token proved. Unauthenticated connections may claim any identity.
func (c *wsClient) claims(field, userID string) error {
	if c.authID == "" || c.authID == userID {
		return nil
	}
	return &eventError{Message: "Identity does not match token", Fields: []string{field}}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *wsClient) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// WSHub tracks named broadcast groups: one per role and one per joined room.
type WSHub struct {
	mu      sync.Mutex
	groups  map[string]map[*wsClient]struct{} // group -> members
	members map[*wsClient]map[string]struct{} // client -> groups
}

func NewWSHub() *WSHub {
	return &WSHub{
		groups:  make(map[string]map[*wsClient]struct{}),
		members: make(map[*wsClient]map[string]struct{}),
	}
}

func (h *WSHub) Join(group string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.groups[group]
	if !ok {
		clients = make(map[*wsClient]struct{})
		h.groups[group] = clients
	}
	clients[client] = struct{}{}

	joined, ok := h.members[client]
	if !ok {
		joined = make(map[string]struct{})
		h.members[client] = joined
	}
	joined[group] = struct{}{}
}

func (h *WSHub) Leave(group string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(group, client)
}

// LeaveAll removes client from every group it joined.
func (h *WSHub) LeaveAll(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group := range h.members[client] {
		h.leaveLocked(group, client)
	}
	delete(h.members, client)
}

func (h *WSHub) leaveLocked(group string, client *wsClient) {
	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	if joined, ok := h.members[client]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(h.members, client)
		}
	}
}

// Broadcast queues payload on every member of group and returns how many accepted it.
func (h *WSHub) Broadcast(group string, payload []byte) int {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.groups[group]))
	for client := range h.groups[group] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	delivered := 0
	for _, client := range clients {
		if client.Send(payload) {
			delivered++
		}
	}
	return delivered
}

func (h *WSHub) InGroup(group string, client *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.groups[group][client]
	return ok
}

func (h *WSHub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}
