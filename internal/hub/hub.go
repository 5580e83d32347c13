package hub

import (
	"context"
	"errors"
	"sync"

	"marketchat/internal/observability"
	"marketchat/internal/protocol"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub maps userID -> set of Clients and fans presence transitions out to
// every connected client as userOnline/userOffline events.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	presence   *PresenceManager
	log        func(format string, args ...any)
}

// NewHub creates a new Hub. A nil Redis client degrades presence tracking to
// local-only, which is correct for a single node.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{
		conns:    make(map[string]map[*Client]struct{}),
		presence: NewPresenceManager(rdb, PresenceConfig{}),
	}
	h.presence.SetCallbacks(h.broadcastOnline, h.broadcastOffline)
	return h
}

// Presence exposes the presence manager, mainly for tests and the server's
// delivery decisions.
func (h *Hub) Presence() *PresenceManager { return h.presence }

// Register adds a connection for userID. Returns the Client or an error when
// limits are exceeded.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()

	h.presence.Register(context.Background(), userID)

	return client, nil
}

// Unregister removes a client; the presence manager decides when the user is
// actually offline.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.WebSocketConnectionsTotal.Dec()
		h.presence.Unregister(context.Background(), client.UserID)
	}
}

// IsOnline reports whether the user currently has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(context.Background(), userID)
}

// HasLocal reports whether the user has a connection on this node.
func (h *Hub) HasLocal(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// SendToUser queues a frame on every connection the user holds.
func (h *Hub) SendToUser(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(frame)
	}
}

// SendEvent encodes and queues a protocol event for the user. Encoding
// failures are impossible for the closed event set and are ignored.
func (h *Hub) SendEvent(userID string, event protocol.Event) {
	frame, err := protocol.Encode(event)
	if err != nil {
		return
	}
	h.SendToUser(userID, frame)
}

// BroadcastEvent queues a protocol event for every connected client.
func (h *Hub) BroadcastEvent(event protocol.Event) {
	frame, err := protocol.Encode(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(frame)
		}
	}
}

func (h *Hub) broadcastOnline(userID string) {
	h.BroadcastEvent(protocol.UserOnline{UserID: userID})
}

func (h *Hub) broadcastOffline(userID string) {
	h.BroadcastEvent(protocol.UserOffline{UserID: userID})
}

// Shutdown gracefully closes all websocket connections.
func (h *Hub) Shutdown(_ context.Context) error {
	h.presence.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.conns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			_ = client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			_ = client.Conn.Close()
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0

	return nil
}
