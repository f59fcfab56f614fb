package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/metrics"
)

// Hub is the connection registry: user identity to the set of currently open
// push-channel connections. It is the only component that mutates this
// mapping. Register/Unregister act on a single handle; other handles under
// the same user are untouched.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Client]struct{}
	log   *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		conns: make(map[string]map[*Client]struct{}),
		log:   log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.conns[c.UserID] = set
	}
	set[c] = struct{}{}
	metrics.ActiveConnections.Inc()
	h.log.Debugw("connection registered", "user_id", c.UserID, "conn_id", c.ID)
}

// Unregister removes exactly this handle. A user with no handles left simply
// has no key; that is not an error state.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.UserID)
	}
	metrics.ActiveConnections.Dec()
	h.log.Debugw("connection unregistered", "user_id", c.UserID, "conn_id", c.ID)
}

// clientsFor snapshots the handle set so pushes run outside the lock.
func (h *Hub) clientsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.conns[userID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Push delivers payload to every open connection of userID, best effort. A
// connection that cannot take the payload is evicted as if closed; the
// failure never reaches the caller.
func (h *Hub) Push(userID string, payload []byte) {
	for _, c := range h.clientsFor(userID) {
		if !c.TrySend(payload) {
			metrics.DispatchFailures.Inc()
			h.log.Warnw("evicting dead push connection", "user_id", userID, "conn_id", c.ID)
			h.Unregister(c)
			c.Close()
		}
	}
}

// ConnectionCount reports open handles for one user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// CloseAll disconnects everything; used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0)
	for _, set := range h.conns {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		metrics.ActiveConnections.Dec()
		c.Close()
	}
}
