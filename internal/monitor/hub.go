// Package monitor implements a Groot2-style live tree-status feed: a
// websocket hub that broadcasts tick and state-change events to every
// connected viewer, the Go-native analogue of BehaviorTree.CPP's Groot2
// publisher.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
)

// Event is one tick or state-change notification broadcast to every
// connected viewer.
type Event struct {
	Type      string `json:"type"` // "tick" | "state"
	ClientID  string `json:"client_id"`
	NodeID    string `json:"node_id,omitempty"`
	Status    string `json:"status,omitempty"`
	State     string `json:"state,omitempty"`
	TimeStamp string `json:"timestamp"`
}

// TickEvent builds an Event reporting one node's tick result.
func TickEvent(clientID, nodeID, status string) Event {
	return Event{Type: "tick", ClientID: clientID, NodeID: nodeID, Status: status, TimeStamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// StateEvent builds an Event reporting a PackML state transition.
func StateEvent(clientID, state string) Event {
	return Event{Type: "state", ClientID: clientID, State: state, TimeStamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Hub fans out broadcast events to every registered viewer connection.
// Trimmed from the teacher's gateway hub: monitor viewers are read-only,
// so there is no per-topic subscriber set or message dispatcher, only
// registration and broadcast.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub returns an unstarted Hub; call Run to begin its event loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     log.WithFields(zap.String("component", "monitor_hub")),
	}
}

// Run processes registrations, unregistrations, and broadcasts until ctx
// is cancelled, at which point every client connection is closed.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("monitor hub started")
	defer h.logger.Info("monitor hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("viewer registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.broadcastMessage(data)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.logger.Debug("viewer unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) broadcastMessage(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Send buffer full: this message is dropped for this client
			// rather than blocking the whole broadcast.
		}
	}
}

// Register adds client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast marshals event and fans it out to every connected viewer.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal monitor event failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("monitor broadcast channel full, dropping event", zap.String("type", event.Type))
	}
}

// ClientCount reports the number of currently registered viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
