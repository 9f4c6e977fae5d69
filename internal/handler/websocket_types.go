// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	DeviceID    string          `json:"device_id,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`
	Dropped     *atomic.Int64   `json:"-"`
}

// Wants reports whether the client subscribed to device. An empty filter
// subscribes to every device.
func (c *Client) Wants(device string) bool {
	return c.DeviceID == "" || device == "" || c.DeviceID == device
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// CommandMessage is the payload of a client "command" message
type CommandMessage struct {
	DeviceID string `json:"device_id"`
	Text     string `json:"text"`
}

// ClientHub tracks connected WebSocket clients
type ClientHub struct {
	clients map[string]*Client
	closed  bool
	mutex   sync.RWMutex
}

// NewClientHub creates an empty hub
func NewClientHub() *ClientHub {
	return &ClientHub{clients: make(map[string]*Client)}
}

// Register registers a new client. It returns false once the hub is closed.
func (h *ClientHub) Register(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return false
	}
	h.clients[client.ID] = client
	return true
}

// Unregister removes a client and closes its send queue
func (h *ClientHub) Unregister(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
}

// Broadcast queues payload on every client subscribed to device without
// blocking. Clients whose queue is full miss the message.
func (h *ClientHub) Broadcast(device string, payload []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, client := range h.clients {
		if !client.Wants(device) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			client.Dropped.Inc()
		}
	}
}

// SendTo queues payload on a single registered client without blocking
func (h *ClientHub) SendTo(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		client.Dropped.Inc()
		return false
	}
}

// CloseAll unregisters every client and refuses new ones
func (h *ClientHub) CloseAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// GetStats returns connection statistics
func (h *ClientHub) GetStats() *ConnectionStats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(h.clients),
		Clients:          make([]ClientStats, 0, len(h.clients)),
	}
	for _, client := range h.clients {
		stats.Clients = append(stats.Clients, ClientStats{
			ID:          client.ID,
			DeviceID:    client.DeviceID,
			RemoteAddr:  client.RemoteAddr,
			ConnectedAt: client.ConnectedAt,
			Dropped:     client.Dropped.Load(),
		})
	}
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int           `json:"total_connections"`
	Clients          []ClientStats `json:"clients"`
}

// ClientStats describes one connected client
type ClientStats struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Dropped     int64     `json:"dropped"`
}
