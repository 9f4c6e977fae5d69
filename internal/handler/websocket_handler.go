// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sercom/internal/model"
	"sercom/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendQueue    = 256
)

// StreamHandler streams received records and status events to WebSocket
// clients. It is an observation sink: delivery never blocks the receive
// pipeline.
type StreamHandler struct {
	upgrader  websocket.Upgrader
	clients   *ClientHub
	directory DeviceDirectory
	logger    *utils.ServiceLogger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(directory DeviceDirectory, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   NewClientHub(),
		directory: directory,
		logger:    utils.NewServiceLogger(logger, "stream-handler"),
	}
}

// SetDirectory sets the devices commands are routed to
func (h *StreamHandler) SetDirectory(directory DeviceDirectory) {
	h.directory = directory
}

// RegisterRoutes registers WebSocket routes
func (h *StreamHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/records", h.HandleRecordStream)
	router.GET("/records/:device_id", h.HandleRecordStream)
}

// HandleRecordStream upgrades the request and streams records, optionally
// filtered to one device
func (h *StreamHandler) HandleRecordStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, sendQueue),
		DeviceID:    c.Param("device_id"),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		Dropped:     atomic.NewInt64(0),
	}

	if !h.clients.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	h.logger.Info("Stream client connected",
		zap.String("client_id", client.ID),
		zap.String("device_id", client.DeviceID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// Deliver implements monitor.Sink
func (h *StreamHandler) Deliver(_ context.Context, rec model.Record) error {
	payload, err := json.Marshal(&WebSocketMessage{
		Type:      "record",
		Data:      rec,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	h.clients.Broadcast(string(rec.Device), payload)
	return nil
}

// Status broadcasts a connection status event
func (h *StreamHandler) Status(event model.StatusEvent) {
	payload, err := json.Marshal(&WebSocketMessage{
		Type:      "status",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to encode status event", zap.Error(err))
		return
	}

	h.clients.Broadcast(string(event.Device), payload)
}

// Close disconnects every client
func (h *StreamHandler) Close() {
	h.clients.CloseAll()
}

// GetConnectionStats returns WebSocket client statistics
func (h *StreamHandler) GetConnectionStats() *ConnectionStats {
	return h.clients.GetStats()
}

func (h *StreamHandler) handleClientRead(client *Client) {
	defer func() {
		h.clients.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

func (h *StreamHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "command":
		h.handleCommand(client, message)
	case "ping":
		h.reply(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

func (h *StreamHandler) handleCommand(client *Client, message *WebSocketMessage) {
	raw, err := json.Marshal(message.Data)
	if err != nil {
		h.sendError(client, message.RequestID, "invalid command payload")
		return
	}

	var command CommandMessage
	if err := json.Unmarshal(raw, &command); err != nil {
		h.sendError(client, message.RequestID, "invalid command payload")
		return
	}
	if command.DeviceID == "" {
		command.DeviceID = client.DeviceID
	}
	if command.DeviceID == "" {
		h.sendError(client, message.RequestID, "device_id is required")
		return
	}
	if h.directory == nil {
		h.sendError(client, message.RequestID, "no devices available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := h.directory.Submit(ctx, model.DeviceID(command.DeviceID), command.Text); err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}

	h.reply(client, &WebSocketMessage{
		Type:      "command_queued",
		Data:      command,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

func (h *StreamHandler) reply(client *Client, message *WebSocketMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to encode WebSocket message", zap.Error(err))
		return
	}

	h.clients.SendTo(client, payload)
}

func (h *StreamHandler) sendError(client *Client, requestID, errorMsg string) {
	h.reply(client, &WebSocketMessage{
		Type:      "error",
		Data:      gin.H{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}
