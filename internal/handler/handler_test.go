package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"

	"sercom/internal/config"
	"sercom/internal/discovery"
	"sercom/internal/model"
	"sercom/internal/monitor"
	"sercom/internal/protocol"
)

type fakeDirectory struct {
	mu        sync.Mutex
	statuses  []monitor.SessionStatus
	submitted []string
	err       error
}

func (d *fakeDirectory) Devices() []monitor.SessionStatus {
	return d.statuses
}

func (d *fakeDirectory) Submit(_ context.Context, device model.DeviceID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	for _, status := range d.statuses {
		if status.Device == device {
			d.submitted = append(d.submitted, string(device)+":"+text)
			return nil
		}
	}
	return monitor.ErrUnknownDevice
}

func (d *fakeDirectory) Submitted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.submitted...)
}

type fakeLister struct {
	ports []*discovery.DiscoveredPort
	err   error
}

func (l fakeLister) ScanAll(context.Context) ([]*discovery.DiscoveredPort, error) {
	return l.ports, l.err
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{statuses: []monitor.SessionStatus{
		{ID: "4b1c0f5e-session", Device: "gps", Identity: model.Identity{Address: "/dev/ttyUSB0", BaudRate: 9600}, State: model.StateOpen},
		{Device: "esp", State: model.StateDead},
	}}
}

func newTestEngine(t *testing.T, register func(*gin.RouterGroup)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	register(engine.Group("/api/v1"))
	return engine
}

func decode(t *testing.T, body *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body.Bytes(), &out))
	return out
}

func TestDeviceHandler_ListAndGet(t *testing.T) {
	h := NewDeviceHandler(newDirectory(), zaptest.NewLogger(t))
	engine := newTestEngine(t, h.RegisterRoutes)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w.Body)["data"].(map[string]interface{})
	assert.EqualValues(t, 2, data["total"])

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/esp", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DEAD", decode(t, w.Body)["data"].(map[string]interface{})["state"])

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceHandler_SubmitCommand(t *testing.T) {
	directory := newDirectory()
	h := NewDeviceHandler(directory, zaptest.NewLogger(t))
	engine := newTestEngine(t, h.RegisterRoutes)

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusAccepted, post("/api/v1/devices/gps/commands", `{"text":"$PMTK605*31"}`).Code)
	assert.Equal(t, []string{"gps:$PMTK605*31"}, directory.Submitted())

	assert.Equal(t, http.StatusBadRequest, post("/api/v1/devices/gps/commands", `{`).Code)
	assert.Equal(t, http.StatusNotFound, post("/api/v1/devices/nope/commands", `{"text":"x"}`).Code)

	directory.err = monitor.ErrInputClosed
	assert.Equal(t, http.StatusConflict, post("/api/v1/devices/gps/commands", `{"text":"x"}`).Code)

	directory.err = errors.New("queue full")
	resp := post("/api/v1/devices/gps/commands", `{"text":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decode(t, resp.Body)["error"].(map[string]interface{})["code"])
}

func TestDeviceHandler_SubmitErrorCarriesDeviceContext(t *testing.T) {
	directory := newDirectory()
	directory.err = protocol.NewTransportError("write", "/dev/ttyUSB0", io.ErrClosedPipe)
	engine := newTestEngine(t, NewDeviceHandler(directory, zaptest.NewLogger(t)).RegisterRoutes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/gps/commands", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	apiErr := decode(t, w.Body)["error"].(map[string]interface{})
	assert.Equal(t, "TRANSPORT_ERROR", apiErr["code"])
	assert.Contains(t, apiErr["cause"], "closed pipe")
	assert.Equal(t, map[string]interface{}{
		"device_id":  "gps",
		"session_id": "4b1c0f5e-session",
		"address":    "/dev/ttyUSB0",
		"operation":  "write",
	}, apiErr["details"])
}

func TestHealthHandler(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Name: "sercom", Version: "test"}}

	directory := newDirectory()
	h := NewHealthHandler(directory, nil, cfg, zaptest.NewLogger(t))
	engine := newTestEngine(t, h.RegisterRoutes)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w.Body)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "unhealthy", checks["device:esp"].(map[string]interface{})["status"])

	directory.statuses = directory.statuses[1:]
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDiscoveryHandler(t *testing.T) {
	lister := fakeLister{ports: []*discovery.DiscoveredPort{{Address: "/dev/ttyUSB0", Scanner: "serial"}}}
	engine := newTestEngine(t, NewDiscoveryHandler(lister, zaptest.NewLogger(t)).RegisterRoutes)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w.Body)["data"].(map[string]interface{})["ports_found"])

	failing := fakeLister{err: errors.New("scan cancelled")}
	engine = newTestEngine(t, NewDiscoveryHandler(failing, zaptest.NewLogger(t)).RegisterRoutes)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func dialStream(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStreamHandler_BroadcastsAndRoutesCommands(t *testing.T) {
	directory := newDirectory()
	stream := NewStreamHandler(directory, zaptest.NewLogger(t))
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	stream.RegisterRoutes(engine.Group("/ws"))

	server := httptest.NewServer(engine)
	defer server.Close()
	defer stream.Close()

	all := dialStream(t, server, "/ws/records")
	gpsOnly := dialStream(t, server, "/ws/records/gps")
	require.Eventually(t, func() bool { return stream.GetConnectionStats().TotalConnections == 2 }, time.Second, time.Millisecond)

	require.NoError(t, stream.Deliver(context.Background(), model.NewRecord("esp", []byte("boot\r\n"), time.Time{})))
	require.NoError(t, stream.Deliver(context.Background(), model.NewRecord("gps", []byte("$GPGGA\r\n"), time.Time{})))

	msg := readMessage(t, all)
	assert.Equal(t, "record", msg.Type)
	assert.Equal(t, "boot", msg.Data.(map[string]interface{})["text"])
	assert.Equal(t, "$GPGGA", readMessage(t, all).Data.(map[string]interface{})["text"])

	msg = readMessage(t, gpsOnly)
	assert.Equal(t, "gps", msg.Data.(map[string]interface{})["device_id"])

	stream.Status(model.NewStatusEvent("gps", model.StatusReconnecting, "attempt 1"))
	msg = readMessage(t, gpsOnly)
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, "reconnecting", msg.Data.(map[string]interface{})["kind"])
	assert.Equal(t, "status", readMessage(t, all).Type)

	require.NoError(t, gpsOnly.WriteJSON(WebSocketMessage{
		Type:      "command",
		Data:      CommandMessage{Text: "$PMTK101*32"},
		RequestID: "r1",
	}))
	msg = readMessage(t, gpsOnly)
	assert.Equal(t, "command_queued", msg.Type)
	assert.Equal(t, "r1", msg.RequestID)
	assert.Equal(t, []string{"gps:$PMTK101*32"}, directory.Submitted())

	require.NoError(t, all.WriteJSON(WebSocketMessage{Type: "command", Data: CommandMessage{Text: "x"}}))
	assert.Equal(t, "error", readMessage(t, all).Type)

	require.NoError(t, all.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "p"}))
	msg = readMessage(t, all)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p", msg.RequestID)
}

func TestClientHub_DropsForSlowClients(t *testing.T) {
	hub := NewClientHub()
	client := &Client{ID: "slow", Send: make(chan []byte, 1), Dropped: atomic.NewInt64(0)}
	require.True(t, hub.Register(client))

	hub.Broadcast("", []byte("1"))
	hub.Broadcast("", []byte("2"))

	stats := hub.GetStats()
	require.Len(t, stats.Clients, 1)
	assert.EqualValues(t, 1, stats.Clients[0].Dropped)

	hub.CloseAll()
	_, open := <-client.Send
	assert.True(t, open, "queued message still readable")
	_, open = <-client.Send
	assert.False(t, open)
	assert.False(t, hub.Register(&Client{ID: "late", Send: make(chan []byte), Dropped: atomic.NewInt64(0)}))
}
