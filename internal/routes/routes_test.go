package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"sercom/internal/config"
	"sercom/internal/discovery"
	"sercom/internal/handler"
	"sercom/internal/middleware"
	"sercom/internal/model"
	"sercom/internal/monitor"
)

type emptyDirectory struct{}

func (emptyDirectory) Devices() []monitor.SessionStatus { return nil }

func (emptyDirectory) Submit(context.Context, model.DeviceID, string) error {
	return monitor.ErrUnknownDevice
}

type noPorts struct{}

func (noPorts) ScanAll(context.Context) ([]*discovery.DiscoveredPort, error) { return nil, nil }

func newTestRouter(t *testing.T) http.Handler {
	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		App:    config.AppConfig{Name: "sercom"},
		Server: config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	stream := handler.NewStreamHandler(emptyDirectory{}, logger)
	return NewRouter(cfg, logger, emptyDirectory{}, noPorts{}, stream).SetupRouter()
}

func TestRouter_RequestID(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"abc-123"`)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/api/v1/live", http.StatusOK},
		{http.MethodGet, "/api/v1/health", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/devices", http.StatusOK},
		{http.MethodGet, "/api/v1/devices/missing", http.StatusNotFound},
		{http.MethodGet, "/ws/records", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.code, w.Code, tt.path)
	}
}

func TestRouter_CORS(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
