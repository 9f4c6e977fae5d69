// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sercom/internal/config"
	"sercom/internal/model"
	"sercom/internal/utils"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	directory DeviceDirectory
	stream    *StreamHandler
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(directory DeviceDirectory, stream *StreamHandler, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		directory: directory,
		stream:    stream,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports the connection state of every device. The service is
// healthy when every device is open, degraded when some are, and unhealthy
// when none are.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	devices := h.directory.Devices()
	open := 0
	for _, device := range devices {
		check := CheckResult{
			Status: "healthy",
			Data:   device.Stats,
		}
		if device.State != model.StateOpen {
			check.Status = "unhealthy"
			check.Message = "connection " + device.State.String()
		} else {
			open++
		}
		health.Checks["device:"+string(device.Device)] = check
	}

	switch {
	case len(devices) == 0 || open == 0:
		health.Status = "unhealthy"
	case open < len(devices):
		health.Status = "degraded"
	}

	if h.stream != nil {
		health.Checks["websocket"] = CheckResult{
			Status: "healthy",
			Data:   h.stream.GetConnectionStats(),
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed", zap.Int("devices", len(devices)), zap.Int("open", open))
	}

	c.JSON(statusCode, health)
}

// LivenessCheck reports that the process is serving requests
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}
