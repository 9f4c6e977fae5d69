// internal/handler/device_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sercom/internal/model"
	"sercom/internal/monitor"
	"sercom/internal/protocol"
	"sercom/internal/utils"
)

// DeviceDirectory is the set of monitored devices the HTTP layer can
// inspect and write to
type DeviceDirectory interface {
	Devices() []monitor.SessionStatus
	Submit(ctx context.Context, device model.DeviceID, text string) error
}

// CommandRequest is the body of a command submission
type CommandRequest struct {
	Text string `json:"text"`
}

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	directory DeviceDirectory
	logger    *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(directory DeviceDirectory, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		directory: directory,
		logger:    utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.GET("/:device_id", h.GetDevice)
		devices.POST("/:device_id/commands", h.SubmitCommand)
	}
}

// ListDevices returns the status of every monitored device
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.directory.Devices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"total":   len(devices),
	})
}

// GetDevice returns the status of one device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	status, ok := h.lookup(model.DeviceID(c.Param("device_id")))
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", status)
}

func (h *DeviceHandler) lookup(id model.DeviceID) (monitor.SessionStatus, bool) {
	for _, status := range h.directory.Devices() {
		if status.Device == id {
			return status, true
		}
	}
	return monitor.SessionStatus{}, false
}

// SubmitCommand queues an operator line for transmission to a device. The
// line terminator is appended by the transmit pipeline.
func (h *DeviceHandler) SubmitCommand(c *gin.Context) {
	id := model.DeviceID(c.Param("device_id"))

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if status, ok := h.lookup(id); ok {
		utils.SetErrorDetail(c, "session_id", status.ID)
		utils.SetErrorDetail(c, "address", status.Identity.Address)
	}

	err := h.directory.Submit(c.Request.Context(), id, req.Text)
	switch {
	case err == nil:
		utils.SuccessResponse(c, http.StatusAccepted, "Command queued", gin.H{
			"device_id": id,
			"text":      req.Text,
		})
	case errors.Is(err, monitor.ErrUnknownDevice):
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
	case errors.Is(err, monitor.ErrInputClosed), errors.Is(err, protocol.ErrClosed):
		utils.ErrorResponse(c, http.StatusConflict, "Device session is stopping", err)
	default:
		h.logger.Error("Failed to queue command",
			zap.String("device_id", string(id)),
			zap.Error(err),
		)
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Failed to queue command", err)
	}
}
