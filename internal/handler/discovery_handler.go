// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sercom/internal/discovery"
	"sercom/internal/utils"
)

// PortLister enumerates candidate serial ports
type PortLister interface {
	ScanAll(ctx context.Context) ([]*discovery.DiscoveredPort, error)
}

// DiscoveryHandler handles port discovery requests
type DiscoveryHandler struct {
	scanner PortLister
	logger  *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanner PortLister, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanner: scanner,
		logger:  utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)
}

// ListPorts lists serial ports present on the host
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.scanner.ScanAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}
