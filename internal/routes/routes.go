// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sercom/internal/config"
	"sercom/internal/handler"
	"sercom/internal/middleware"
	"sercom/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	directory handler.DeviceDirectory
	scanner   handler.PortLister
	stream    *handler.StreamHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	directory handler.DeviceDirectory,
	scanner handler.PortLister,
	stream *handler.StreamHandler,
) *Router {
	return &Router{
		config:    config,
		logger:    logger,
		directory: directory,
		scanner:   scanner,
		stream:    stream,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() http.Handler {
	if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.directory, r.stream, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.directory, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.scanner, r.logger)

	apiV1 := router.Group("/api/v1")
	healthHandler.RegisterRoutes(apiV1)
	deviceHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	ws := router.Group("/ws")
	r.stream.RegisterRoutes(ws)

	r.logger.Info("Observer routes configured")
}
