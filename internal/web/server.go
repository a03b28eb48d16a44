package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perchcam/perchcam/internal/camera"
	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/logger"
)

// Server exposes the consumer-facing read API: stream reads, camera
// status, recording control and configuration reload.
type Server struct {
	host       string
	port       int
	logger     *logger.Logger
	cameras    *camera.Manager
	cfgService *config.Service
	store      DetectionFlagger

	httpServer *http.Server
}

// DetectionFlagger is the entry point the detection collaborator uses to
// flag a camera out of band.
type DetectionFlagger interface {
	FlagDetection(ctx context.Context, cameraID string) error
}

// NewServer creates the API server.
func NewServer(cfg config.WebConfig, cameras *camera.Manager, cfgService *config.Service,
	store DetectionFlagger, log *logger.Logger) *Server {
	return &Server{
		host:       cfg.Host,
		port:       cfg.Port,
		logger:     log.Named("web"),
		cameras:    cameras,
		cfgService: cfgService,
		store:      store,
	}
}

// Name implements the managed service interface.
func (s *Server) Name() string { return "web-server" }

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed", "error", err)
		}
	}()

	s.logger.Info("Web server started", "addr", s.httpServer.Addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1")
	{
		api.GET("/cameras", s.handleListCameras)
		api.GET("/cameras/:id/status", s.handleCameraStatus)
		api.GET("/cameras/:id/streams/:kind/:res/latest", s.handleReadLatest)
		api.POST("/cameras/:id/recording/start", s.handleStartRecording)
		api.POST("/cameras/:id/recording/stop", s.handleStopRecording)
		api.POST("/cameras/:id/detection", s.handleFlagDetection)
		api.POST("/config/reload", s.handleConfigReload)
		api.GET("/devices", s.handleListDevices)
	}
}

// requestLogger logs completed requests at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}
