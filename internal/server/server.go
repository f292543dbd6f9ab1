package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tripwise/relay/internal/config"
	"github.com/tripwise/relay/internal/metrics"
	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/prompt"
	"go.uber.org/zap"
)

// Completer sends one completion request upstream
type Completer interface {
	Send(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	upstream Completer
	metrics  *metrics.Collector
}

// New creates a new server instance. collector may be nil.
func New(cfg *config.Config, logger *zap.Logger, upstream Completer, collector *metrics.Collector) *Server {
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   gin.New(),
		upstream: upstream,
		metrics:  collector,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recoveryHandler))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggerMiddleware())

	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}

	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	s.router.GET("/health", s.healthCheck)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	s.router.POST("/chat", s.handle(route{
		name:    "chat",
		builder: prompt.FreeForm(),
		reply:   replyText,
		failure: "Something went wrong with the AI request.",
	}))

	api := s.router.Group("/api")
	{
		api.POST("/travel", s.handle(route{
			name:    "travel",
			builder: prompt.ItineraryByDestination(),
			reply:   replyItinerary,
			failure: "Error generating travel plan",
		}))
		api.POST("/prompt", s.handle(route{
			name:    "prompt",
			builder: prompt.ItineraryByPrompt(),
			reply:   replyText,
			failure: "Failed to generate travel plan",
		}))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) recoveryHandler(c *gin.Context, recovered interface{}) {
	s.requestLogger(c).Error("Panic while handling request",
		zap.String("path", c.Request.URL.Path),
		zap.String("panic", fmt.Sprint(recovered)))
	c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
}
