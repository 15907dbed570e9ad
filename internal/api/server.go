// Package api exposes the chatbot over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/combot/combot/internal/conversation"
	"github.com/combot/combot/internal/inference"
	"github.com/combot/combot/internal/memory"
	"github.com/combot/combot/internal/observability"
)

// Stepper advances conversations
type Stepper interface {
	Step(ctx context.Context, req conversation.StepRequest) (*conversation.StepResponse, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// MemoryMonitor tracks requests and memory pressure
type MemoryMonitor interface {
	BeginRequest() func()
	Check(ctx context.Context) memory.Tier
	Status() memory.Status
}

// ModelPool reports resident models
type ModelPool interface {
	Len() int
	Capacity() int
	Models() []inference.ModelInfo
}

// SlotGate reports held inference slots
type SlotGate interface {
	Active() int
	Max() int
}

// Config holds HTTP server settings
type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server serves the chatbot API
type Server struct {
	config  *Config
	chat    Stepper
	memory  MemoryMonitor
	pool    ModelPool
	gate    SlotGate
	logger  *slog.Logger
	metrics *observability.Metrics
	router  *gin.Engine
	http    *http.Server
}

// NewServer creates a server and registers its routes
func NewServer(config *Config, chat Stepper, mem MemoryMonitor, pool ModelPool, gate SlotGate, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  config,
		chat:    chat,
		memory:  mem,
		pool:    pool,
		gate:    gate,
		logger:  logger,
		metrics: metrics,
	}
	s.router = s.newRouter()
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(s.config.AllowedOrigins)))
	router.Use(s.requestMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := router.Group("/api")
	{
		api.POST("/chat/", s.handleStep("chat"))
		api.GET("/chat/initial/", s.handleInitial(brandBasic))
		api.GET("/chat/closing/", s.handleClosing(brandBasic))

		api.POST("/lulu/", s.handleStep("lulu"))
		api.GET("/lulu/initial/", s.handleInitial(brandLulu))
		api.GET("/lulu/closing/", s.handleClosing(brandLulu))

		api.GET("/random/", s.handleRandom)
		api.POST("/random/", s.handleStep("random"))

		api.GET("/memory-status/", s.handleMemoryStatus)
		api.GET("/pool-status/", s.handlePoolStatus)
	}
	return router
}

// corsConfig allows the configured origins, or every origin without credentials when none are set
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving HTTP until Shutdown is called
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.config.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
