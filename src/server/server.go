package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	datasource "stock-stream/src/data_source"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// StreamServer
// -----------------------------------------------------------------------------

type StreamServer struct {
	Config      *models.MConfig
	Logger      *logger.Logger
	Coordinator interfaces.IConnectionCoordinator
	Feeds       *datasource.FeedManager
	Quotes      interfaces.IQuoteSource
	Metrics     *metrics.Metrics

	// optional
	Store interfaces.ITradeStore
	Sink  interfaces.IFrameSink

	engine *gin.Engine
	http   *http.Server
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewStreamServer(
	cfg *models.MConfig,
	coord interfaces.IConnectionCoordinator,
	feeds *datasource.FeedManager,
	quotes interfaces.IQuoteSource,
	log *logger.Logger,
	m *metrics.Metrics,
) *StreamServer {
	if strings.ToUpper(cfg.LogLevel) != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &StreamServer{
		Config:      cfg,
		Logger:      log,
		Coordinator: coord,
		Feeds:       feeds,
		Quotes:      quotes,
		Metrics:     m,
		engine:      gin.New(),
	}

	zl := logger.Zap()
	s.engine.Use(ginzap.Ginzap(zl, time.RFC3339, true))
	s.engine.Use(ginzap.RecoveryWithZap(zl, true))
	s.engine.Use(cors.New(corsConfig(cfg.CorsAllowedOrigins)))

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "Cache-Control", "Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *StreamServer) setupRoutes() {
	s.engine.GET("/stream", s.handleStream)

	api := s.engine.Group("/api")
	api.GET("/quote", s.getQuote)
	api.GET("/health", s.getHealth)
	api.GET("/status", s.getStatus)

	s.engine.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
}

// Handler exposes the router (tests, embedding).
func (s *StreamServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start blocks serving HTTP until Stop is called.
func (s *StreamServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: streams are long-lived
	}
	s.Logger.Info("Starting server on %s", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop tears down every running feed, which ends the open streams, then shuts
// the listener down.
func (s *StreamServer) Stop(ctx context.Context) error {
	s.Feeds.StopAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *StreamServer) getHealth(c *gin.Context) {
	snap := s.Coordinator.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"streams":     len(snap.Connections),
		"rateLimited": snap.RateLimited,
	})
}

// -----------------------------------------------------------------------------

func (s *StreamServer) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"coordinator": s.Coordinator.Snapshot(),
		"feeds":       s.Feeds.List(),
	})
}
