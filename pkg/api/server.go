// Package api is the HTTP surface: request submission, result retrieval,
// and the WebSocket event stream. It owns session storage; the pipeline
// core only ever sees state objects.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/costcraft/mason/pkg/config"
	"github.com/costcraft/mason/pkg/events"
	"github.com/costcraft/mason/pkg/router"
	"github.com/costcraft/mason/pkg/version"
)

// wsWriteTimeout bounds a single WebSocket frame write.
const wsWriteTimeout = 10 * time.Second

// Server wires the HTTP routes to the router entry points.
type Server struct {
	cfg     *config.Config
	entry   *router.Router
	store   *Store
	connMgr *events.ConnectionManager

	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, entry *router.Router, store *Store, broker *events.Broker) *Server {
	return &Server{
		cfg:     cfg,
		entry:   entry,
		store:   store,
		connMgr: events.NewConnectionManager(broker, wsWriteTimeout),
	}
}

// Engine builds the gin engine with all routes registered.
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	engine.GET("/healthz", s.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/requests", s.CreateRequest)
		v1.GET("/requests/:id", s.GetRequest)
		v1.POST("/requests/:id/files", s.SubmitFileSelection)
		v1.POST("/requests/:id/sheet", s.SubmitSheetURL)
		v1.GET("/requests/:id/export", s.DownloadExport)
	}

	engine.GET("/ws", s.HandleWebSocket)
	return engine
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"sessions": s.store.Len(),
	})
}

// HandleWebSocket upgrades the connection and hands it to the connection
// manager, which speaks the subscribe/unsubscribe protocol.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.connMgr.HandleConnection(c.Request.Context(), conn)
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
