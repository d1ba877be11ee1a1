// Package server exposes the HTTP API: connection management, sessions, and
// the NDJSON-streamed chat query endpoints.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/orchestrator"
	"github.com/user/chatdb/internal/types"
)

// Server wires HTTP routes to the registry, session store, and orchestrator.
type Server struct {
	registry *connreg.Registry
	sessions types.SessionStore
	orch     *orchestrator.Orchestrator
	router   *gin.Engine
}

// New builds the gin router with all routes registered.
func New(registry *connreg.Registry, sessions types.SessionStore, orch *orchestrator.Orchestrator, corsOrigin string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(corsOrigin))

	s := &Server{
		registry: registry,
		sessions: sessions,
		orch:     orch,
		router:   router,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	db := router.Group("/api/database")
	db.POST("/connect", s.handleConnect)
	db.GET("/validate/:id", s.handleValidate)
	db.DELETE("/disconnect/:id", s.handleDisconnect)

	chat := router.Group("/api/chat")
	chat.POST("/sessions", s.handleCreateSession)
	chat.GET("/sessions", s.handleListSessions)
	chat.GET("/sessions/:id/messages", s.handleGetMessages)
	chat.DELETE("/sessions/:id", s.handleDeleteSession)
	chat.POST("/query", s.handleQuery(orchestrator.ModeReact))
	chat.POST("/query/direct", s.handleQuery(orchestrator.ModeDirect))

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// corsMiddleware sets CORS headers and answers preflight requests.
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
