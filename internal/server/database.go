package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/chatdb/internal/connreg"
	"github.com/user/chatdb/internal/types"
)

type connectResponse struct {
	ConnectionID string         `json:"connection_id"`
	Status       string         `json:"status"`
	DatabaseInfo map[string]any `json:"database_info,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func (s *Server) handleConnect(c *gin.Context) {
	var cfg connreg.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	info, err := s.registry.Register(c.Request.Context(), cfg)
	if err != nil {
		// Register-time failures are reported in the body, not as a
		// transport error.
		c.JSON(http.StatusOK, connectResponse{Status: "failed", Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, connectResponse{
		ConnectionID: string(info.ID),
		Status:       "connected",
		DatabaseInfo: map[string]any{
			"db_type":        string(info.Kind),
			"database":       info.Database,
			"server_version": info.ServerVersion,
		},
	})
}

func (s *Server) handleValidate(c *gin.Context) {
	id := types.ConnectionID(c.Param("id"))
	health, err := s.registry.Validate(c.Request.Context(), id)
	if err != nil && health == nil {
		health = &connreg.Health{ID: id, Valid: false, LastChecked: time.Now(), Error: err.Error()}
	}
	c.JSON(http.StatusOK, gin.H{
		"connection_id": string(health.ID),
		"is_valid":      health.Valid,
		"last_checked":  health.LastChecked.UTC().Format(time.RFC3339),
		"error":         health.Error,
	})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	id := types.ConnectionID(c.Param("id"))
	status := "disconnected"
	if err := s.registry.Disconnect(id); err != nil {
		status = "not_found"
	}
	c.JSON(http.StatusOK, gin.H{"connection_id": string(id), "status": status})
}
