package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/chatdb/internal/orchestrator"
	"github.com/user/chatdb/internal/state"
	"github.com/user/chatdb/internal/types"
)

func (s *Server) handleCreateSession(c *gin.Context) {
	sess, err := s.sessions.CreateSession(c.Request.Context(), "")
	if err != nil {
		slog.Error("create session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": string(sess.ID),
		"created_at": sess.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.ListSessions(c.Request.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gin.H{
			"session_id": string(sess.ID),
			"title":      sess.Title,
			"created_at": sess.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetMessages(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	messages, err := s.sessions.ListMessages(c.Request.Context(), id)
	if err != nil {
		slog.Error("list messages failed", "session_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, gin.H{
			"message_id": string(msg.ID),
			"type":       string(msg.Role),
			"content":    msg.Content,
			"timestamp":  msg.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := types.SessionID(c.Param("id"))
	status := "deleted"
	if err := s.sessions.DeleteSession(c.Request.Context(), id); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			slog.Error("delete session failed", "session_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		status = "not_found"
	}
	c.JSON(http.StatusOK, gin.H{"session_id": string(id), "status": status})
}

type queryRequest struct {
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
}

// handleQuery streams the orchestrator's events as NDJSON, flushing each
// event as it is produced. Client disconnects cancel the request context,
// which aborts in-flight generation and execution.
func (s *Server) handleQuery(mode orchestrator.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		if req.ConnectionID == "" || req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id and message are required"})
			return
		}

		// Reject unusable connections before any generation work begins.
		connID := types.ConnectionID(req.ConnectionID)
		if _, _, err := s.registry.Get(connID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection: " + err.Error()})
			return
		}

		// Resolve or create the session.
		sessionID := types.SessionID(req.SessionID)
		if sessionID != "" {
			if _, err := s.sessions.GetSession(c.Request.Context(), sessionID); err != nil {
				sessionID = ""
			}
		}
		if sessionID == "" {
			sess, err := s.sessions.CreateSession(c.Request.Context(), "")
			if err != nil {
				slog.Error("create session failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			sessionID = sess.ID
		}

		c.Header("Content-Type", "application/x-ndjson")
		c.Writer.WriteHeader(http.StatusOK)

		sink := func(ev orchestrator.Event) error {
			line, err := orchestrator.MarshalEvent(ev)
			if err != nil {
				return err
			}
			if _, err := c.Writer.Write(append(line, '\n')); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		}

		s.orch.Run(c.Request.Context(), orchestrator.Request{
			ConnectionID: connID,
			SessionID:    sessionID,
			Message:      req.Message,
			Mode:         mode,
		}, sink)
	}
}
