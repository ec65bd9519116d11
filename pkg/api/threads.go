package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
)

// createMessageRequest is the POST /api/messages body.
type createMessageRequest struct {
	ConversationID   string  `json:"conversation_id" binding:"required"`
	ConversationType string  `json:"conversation_type" binding:"required"`
	Content          string  `json:"content" binding:"required"`
	Role             string  `json:"role" binding:"required"`
	AgentID          string  `json:"agent_id"`
	ThreadID         *string `json:"thread_id"`
	ReplyToMessageID *string `json:"reply_to_message_id"`
}

func (s *Server) handleCreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.threads.CreateMessage(c.Request.Context(), services.CreateMessageRequest{
		ConversationID:   req.ConversationID,
		ConversationType: models.ConversationType(req.ConversationType),
		Content:          req.Content,
		Role:             req.Role,
		AgentID:          req.AgentID,
		ThreadID:         req.ThreadID,
		ReplyToMessageID: req.ReplyToMessageID,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	if msg.ThreadID != nil {
		s.bus.Publish(events.New(events.TypeThreadReply, map[string]any{
			"thread_id":  *msg.ThreadID,
			"message_id": msg.ID,
		}))
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleCreateThread(c *gin.Context) {
	thread, err := s.threads.CreateThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	s.bus.Publish(events.New(events.TypeThreadCreated, map[string]any{
		"thread_id":         thread.ID,
		"parent_message_id": thread.ParentMessageID,
	}))
	c.JSON(http.StatusCreated, thread)
}

func (s *Server) handleGetThread(c *gin.Context) {
	ctx := c.Request.Context()
	thread, err := s.threads.GetThread(ctx, c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	messages, err := s.threads.ListThreadMessages(ctx, thread.ID)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thread":   thread,
		"messages": messages,
	})
}

func (s *Server) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
