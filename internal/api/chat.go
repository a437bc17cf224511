package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/worker"
)

type createConversationRequest struct {
	DiagnosisID string `json:"diagnosis_id"`
	Title       string `json:"title"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv, err := h.chat.CreateConversation(c.Request.Context(), req.DiagnosisID, req.Title)
	if err != nil {
		h.chatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	diagnosisID := c.Query("diagnosis_id")
	if diagnosisID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "diagnosis_id is required"})
		return
	}
	list, err := h.chat.ListConversations(c.Request.Context(), diagnosisID)
	if err != nil {
		h.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	deleted, err := h.chat.DeleteConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.chatError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Conversation deleted"})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	reply, err := h.chat.SendMessage(c.Request.Context(), req.ConversationID, req.Message)
	if err != nil {
		h.chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": req.ConversationID, "message": reply})
}

func (h *Handler) chatError(c *gin.Context, err error) {
	status := statusFor(err)
	if errors.Is(err, worker.ErrQueueFull) {
		status = http.StatusTooManyRequests
	}
	if status >= http.StatusInternalServerError {
		slog.Error("chat request failed", "path", c.FullPath(), "kind", faults.Kind(err), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
