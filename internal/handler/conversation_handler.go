package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-server/internal/models"
	"companion-server/internal/service"
)

// ConversationHandler - HTTP-слой диалогового API.
type ConversationHandler struct {
	turnService service.TurnService
	logger      *zap.Logger
}

func NewConversationHandler(turnService service.TurnService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		turnService: turnService,
		logger:      logger.Named("ConversationHandler"),
	}
}

// RegisterRoutes регистрирует маршруты диалогового API.
func (h *ConversationHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/conversation")
	{
		api.POST("/send", h.sendMessage)
		api.GET("/history/:session_id", h.getHistory)
	}

	router.GET("/health", h.healthCheck)
}

// sendMessage обрабатывает один ход диалога.
func (h *ConversationHandler) sendMessage(c *gin.Context) {
	var req models.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	resp, err := h.turnService.ProcessTurn(c.Request.Context(), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getHistory возвращает историю сообщений сессии, новые в конце.
func (h *ConversationHandler) getHistory(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "session_id must not be empty"})
		return
	}

	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	messages, err := h.turnService.GetHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// healthCheck всегда отвечает 200; фактический статус компонентов лежит в services.
func (h *ConversationHandler) healthCheck(c *gin.Context) {
	conversationStatus := "ok"
	if h.turnService == nil {
		conversationStatus = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"services": gin.H{
			"conversation": conversationStatus,
		},
	})
}
