package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"companion-server/internal/ai"
	"companion-server/internal/models"
)

// handleServiceError отображает ошибки сервисного слоя в HTTP-статусы.
func (h *ConversationHandler) handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp models.ErrorResponse

	switch {
	case errors.Is(err, models.ErrEmptyUserID):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "user_id must not be empty"}
	case errors.Is(err, models.ErrEmptyMessage):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "message must not be empty"}
	case errors.Is(err, models.ErrMessageTooLong):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "message exceeds maximum length"}
	case errors.Is(err, models.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Error: "session not found"}
	case ai.IsUnavailable(err):
		// Единственный фатальный для хода случай: модель недоступна.
		statusCode = http.StatusServiceUnavailable
		errResp = models.ErrorResponse{Error: "conversation model is temporarily unavailable"}
	default:
		h.logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Error: "an unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}
