package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the shared handler helpers.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	args = append(args, "method", c.Request.Method, "path", c.Request.URL.Path)
	h.logger.Info(msg, args...)
}

// parseIDParam returns the uint path param, or 0 after writing a 400.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// currentUserID returns the authenticated user id, or "" after writing a 401.
func (h *BaseHandler) currentUserID(c *gin.Context) string {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return ""
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return ""
	}
	return id
}

// handleServiceError maps service errors to HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Details,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var transitionError *services.StateTransitionError
	if errors.As(err, &transitionError) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Invalid state transition",
			Details: map[string]interface{}{
				"entity": transitionError.Entity,
				"from":   transitionError.From,
				"to":     transitionError.To,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Exam template not found"})
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Attempt session not found"})
	case errors.Is(err, services.ErrNotEnrolled):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Student not enrolled in exam"})
	case errors.Is(err, services.ErrExamNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Exam is not active"})
	case errors.Is(err, services.ErrSessionExpired):
		c.JSON(http.StatusGone, ErrorResponse{Message: "Session time has expired"})
	case errors.Is(err, services.ErrSessionNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Session is not in progress"})
	case errors.Is(err, services.ErrStaleQuestion):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Answer submitted for a stale question"})
	case errors.Is(err, services.ErrInsufficientQuestionPool):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Question pool too small for requested question count",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrTemplateNotEditable):
		c.JSON(http.StatusConflict, ErrorResponse{Message: "Exam template can only be edited in draft"})
	case errors.Is(err, services.ErrOracleUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "Knowledge oracle unavailable"})
	default:
		h.logger.Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal server error"})
	}
}
