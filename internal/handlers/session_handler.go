package handlers

import (
	"context"
	"net/http"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
}

func NewSessionHandler(sessionService services.SessionService, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
	}
}

// StartSession starts (or resumes) the student's attempt for a template.
func (h *SessionHandler) StartSession(c *gin.Context) {
	templateID := h.parseIDParam(c, "template_id")
	if templateID == 0 {
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, "Starting attempt session", "template_id", templateID, "student_id", studentID)

	session, err := h.sessionService.Start(c.Request.Context(), templateID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	session, err := h.sessionService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.runTransition(c, "Pausing session", h.sessionService.Pause)
}

func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.runTransition(c, "Resuming session", h.sessionService.Resume)
}

// NextQuestion delivers the next (or currently pending) question.
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	delivery, err := h.sessionService.NextQuestion(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, delivery)
}

// SubmitAnswer records one graded answer for the current question.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	feedback, err := h.sessionService.SubmitAnswer(c.Request.Context(), id, studentID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, feedback)
}

// SubmitSession finalizes the attempt and computes its score.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, "Submitting session", "session_id", id)

	session, err := h.sessionService.Finalize(c.Request.Context(), id, studentID, models.FinalizeManual)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) AbandonSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, "Abandoning session", "session_id", id)

	session, err := h.sessionService.Abandon(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type transitionFunc func(ctx context.Context, sessionID uint, studentID string) (*services.SessionResponse, error)

func (h *SessionHandler) runTransition(c *gin.Context, msg string, fn transitionFunc) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID := h.currentUserID(c)
	if studentID == "" {
		return
	}

	h.LogRequest(c, msg, "session_id", id)

	session, err := fn(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}
