package handlers

import (
	"net/http"
	"strconv"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
	"github.com/gin-gonic/gin"
)

type ExamTemplateHandler struct {
	BaseHandler
	templateService services.ExamTemplateService
}

func NewExamTemplateHandler(templateService services.ExamTemplateService, logger utils.Logger) *ExamTemplateHandler {
	return &ExamTemplateHandler{
		BaseHandler:     NewBaseHandler(logger),
		templateService: templateService,
	}
}

// CreateTemplate creates a new exam template in Draft.
func (h *ExamTemplateHandler) CreateTemplate(c *gin.Context) {
	h.LogRequest(c, "Creating exam template")

	var req services.CreateExamTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	template, err := h.templateService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, template)
}

func (h *ExamTemplateHandler) GetTemplate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	template, err := h.templateService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, template)
}

func (h *ExamTemplateHandler) ListTemplates(c *gin.Context) {
	filters := repositories.TemplateFilters{
		Limit:     20,
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if status := c.Query("status"); status != "" {
		s := models.TemplateStatus(status)
		filters.Status = &s
	}
	if createdBy := c.Query("created_by"); createdBy != "" {
		filters.CreatedBy = &createdBy
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 100 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset >= 0 {
		filters.Offset = offset
	}

	list, err := h.templateService.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *ExamTemplateHandler) UpdateTemplate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.UpdateExamTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	template, err := h.templateService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, template)
}

func (h *ExamTemplateHandler) DeleteTemplate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	if err := h.templateService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Exam template deleted"})
}

// ScheduleTemplate moves a Draft template to Scheduled.
func (h *ExamTemplateHandler) ScheduleTemplate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	h.LogRequest(c, "Scheduling exam template", "template_id", id)

	if err := h.templateService.Schedule(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Exam template scheduled"})
}

// CancelTemplate cancels a Draft or Scheduled template.
func (h *ExamTemplateHandler) CancelTemplate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	h.LogRequest(c, "Cancelling exam template", "template_id", id)

	if err := h.templateService.Cancel(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Exam template cancelled"})
}

// EnrollStudents adds explicit enrollments to a template.
func (h *ExamTemplateHandler) EnrollStudents(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.EnrollStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID := h.currentUserID(c)
	if userID == "" {
		return
	}

	if err := h.templateService.Enroll(c.Request.Context(), id, &req, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Students enrolled"})
}

func (h *ExamTemplateHandler) UnenrollStudent(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid student_id parameter"})
		return
	}

	if err := h.templateService.Unenroll(c.Request.Context(), id, studentID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Student unenrolled"})
}

func (h *ExamTemplateHandler) ListEnrollments(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	enrollments, err := h.templateService.ListEnrollments(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: enrollments})
}

// CheckPoolCapacity reports whether the question pool covers the template.
func (h *ExamTemplateHandler) CheckPoolCapacity(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	capacity, err := h.templateService.CheckPoolCapacity(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, capacity)
}
