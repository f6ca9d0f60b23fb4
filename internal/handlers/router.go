package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-engine/internal/config"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
)

type HandlerManager struct {
	templateHandler *ExamTemplateHandler
	sessionHandler  *SessionHandler
	monitorHandler  *MonitorHandler
	authMiddleware  *CasdoorAuthMiddleware

	serviceManager services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		templateHandler: NewExamTemplateHandler(serviceManager.Template(), logger),
		sessionHandler:  NewSessionHandler(serviceManager.Session(), logger),
		monitorHandler:  NewMonitorHandler(serviceManager.Monitor(), logger),
		authMiddleware:  NewCasdoorAuthMiddleware(casdoorConfig, userRepo),
		serviceManager:  serviceManager,
	}
}

// SetupRoutes sets up all API routes.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		admin := hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin)

		// Exam template routes
		exams := v1.Group("/exams")
		{
			// Template management - Admins only
			exams.POST("", admin, hm.templateHandler.CreateTemplate)
			exams.PUT("/:id", admin, hm.templateHandler.UpdateTemplate)
			exams.DELETE("/:id", admin, hm.templateHandler.DeleteTemplate)
			exams.POST("/:id/schedule", admin, hm.templateHandler.ScheduleTemplate)
			exams.POST("/:id/cancel", admin, hm.templateHandler.CancelTemplate)
			exams.GET("/:id/pool", admin, hm.templateHandler.CheckPoolCapacity)

			// Enrollment - Admins only
			exams.POST("/:id/enrollments", admin, hm.templateHandler.EnrollStudents)
			exams.DELETE("/:id/enrollments/:student_id", admin, hm.templateHandler.UnenrollStudent)
			exams.GET("/:id/enrollments", admin, hm.templateHandler.ListEnrollments)

			// Viewing - all authenticated users
			exams.GET("", hm.templateHandler.ListTemplates)
			exams.GET("/:id", hm.templateHandler.GetTemplate)

			// Attempting - students start from the exam
			exams.POST("/:template_id/sessions", hm.sessionHandler.StartSession)

			// Live monitor - Admins only
			exams.GET("/:id/monitor", admin, hm.monitorHandler.GetLiveStats)
			exams.GET("/:id/monitor/students", admin, hm.monitorHandler.GetStudentProgress)
			exams.GET("/:id/monitor/export", admin, hm.monitorHandler.ExportProgressReport)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.POST("/:id/pause", hm.sessionHandler.PauseSession)
			sessions.POST("/:id/resume", hm.sessionHandler.ResumeSession)
			sessions.GET("/:id/next", hm.sessionHandler.NextQuestion)
			sessions.POST("/:id/answers", hm.sessionHandler.SubmitAnswer)
			sessions.POST("/:id/submit", hm.sessionHandler.SubmitSession)
			sessions.POST("/:id/abandon", hm.sessionHandler.AbandonSession)
		}
	}
}

func (hm *HandlerManager) healthCheck(c *gin.Context) {
	if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
