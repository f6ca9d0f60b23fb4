package handlers

import (
	"fmt"
	"net/http"

	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
	"github.com/gin-gonic/gin"
)

type MonitorHandler struct {
	BaseHandler
	monitorService services.MonitorService
}

func NewMonitorHandler(monitorService services.MonitorService, logger utils.Logger) *MonitorHandler {
	return &MonitorHandler{
		BaseHandler:    NewBaseHandler(logger),
		monitorService: monitorService,
	}
}

// GetLiveStats returns the live aggregate for one exam.
func (h *MonitorHandler) GetLiveStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	stats, err := h.monitorService.GetLiveStats(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetStudentProgress returns the per-student drill-down.
func (h *MonitorHandler) GetStudentProgress(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	progress, err := h.monitorService.GetStudentProgress(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// ExportProgressReport streams the progress workbook.
func (h *MonitorHandler) ExportProgressReport(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting progress report", "template_id", id)

	data, filename, err := h.monitorService.ExportProgressReport(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
