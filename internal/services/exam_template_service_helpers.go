package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
	"gorm.io/datatypes"
)

func (s *examTemplateService) requireAdmin(ctx context.Context, userID string, resourceID uint, action string) error {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return NewPermissionError(userID, resourceID, "exam_template", action, "user not found")
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user.Role != models.RoleAdmin {
		return NewPermissionError(userID, resourceID, "exam_template", action, "admin role required")
	}
	return nil
}

func (s *examTemplateService) toResponse(ctx context.Context, template *models.ExamTemplate) *TemplateResponse {
	enrolled, err := s.repo.Enrollment().CountByTemplate(ctx, template.ID)
	if err != nil {
		s.logger.Warn("Failed to count enrollments", "template_id", template.ID, "error", err)
	}

	return &TemplateResponse{
		ExamTemplate:  template,
		EnrolledCount: enrolled,
		CanEdit:       template.Status == models.TemplateDraft,
		CanCancel:     template.Status == models.TemplateDraft || template.Status == models.TemplateScheduled,
	}
}

// autoAssignActiveStudents enrolls every active student who is not enrolled
// yet. Runs at activation for templates with AutoAssignAllActive.
func (s *examTemplateService) autoAssignActiveStudents(ctx context.Context, templateID uint) error {
	studentIDs, err := s.repo.User().ListActiveStudentIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active students: %w", err)
	}

	existing, err := s.repo.Enrollment().ListByTemplate(ctx, templateID)
	if err != nil {
		return fmt.Errorf("failed to list existing enrollments: %w", err)
	}
	enrolled := make(map[string]bool, len(existing))
	for _, e := range existing {
		enrolled[e.StudentID] = true
	}

	var missing []*models.ExamEnrollment
	for _, studentID := range studentIDs {
		if enrolled[studentID] {
			continue
		}
		missing = append(missing, &models.ExamEnrollment{
			ExamTemplateID: templateID,
			StudentID:      studentID,
			EnrolledBy:     "system",
		})
	}
	if len(missing) == 0 {
		return nil
	}

	if err := s.repo.Enrollment().Add(ctx, missing); err != nil {
		return fmt.Errorf("failed to auto-assign students: %w", err)
	}

	s.logger.Info("Auto-assigned active students", "template_id", templateID, "count", len(missing))
	return nil
}

func (s *examTemplateService) publish(ctx context.Context, topic string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, events.NewEvent(topic, payload)); err != nil {
		s.logger.Error("Failed to publish event", "topic", topic, "error", err)
	}
}

func buildContentSelection(req *validator.ContentSelectionRequest) *models.ContentSelection {
	adaptive := true
	if req.AdaptiveEnabled != nil {
		adaptive = *req.AdaptiveEnabled
	}

	return &models.ContentSelection{
		Mode:             req.Mode,
		SubjectID:        req.SubjectID,
		ChapterIDs:       mustJSON(req.ChapterIDs),
		DifficultyLevels: mustJSON(req.DifficultyLevels),
		AdaptiveEnabled:  adaptive,
	}
}

func buildSettings(req *validator.ExamSettingsRequest) models.ExamSettings {
	settings := models.ExamSettings{
		AutoSubmitOnExpiry: true,
	}
	if req == nil {
		return settings
	}

	if req.RandomizeQuestions != nil {
		settings.RandomizeQuestions = *req.RandomizeQuestions
	}
	if req.AllowNavigation != nil {
		settings.AllowNavigation = *req.AllowNavigation
	}
	if req.AllowReview != nil {
		settings.AllowReview = *req.AllowReview
	}
	if req.AutoSubmitOnExpiry != nil {
		settings.AutoSubmitOnExpiry = *req.AutoSubmitOnExpiry
	}
	if req.DetailedAnalytics != nil {
		settings.DetailedAnalytics = *req.DetailedAnalytics
	}
	return settings
}

func applyTemplateUpdate(template *models.ExamTemplate, req *UpdateExamTemplateRequest) {
	if req.Name != nil {
		template.Name = *req.Name
	}
	if req.Description != nil {
		template.Description = req.Description
	}
	if req.ScheduledStart != nil {
		template.ScheduledStart = req.ScheduledStart.UTC()
	}
	if req.ScheduledEnd != nil {
		template.ScheduledEnd = req.ScheduledEnd.UTC()
	}
	if req.DurationMinutes != nil {
		template.DurationMinutes = *req.DurationMinutes
	}
	if req.QuestionCount != nil {
		template.QuestionCount = *req.QuestionCount
	}
	if req.Settings != nil {
		applySettingsUpdate(&template.Settings, req.Settings)
	}
}

func applySettingsUpdate(settings *models.ExamSettings, req *validator.ExamSettingsRequest) {
	if req.RandomizeQuestions != nil {
		settings.RandomizeQuestions = *req.RandomizeQuestions
	}
	if req.AllowNavigation != nil {
		settings.AllowNavigation = *req.AllowNavigation
	}
	if req.AllowReview != nil {
		settings.AllowReview = *req.AllowReview
	}
	if req.AutoSubmitOnExpiry != nil {
		settings.AutoSubmitOnExpiry = *req.AutoSubmitOnExpiry
	}
	if req.DetailedAnalytics != nil {
		settings.DetailedAnalytics = *req.DetailedAnalytics
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}
