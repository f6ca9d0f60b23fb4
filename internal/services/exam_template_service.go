package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/questionpool"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
)

// SessionCloser is the part of SessionService the template lifecycle needs
// for the completion cascade.
type SessionCloser interface {
	ForceCloseForTemplate(ctx context.Context, templateID uint) (int, error)
}

type examTemplateService struct {
	repo      repositories.Repository
	pool      questionpool.Resolver
	publisher events.EventPublisher
	clock     clock.Clock
	logger    *slog.Logger
	validator *validator.BusinessValidator

	// Set after construction to break the template<->session cycle.
	sessions SessionCloser
}

func NewExamTemplateService(
	repo repositories.Repository,
	pool questionpool.Resolver,
	publisher events.EventPublisher,
	clk clock.Clock,
	logger *slog.Logger,
	v *validator.BusinessValidator,
) *examTemplateService {
	return &examTemplateService{
		repo:      repo,
		pool:      pool,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		validator: v,
	}
}

// SetSessionCloser wires the completion cascade target.
func (s *examTemplateService) SetSessionCloser(closer SessionCloser) {
	s.sessions = closer
}

// ===== CRUD =====

func (s *examTemplateService) Create(ctx context.Context, req *CreateExamTemplateRequest, creatorID string) (*TemplateResponse, error) {
	s.logger.Info("Creating exam template", "name", req.Name, "creator_id", creatorID)

	if errs := s.validator.ValidateTemplateCreate(req); len(errs) > 0 {
		return nil, errs
	}

	if err := s.requireAdmin(ctx, creatorID, 0, "create"); err != nil {
		return nil, err
	}

	selection := buildContentSelection(&req.ContentSelection)

	// The pool has to cover the requested question count before the template
	// is worth persisting.
	available, err := s.pool.CountAvailable(ctx, selection)
	if err != nil {
		return nil, fmt.Errorf("failed to check question pool: %w", err)
	}
	if available < int64(req.QuestionCount) {
		s.logger.Warn("Insufficient question pool for template",
			"requested", req.QuestionCount, "available", available)
		return nil, fmt.Errorf("%w: requested %d, available %d",
			ErrInsufficientQuestionPool, req.QuestionCount, available)
	}

	template := &models.ExamTemplate{
		Name:                req.Name,
		Description:         req.Description,
		Status:              models.TemplateDraft,
		ScheduledStart:      req.ScheduledStart.UTC(),
		ScheduledEnd:        req.ScheduledEnd.UTC(),
		DurationMinutes:     req.DurationMinutes,
		QuestionCount:       req.QuestionCount,
		AutoAssignAllActive: req.AutoAssignAllActive,
		CreatedBy:           creatorID,
		ContentSelection:    *selection,
		Settings:            buildSettings(req.Settings),
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Template().Create(ctx, template); err != nil {
			return err
		}
		if len(req.StudentIDs) > 0 {
			enrollments := make([]*models.ExamEnrollment, 0, len(req.StudentIDs))
			for _, studentID := range req.StudentIDs {
				enrollments = append(enrollments, &models.ExamEnrollment{
					ExamTemplateID: template.ID,
					StudentID:      studentID,
					EnrolledBy:     creatorID,
				})
			}
			if err := txRepo.Enrollment().Add(ctx, enrollments); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exam template: %w", err)
	}

	s.logger.Info("Exam template created", "template_id", template.ID, "status", template.Status)
	return s.toResponse(ctx, template), nil
}

func (s *examTemplateService) GetByID(ctx context.Context, id uint) (*TemplateResponse, error) {
	template, err := s.repo.Template().GetByIDWithDetails(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}
	return s.toResponse(ctx, template), nil
}

func (s *examTemplateService) List(ctx context.Context, filters repositories.TemplateFilters) (*TemplateListResponse, error) {
	templates, total, err := s.repo.Template().List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list exam templates: %w", err)
	}

	responses := make([]*TemplateResponse, 0, len(templates))
	for _, template := range templates {
		responses = append(responses, s.toResponse(ctx, template))
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &TemplateListResponse{
		Templates: responses,
		Total:     total,
		Page:      page,
		Size:      len(responses),
	}, nil
}

func (s *examTemplateService) Update(ctx context.Context, id uint, req *UpdateExamTemplateRequest, userID string) (*TemplateResponse, error) {
	template, err := s.repo.Template().GetByIDWithDetails(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}

	if err := s.requireAdmin(ctx, userID, id, "update"); err != nil {
		return nil, err
	}
	if template.Status != models.TemplateDraft {
		return nil, ErrTemplateNotEditable
	}

	if errs := s.validator.ValidateTemplateUpdate(req, template); len(errs) > 0 {
		return nil, errs
	}

	applyTemplateUpdate(template, req)

	if err := s.repo.Template().Update(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to update exam template: %w", err)
	}

	s.logger.Info("Exam template updated", "template_id", id, "user_id", userID)
	return s.toResponse(ctx, template), nil
}

func (s *examTemplateService) Delete(ctx context.Context, id uint, userID string) error {
	template, err := s.repo.Template().GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get exam template: %w", err)
	}

	if err := s.requireAdmin(ctx, userID, id, "delete"); err != nil {
		return err
	}
	if template.Status != models.TemplateDraft && template.Status != models.TemplateCancelled {
		return NewBusinessRuleError("template_delete", "only draft or cancelled templates can be deleted",
			map[string]interface{}{"status": template.Status})
	}

	if err := s.repo.Template().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete exam template: %w", err)
	}

	s.logger.Info("Exam template deleted", "template_id", id, "user_id", userID)
	return nil
}

// ===== LIFECYCLE =====

func (s *examTemplateService) Schedule(ctx context.Context, id uint, userID string) error {
	template, err := s.repo.Template().GetByIDWithDetails(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get exam template: %w", err)
	}

	if err := s.requireAdmin(ctx, userID, id, "schedule"); err != nil {
		return err
	}

	// Re-check capacity at schedule time; the pool may have shrunk since
	// the draft was created.
	available, err := s.pool.CountAvailable(ctx, &template.ContentSelection)
	if err != nil {
		return fmt.Errorf("failed to check question pool: %w", err)
	}
	if available < int64(template.QuestionCount) {
		return fmt.Errorf("%w: requested %d, available %d",
			ErrInsufficientQuestionPool, template.QuestionCount, available)
	}

	changed, err := s.repo.Template().UpdateStatus(ctx, id, models.TemplateDraft, models.TemplateScheduled)
	if err != nil {
		return fmt.Errorf("failed to schedule exam template: %w", err)
	}
	if !changed {
		return NewStateTransitionError("template", id, string(template.Status), string(models.TemplateScheduled))
	}

	s.logger.Info("Exam template scheduled", "template_id", id,
		"scheduled_start", template.ScheduledStart, "scheduled_end", template.ScheduledEnd)
	return nil
}

func (s *examTemplateService) Activate(ctx context.Context, id uint) error {
	template, err := s.repo.Template().GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get exam template: %w", err)
	}

	changed, err := s.repo.Template().UpdateStatus(ctx, id, models.TemplateScheduled, models.TemplateActive)
	if err != nil {
		return fmt.Errorf("failed to activate exam template: %w", err)
	}
	if !changed {
		// Already active (or past it): activation is idempotent for the daemon.
		if template.Status == models.TemplateActive {
			return nil
		}
		return NewStateTransitionError("template", id, string(template.Status), string(models.TemplateActive))
	}

	if template.AutoAssignAllActive {
		if err := s.autoAssignActiveStudents(ctx, id); err != nil {
			// Activation already happened; enrollment gaps are recoverable by hand.
			s.logger.Error("Auto-assign after activation failed", "template_id", id, "error", err)
		}
	}

	s.publish(ctx, events.TopicExamActivated, events.ExamLifecycleEvent{
		ExamTemplateID: id,
		Name:           template.Name,
		Status:         string(models.TemplateActive),
	})

	s.logger.Info("Exam template activated", "template_id", id)
	return nil
}

func (s *examTemplateService) Complete(ctx context.Context, id uint) (int, error) {
	template, err := s.repo.Template().GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, ErrTemplateNotFound
		}
		return 0, fmt.Errorf("failed to get exam template: %w", err)
	}

	changed, err := s.repo.Template().UpdateStatus(ctx, id, models.TemplateActive, models.TemplateCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to complete exam template: %w", err)
	}
	if !changed {
		if template.Status == models.TemplateCompleted {
			return 0, nil
		}
		return 0, NewStateTransitionError("template", id, string(template.Status), string(models.TemplateCompleted))
	}

	closed := 0
	if s.sessions != nil {
		closed, err = s.sessions.ForceCloseForTemplate(ctx, id)
		if err != nil {
			return closed, fmt.Errorf("failed to close sessions for completed template: %w", err)
		}
	}

	s.publish(ctx, events.TopicExamCompleted, events.ExamLifecycleEvent{
		ExamTemplateID: id,
		Name:           template.Name,
		Status:         string(models.TemplateCompleted),
		SessionsClosed: closed,
	})

	s.logger.Info("Exam template completed", "template_id", id, "sessions_closed", closed)
	return closed, nil
}

func (s *examTemplateService) Cancel(ctx context.Context, id uint, userID string) error {
	template, err := s.repo.Template().GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get exam template: %w", err)
	}

	if err := s.requireAdmin(ctx, userID, id, "cancel"); err != nil {
		return err
	}

	// Cancellation is only legal before the exam goes live.
	changed, err := s.repo.Template().UpdateStatus(ctx, id, models.TemplateDraft, models.TemplateCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel exam template: %w", err)
	}
	if !changed {
		changed, err = s.repo.Template().UpdateStatus(ctx, id, models.TemplateScheduled, models.TemplateCancelled)
		if err != nil {
			return fmt.Errorf("failed to cancel exam template: %w", err)
		}
	}
	if !changed {
		return NewStateTransitionError("template", id, string(template.Status), string(models.TemplateCancelled))
	}

	s.publish(ctx, events.TopicExamCancelled, events.ExamLifecycleEvent{
		ExamTemplateID: id,
		Name:           template.Name,
		Status:         string(models.TemplateCancelled),
	})

	s.logger.Info("Exam template cancelled", "template_id", id, "user_id", userID)
	return nil
}

// ===== ENROLLMENT =====

func (s *examTemplateService) Enroll(ctx context.Context, templateID uint, req *EnrollStudentsRequest, enrolledBy string) error {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return errs
	}

	template, err := s.repo.Template().GetByID(ctx, templateID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTemplateNotFound
		}
		return fmt.Errorf("failed to get exam template: %w", err)
	}
	if template.Status.IsTerminal() {
		return NewBusinessRuleError("enrollment", "cannot enroll students into a finished exam",
			map[string]interface{}{"status": template.Status})
	}

	enrollments := make([]*models.ExamEnrollment, 0, len(req.StudentIDs))
	for _, studentID := range req.StudentIDs {
		enrolled, err := s.repo.Enrollment().IsEnrolled(ctx, templateID, studentID)
		if err != nil {
			return fmt.Errorf("failed to check enrollment: %w", err)
		}
		if enrolled {
			continue
		}
		enrollments = append(enrollments, &models.ExamEnrollment{
			ExamTemplateID: templateID,
			StudentID:      studentID,
			EnrolledBy:     enrolledBy,
		})
	}

	if err := s.repo.Enrollment().Add(ctx, enrollments); err != nil {
		return fmt.Errorf("failed to enroll students: %w", err)
	}

	s.logger.Info("Students enrolled", "template_id", templateID, "count", len(enrollments))
	return nil
}

func (s *examTemplateService) Unenroll(ctx context.Context, templateID uint, studentID string) error {
	err := s.repo.Enrollment().Remove(ctx, templateID, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrNotEnrolled
		}
		return fmt.Errorf("failed to unenroll student: %w", err)
	}
	return nil
}

func (s *examTemplateService) ListEnrollments(ctx context.Context, templateID uint) ([]*models.ExamEnrollment, error) {
	enrollments, err := s.repo.Enrollment().ListByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// ===== POOL =====

func (s *examTemplateService) CheckPoolCapacity(ctx context.Context, id uint) (*PoolCapacity, error) {
	template, err := s.repo.Template().GetByIDWithDetails(ctx, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}

	available, err := s.pool.CountAvailable(ctx, &template.ContentSelection)
	if err != nil {
		return nil, fmt.Errorf("failed to check question pool: %w", err)
	}
	breakdown, err := s.pool.DifficultyBreakdown(ctx, &template.ContentSelection)
	if err != nil {
		return nil, fmt.Errorf("failed to compute difficulty breakdown: %w", err)
	}

	return &PoolCapacity{
		Available:  available,
		Required:   template.QuestionCount,
		Sufficient: available >= int64(template.QuestionCount),
		Breakdown:  breakdown,
	}, nil
}

// ===== DAEMON ENTRY POINTS =====

func (s *examTemplateService) ActivateDueTemplates(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.Template().GetDueForActivation(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query templates due for activation: %w", err)
	}

	activated := 0
	for _, template := range due {
		if err := s.Activate(ctx, template.ID); err != nil {
			s.logger.Error("Failed to activate due template", "template_id", template.ID, "error", err)
			continue
		}
		activated++
	}
	return activated, nil
}

func (s *examTemplateService) CompleteDueTemplates(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.Template().GetDueForCompletion(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query templates due for completion: %w", err)
	}

	completed := 0
	for _, template := range due {
		if _, err := s.Complete(ctx, template.ID); err != nil {
			s.logger.Error("Failed to complete due template", "template_id", template.ID, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}
