package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/cache"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"gorm.io/gorm"
)

type examTemplatePostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewExamTemplatePostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.ExamTemplateRepository {
	return &examTemplatePostgreSQL{db: db, cacheManager: cacheManager}
}

func (r *examTemplatePostgreSQL) Create(ctx context.Context, template *models.ExamTemplate) error {
	if err := r.db.WithContext(ctx).Create(template).Error; err != nil {
		return fmt.Errorf("failed to create exam template: %w", err)
	}
	return nil
}

func (r *examTemplatePostgreSQL) GetByID(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	template := &models.ExamTemplate{}

	cacheKey := fmt.Sprintf("id:%d", id)
	err := r.cacheManager.Template.CacheOrExecute(ctx, cacheKey, template, cache.TemplateCacheConfig.TTL, func() (interface{}, error) {
		var fresh models.ExamTemplate
		if err := r.db.WithContext(ctx).First(&fresh, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, repositories.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get exam template: %w", err)
		}
		return &fresh, nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}

	return template, nil
}

func (r *examTemplatePostgreSQL) GetByIDWithDetails(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	var template models.ExamTemplate
	err := r.db.WithContext(ctx).
		Preload("ContentSelection").
		Preload("Settings").
		First(&template, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exam template with details: %w", err)
	}
	return &template, nil
}

func (r *examTemplatePostgreSQL) Update(ctx context.Context, template *models.ExamTemplate) error {
	if err := r.db.WithContext(ctx).Save(template).Error; err != nil {
		return fmt.Errorf("failed to update exam template: %w", err)
	}
	return r.invalidate(ctx, template.ID)
}

func (r *examTemplatePostgreSQL) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.ExamTemplate{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete exam template: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return r.invalidate(ctx, id)
}

func (r *examTemplatePostgreSQL) List(ctx context.Context, filters repositories.TemplateFilters) ([]*models.ExamTemplate, int64, error) {
	var templates []*models.ExamTemplate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ExamTemplate{})
	query = r.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count exam templates: %w", err)
	}

	query = r.applySorting(query, filters)
	query = r.applyPagination(query, filters)

	if err := query.Find(&templates).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list exam templates: %w", err)
	}

	return templates, total, nil
}

// UpdateStatus is a compare-and-swap on the status column. RowsAffected == 0
// means the template was no longer in the expected state.
func (r *examTemplatePostgreSQL) UpdateStatus(ctx context.Context, id uint, expected, next models.TemplateStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ExamTemplate{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update exam template status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	return true, r.invalidate(ctx, id)
}

func (r *examTemplatePostgreSQL) GetDueForActivation(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error) {
	var templates []*models.ExamTemplate
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_start <= ?", models.TemplateScheduled, now).
		Order("scheduled_start ASC").
		Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get templates due for activation: %w", err)
	}
	return templates, nil
}

func (r *examTemplatePostgreSQL) GetDueForCompletion(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error) {
	var templates []*models.ExamTemplate
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_end <= ?", models.TemplateActive, now).
		Order("scheduled_end ASC").
		Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get templates due for completion: %w", err)
	}
	return templates, nil
}

func (r *examTemplatePostgreSQL) invalidate(ctx context.Context, id uint) error {
	if r.cacheManager == nil {
		return nil
	}
	return r.cacheManager.InvalidateTemplate(ctx, id)
}

func (r *examTemplatePostgreSQL) applyFilters(query *gorm.DB, filters repositories.TemplateFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("scheduled_start >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("scheduled_start <= ?", *filters.DateTo)
	}
	return query
}

func (r *examTemplatePostgreSQL) applySorting(query *gorm.DB, filters repositories.TemplateFilters) *gorm.DB {
	sortBy := "created_at"
	switch filters.SortBy {
	case "name", "scheduled_start", "created_at":
		sortBy = filters.SortBy
	}

	sortOrder := "DESC"
	if filters.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	return query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))
}

func (r *examTemplatePostgreSQL) applyPagination(query *gorm.DB, filters repositories.TemplateFilters) *gorm.DB {
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	return query
}

// ===== ENROLLMENTS =====

type enrollmentPostgreSQL struct {
	db *gorm.DB
}

func NewEnrollmentPostgreSQL(db *gorm.DB) repositories.EnrollmentRepository {
	return &enrollmentPostgreSQL{db: db}
}

func (r *enrollmentPostgreSQL) Add(ctx context.Context, enrollments []*models.ExamEnrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(enrollments).Error; err != nil {
		return fmt.Errorf("failed to add enrollments: %w", err)
	}
	return nil
}

func (r *enrollmentPostgreSQL) Remove(ctx context.Context, templateID uint, studentID string) error {
	result := r.db.WithContext(ctx).
		Where("exam_template_id = ? AND student_id = ?", templateID, studentID).
		Delete(&models.ExamEnrollment{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove enrollment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *enrollmentPostgreSQL) IsEnrolled(ctx context.Context, templateID uint, studentID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExamEnrollment{}).
		Where("exam_template_id = ? AND student_id = ?", templateID, studentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return count > 0, nil
}

func (r *enrollmentPostgreSQL) ListByTemplate(ctx context.Context, templateID uint) ([]*models.ExamEnrollment, error) {
	var enrollments []*models.ExamEnrollment
	err := r.db.WithContext(ctx).
		Where("exam_template_id = ?", templateID).
		Order("created_at ASC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

func (r *enrollmentPostgreSQL) CountByTemplate(ctx context.Context, templateID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExamEnrollment{}).
		Where("exam_template_id = ?", templateID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return count, nil
}
