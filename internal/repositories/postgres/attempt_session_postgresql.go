package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"gorm.io/gorm"
)

type attemptSessionPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptSessionPostgreSQL(db *gorm.DB) repositories.AttemptSessionRepository {
	return &attemptSessionPostgreSQL{db: db}
}

func (r *attemptSessionPostgreSQL) Create(ctx context.Context, session *models.AttemptSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create attempt session: %w", err)
	}
	return nil
}

func (r *attemptSessionPostgreSQL) GetByID(ctx context.Context, id uint) (*models.AttemptSession, error) {
	var session models.AttemptSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt session: %w", err)
	}
	return &session, nil
}

func (r *attemptSessionPostgreSQL) GetByIDWithAnswers(ctx context.Context, id uint) (*models.AttemptSession, error) {
	var session models.AttemptSession
	err := r.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("session_answers.position ASC")
		}).
		First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt session with answers: %w", err)
	}
	return &session, nil
}

func (r *attemptSessionPostgreSQL) Update(ctx context.Context, session *models.AttemptSession) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("failed to update attempt session: %w", err)
	}
	return nil
}

func (r *attemptSessionPostgreSQL) List(ctx context.Context, filters repositories.SessionFilters) ([]*models.AttemptSession, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AttemptSession{})
	query = r.applyFilters(query, filters)
	return r.finishListQuery(query, filters)
}

func (r *attemptSessionPostgreSQL) GetLiveSession(ctx context.Context, studentID string, templateID uint) (*models.AttemptSession, error) {
	var session models.AttemptSession
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND exam_template_id = ? AND status IN ?",
			studentID, templateID, models.NonTerminalStatuses).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get live session: %w", err)
	}
	return &session, nil
}

func (r *attemptSessionPostgreSQL) GetByTemplate(ctx context.Context, templateID uint, filters repositories.SessionFilters) ([]*models.AttemptSession, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.AttemptSession{}).
		Where("exam_template_id = ?", templateID)
	query = r.applyFilters(query, filters)
	return r.finishListQuery(query, filters)
}

func (r *attemptSessionPostgreSQL) GetNonTerminalByTemplate(ctx context.Context, templateID uint) ([]*models.AttemptSession, error) {
	var sessions []*models.AttemptSession
	err := r.db.WithContext(ctx).
		Where("exam_template_id = ? AND status IN ?", templateID, models.NonTerminalStatuses).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get non-terminal sessions: %w", err)
	}
	return sessions, nil
}

func (r *attemptSessionPostgreSQL) GetExpired(ctx context.Context, now time.Time) ([]*models.AttemptSession, error) {
	var sessions []*models.AttemptSession
	err := r.db.WithContext(ctx).
		Where("status IN ? AND deadline IS NOT NULL AND deadline <= ?", models.NonTerminalStatuses, now).
		Order("deadline ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}
	return sessions, nil
}

func (r *attemptSessionPostgreSQL) finishListQuery(query *gorm.DB, filters repositories.SessionFilters) ([]*models.AttemptSession, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempt sessions: %w", err)
	}

	sortBy := "created_at"
	switch filters.SortBy {
	case "started_at", "deadline", "score", "created_at":
		sortBy = filters.SortBy
	}
	sortOrder := "DESC"
	if filters.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var sessions []*models.AttemptSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list attempt sessions: %w", err)
	}
	return sessions, total, nil
}

func (r *attemptSessionPostgreSQL) applyFilters(query *gorm.DB, filters repositories.SessionFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ===== SESSION ANSWERS =====

type sessionAnswerPostgreSQL struct {
	db *gorm.DB
}

func NewSessionAnswerPostgreSQL(db *gorm.DB) repositories.SessionAnswerRepository {
	return &sessionAnswerPostgreSQL{db: db}
}

func (r *sessionAnswerPostgreSQL) Create(ctx context.Context, answer *models.SessionAnswer) error {
	if err := r.db.WithContext(ctx).Create(answer).Error; err != nil {
		return fmt.Errorf("failed to create session answer: %w", err)
	}
	return nil
}

func (r *sessionAnswerPostgreSQL) GetBySession(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error) {
	var answers []*models.SessionAnswer
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&answers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get session answers: %w", err)
	}
	return answers, nil
}

func (r *sessionAnswerPostgreSQL) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionAnswer{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count session answers: %w", err)
	}
	return count, nil
}

// ===== USERS =====

type userPostgreSQL struct {
	db *gorm.DB
}

func NewUserPostgreSQL(db *gorm.DB) repositories.UserRepository {
	return &userPostgreSQL{db: db}
}

func (r *userPostgreSQL) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *userPostgreSQL) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ? AND active = ?", models.RoleStudent, true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active students: %w", err)
	}
	return ids, nil
}
