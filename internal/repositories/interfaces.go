package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// IsNotFoundError reports whether err indicates a missing record, from either
// this package or gorm directly.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// ===== SHARED FILTER STRUCTS =====

type TemplateFilters struct {
	Status    *models.TemplateStatus `json:"status"`
	CreatedBy *string                `json:"created_by"`
	DateFrom  *time.Time             `json:"date_from"`
	DateTo    *time.Time             `json:"date_to"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	SortBy    string                 `json:"sort_by"`    // "created_at", "name", "scheduled_start"
	SortOrder string                 `json:"sort_order"` // "asc", "desc"
}

type SessionFilters struct {
	Status    *models.SessionStatus `json:"status"`
	StudentID *string               `json:"student_id"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// ===== REPOSITORY INTERFACES =====

type ExamTemplateRepository interface {
	Create(ctx context.Context, template *models.ExamTemplate) error
	GetByID(ctx context.Context, id uint) (*models.ExamTemplate, error)
	GetByIDWithDetails(ctx context.Context, id uint) (*models.ExamTemplate, error)
	Update(ctx context.Context, template *models.ExamTemplate) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, filters TemplateFilters) ([]*models.ExamTemplate, int64, error)

	// UpdateStatus moves a template from expected to next and reports whether
	// the row actually changed; a false result means another writer got there
	// first (or the template was already past expected), which callers treat
	// as an idempotent no-op.
	UpdateStatus(ctx context.Context, id uint, expected, next models.TemplateStatus) (bool, error)

	// Daemon queries
	GetDueForActivation(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error)
	GetDueForCompletion(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error)
}

type EnrollmentRepository interface {
	Add(ctx context.Context, enrollments []*models.ExamEnrollment) error
	Remove(ctx context.Context, templateID uint, studentID string) error
	IsEnrolled(ctx context.Context, templateID uint, studentID string) (bool, error)
	ListByTemplate(ctx context.Context, templateID uint) ([]*models.ExamEnrollment, error)
	CountByTemplate(ctx context.Context, templateID uint) (int64, error)
}

type AttemptSessionRepository interface {
	Create(ctx context.Context, session *models.AttemptSession) error
	GetByID(ctx context.Context, id uint) (*models.AttemptSession, error)
	GetByIDWithAnswers(ctx context.Context, id uint) (*models.AttemptSession, error)
	Update(ctx context.Context, session *models.AttemptSession) error
	List(ctx context.Context, filters SessionFilters) ([]*models.AttemptSession, int64, error)

	// GetLiveSession returns the single non-terminal session for the pair,
	// or ErrNotFound.
	GetLiveSession(ctx context.Context, studentID string, templateID uint) (*models.AttemptSession, error)
	GetByTemplate(ctx context.Context, templateID uint, filters SessionFilters) ([]*models.AttemptSession, int64, error)
	GetNonTerminalByTemplate(ctx context.Context, templateID uint) ([]*models.AttemptSession, error)

	// GetExpired returns non-terminal sessions whose deadline is at or before
	// now; the daemon sweep consumes this.
	GetExpired(ctx context.Context, now time.Time) ([]*models.AttemptSession, error)
}

type SessionAnswerRepository interface {
	Create(ctx context.Context, answer *models.SessionAnswer) error
	GetBySession(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error)
	CountBySession(ctx context.Context, sessionID uint) (int64, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListActiveStudentIDs(ctx context.Context) ([]string, error)
}

// ===== SHARED STATISTICS STRUCTS =====

// LiveExamStats is the per-template aggregate the admin monitor reads. It is
// derived on every call from session records, never persisted.
type LiveExamStats struct {
	ExamTemplateID  uint                         `json:"exam_template_id"`
	TotalSessions   int                          `json:"total_sessions"`
	StatusBreakdown map[models.SessionStatus]int `json:"status_breakdown"`
	AverageProgress float64                      `json:"average_progress"` // questionsAnswered / questionCount, over non-cancelled sessions
	AverageScore    float64                      `json:"average_score"`    // over Completed sessions only
	ComputedAt      time.Time                    `json:"computed_at"`
}

type PerStudentProgress struct {
	StudentID         string               `json:"student_id"`
	SessionID         uint                 `json:"session_id"`
	Status            models.SessionStatus `json:"status"`
	QuestionsAnswered int                  `json:"questions_answered"`
	CorrectCount      int                  `json:"correct_count"`
	Progress          float64              `json:"progress"`
	Score             float64              `json:"score"`
	StartedAt         *time.Time           `json:"started_at"`
	Deadline          *time.Time           `json:"deadline"`
}
