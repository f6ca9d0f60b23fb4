package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/oracle"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateExamTemplateRequest = validator.TemplateCreateRequest
type UpdateExamTemplateRequest = validator.TemplateUpdateRequest
type EnrollStudentsRequest = validator.EnrollRequest
type SubmitAnswerRequest = validator.SubmitAnswerRequest

type TemplateResponse struct {
	*models.ExamTemplate
	EnrolledCount int64 `json:"enrolled_count"`
	CanEdit       bool  `json:"can_edit"`
	CanCancel     bool  `json:"can_cancel"`
}

type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int64               `json:"total"`
	Page      int                 `json:"page"`
	Size      int                 `json:"size"`
}

type SessionResponse struct {
	*models.AttemptSession
	TimeRemainingSeconds int64 `json:"time_remaining_seconds"`
	CanSubmit            bool  `json:"can_submit"`
	CanResume            bool  `json:"can_resume"`
}

// QuestionDelivery wraps the next question for a session. Done means the
// session has no further questions and should be finalized.
type QuestionDelivery struct {
	SessionID uint                      `json:"session_id"`
	Position  int                       `json:"position"`
	Question  *oracle.DeliveredQuestion `json:"question,omitempty"`
	Done      bool                      `json:"done"`
}

type AnswerFeedback struct {
	QuestionID        uint            `json:"question_id"`
	IsCorrect         bool            `json:"is_correct"`
	CorrectAnswer     json.RawMessage `json:"correct_answer,omitempty"`
	Explanation       *string         `json:"explanation,omitempty"`
	QuestionsAnswered int             `json:"questions_answered"`
	CorrectCount      int             `json:"correct_count"`
}

type PoolCapacity struct {
	Available  int64                            `json:"available"`
	Required   int                              `json:"required"`
	Sufficient bool                             `json:"sufficient"`
	Breakdown  map[models.DifficultyLevel]int64 `json:"breakdown,omitempty"`
}

type StudentProgressList struct {
	ExamTemplateID uint                               `json:"exam_template_id"`
	Students       []*repositories.PerStudentProgress `json:"students"`
	ComputedAt     time.Time                          `json:"computed_at"`
}

// ===== SERVICE INTERFACES =====

// ExamTemplateService owns the template lifecycle:
// Draft -> Scheduled -> Active -> Completed, with Cancelled reachable from
// Draft and Scheduled only.
type ExamTemplateService interface {
	Create(ctx context.Context, req *CreateExamTemplateRequest, creatorID string) (*TemplateResponse, error)
	GetByID(ctx context.Context, id uint) (*TemplateResponse, error)
	List(ctx context.Context, filters repositories.TemplateFilters) (*TemplateListResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamTemplateRequest, userID string) (*TemplateResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// Lifecycle transitions
	Schedule(ctx context.Context, id uint, userID string) error
	Activate(ctx context.Context, id uint) error
	Complete(ctx context.Context, id uint) (closedSessions int, err error)
	Cancel(ctx context.Context, id uint, userID string) error

	// Enrollment
	Enroll(ctx context.Context, templateID uint, req *EnrollStudentsRequest, enrolledBy string) error
	Unenroll(ctx context.Context, templateID uint, studentID string) error
	ListEnrollments(ctx context.Context, templateID uint) ([]*models.ExamEnrollment, error)

	// Pool capacity check used at creation and exposed to admins.
	CheckPoolCapacity(ctx context.Context, id uint) (*PoolCapacity, error)

	// Daemon entry points
	ActivateDueTemplates(ctx context.Context, now time.Time) (int, error)
	CompleteDueTemplates(ctx context.Context, now time.Time) (int, error)
}

// SessionService owns individual timed attempts.
type SessionService interface {
	// Start is idempotent: a live session for the pair is returned as-is.
	Start(ctx context.Context, templateID uint, studentID string) (*SessionResponse, error)
	GetByID(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error)

	Pause(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error)
	Resume(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error)

	NextQuestion(ctx context.Context, sessionID uint, studentID string) (*QuestionDelivery, error)
	SubmitAnswer(ctx context.Context, sessionID uint, studentID string, req *SubmitAnswerRequest) (*AnswerFeedback, error)

	// Finalize is idempotent on already-terminal sessions.
	Finalize(ctx context.Context, sessionID uint, studentID string, reason models.FinalizeReason) (*SessionResponse, error)
	Abandon(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error)

	// ForceCloseForTemplate moves every non-terminal session of a template to
	// Completed with forced closure. Used by the template Complete cascade.
	ForceCloseForTemplate(ctx context.Context, templateID uint) (int, error)

	// SweepExpired moves every session past its deadline to Timeout.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// MonitorService serves the admin live view. All statistics are recomputed
// from session rows on every call.
type MonitorService interface {
	GetLiveStats(ctx context.Context, templateID uint) (*repositories.LiveExamStats, error)
	GetStudentProgress(ctx context.Context, templateID uint) (*StudentProgressList, error)

	// ExportProgressReport renders the per-student progress as an xlsx
	// workbook and returns its bytes.
	ExportProgressReport(ctx context.Context, templateID uint) ([]byte, string, error)
}

// ServiceManager wires and owns all service instances.
type ServiceManager interface {
	Template() ExamTemplateService
	Session() SessionService
	Monitor() MonitorService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
