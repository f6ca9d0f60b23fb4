package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TemplateStatus string

const (
	TemplateDraft     TemplateStatus = "Draft"
	TemplateScheduled TemplateStatus = "Scheduled"
	TemplateActive    TemplateStatus = "Active"
	TemplateCompleted TemplateStatus = "Completed"
	TemplateCancelled TemplateStatus = "Cancelled"
)

// IsTerminal reports whether no further lifecycle transitions are possible.
func (s TemplateStatus) IsTerminal() bool {
	return s == TemplateCompleted || s == TemplateCancelled
}

type SelectionMode string

const (
	SelectionFullSubject      SelectionMode = "full_subject"
	SelectionSpecificChapters SelectionMode = "specific_chapters"
)

// ExamTemplate is the reusable definition and schedule of an exam,
// independent of any individual student's attempt.
type ExamTemplate struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Name        string         `json:"name" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string        `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Status      TemplateStatus `json:"status" gorm:"default:Draft;index"`

	// Schedule window and per-student time budget. DurationMinutes bounds
	// each session individually; the window bounds when sessions may start.
	ScheduledStart  time.Time `json:"scheduled_start" gorm:"not null;index"`
	ScheduledEnd    time.Time `json:"scheduled_end" gorm:"not null;index"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	QuestionCount   int       `json:"question_count" gorm:"not null"`

	// Enrollment
	AutoAssignAllActive bool `json:"auto_assign_all_active" gorm:"not null;default:false"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	ContentSelection ContentSelection `json:"content_selection" gorm:"foreignKey:ExamTemplateID"`
	Settings         ExamSettings     `json:"settings" gorm:"foreignKey:ExamTemplateID"`
	Enrollments      []ExamEnrollment `json:"enrollments,omitempty" gorm:"foreignKey:ExamTemplateID"`
	Sessions         []AttemptSession `json:"sessions,omitempty" gorm:"foreignKey:ExamTemplateID"`
}

// ContentSelection is the filter determining which questions are eligible
// for an exam: subject scope, chapter subset, and difficulty filters.
type ContentSelection struct {
	ExamTemplateID uint      `json:"exam_template_id" gorm:"primaryKey;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null"`

	Mode             SelectionMode  `json:"mode" gorm:"not null;default:full_subject"`
	SubjectID        uint           `json:"subject_id" gorm:"not null;index"`
	ChapterIDs       datatypes.JSON `json:"chapter_ids" gorm:"type:jsonb"`       // []uint, empty in full_subject mode
	DifficultyLevels datatypes.JSON `json:"difficulty_levels" gorm:"type:jsonb"` // []string, empty means all
	AdaptiveEnabled  bool           `json:"adaptive_enabled" gorm:"not null;default:true"`
}

// ExamSettings holds the per-exam behavior flags consumed by the session
// manager and the oracle client. AutoSubmitOnExpiry is load-bearing: it
// controls whether a timed-out session is finalized with partial answers.
type ExamSettings struct {
	ExamTemplateID uint      `json:"exam_template_id" gorm:"primaryKey;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null"`

	RandomizeQuestions bool `json:"randomize_questions" gorm:"not null;default:false"`
	AllowNavigation    bool `json:"allow_navigation" gorm:"not null;default:false"`
	AllowReview        bool `json:"allow_review" gorm:"not null;default:false"`
	AutoSubmitOnExpiry bool `json:"auto_submit_on_expiry" gorm:"not null;default:true"`
	DetailedAnalytics  bool `json:"detailed_analytics" gorm:"not null;default:false"`
}

// ExamEnrollment is one explicitly enrolled student for a template.
type ExamEnrollment struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ExamTemplateID uint      `json:"exam_template_id" gorm:"not null;uniqueIndex:idx_template_student"`
	StudentID      string    `json:"student_id" gorm:"not null;size:255;uniqueIndex:idx_template_student"`
	EnrolledBy     string    `json:"enrolled_by" gorm:"size:255"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ExamTemplate) TableName() string {
	return "exam_templates"
}

func (ContentSelection) TableName() string {
	return "content_selections"
}

func (ExamSettings) TableName() string {
	return "exam_settings"
}

func (ExamEnrollment) TableName() string {
	return "exam_enrollments"
}
