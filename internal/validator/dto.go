package validator

import (
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
)

// ContentSelectionRequest describes which questions an exam draws from.
type ContentSelectionRequest struct {
	Mode             models.SelectionMode `json:"mode" validate:"required,selection_mode"`
	SubjectID        uint                 `json:"subject_id" validate:"required"`
	ChapterIDs       []uint               `json:"chapter_ids" validate:"omitempty,max=50,dive,required"`
	DifficultyLevels []string             `json:"difficulty_levels" validate:"omitempty,max=3,dive,difficulty_level"`
	AdaptiveEnabled  *bool                `json:"adaptive_enabled"`
}

// ExamSettingsRequest carries the optional behavior flags.
type ExamSettingsRequest struct {
	RandomizeQuestions *bool `json:"randomize_questions"`
	AllowNavigation    *bool `json:"allow_navigation"`
	AllowReview        *bool `json:"allow_review"`
	AutoSubmitOnExpiry *bool `json:"auto_submit_on_expiry"`
	DetailedAnalytics  *bool `json:"detailed_analytics"`
}

// TemplateCreateRequest is the payload for creating an exam template.
type TemplateCreateRequest struct {
	Name                string                  `json:"name" validate:"required,exam_name"`
	Description         *string                 `json:"description" validate:"omitempty,max=1000"`
	ScheduledStart      time.Time               `json:"scheduled_start" validate:"required,future_date"`
	ScheduledEnd        time.Time               `json:"scheduled_end" validate:"required"`
	DurationMinutes     int                     `json:"duration_minutes" validate:"required,exam_duration"`
	QuestionCount       int                     `json:"question_count" validate:"required,question_count"`
	AutoAssignAllActive bool                    `json:"auto_assign_all_active"`
	ContentSelection    ContentSelectionRequest `json:"content_selection" validate:"required"`
	Settings            *ExamSettingsRequest    `json:"settings"`
	StudentIDs          []string                `json:"student_ids" validate:"omitempty,max=1000,dive,required"`
}

// TemplateUpdateRequest updates a Draft template. All fields optional.
type TemplateUpdateRequest struct {
	Name            *string              `json:"name" validate:"omitempty,exam_name"`
	Description     *string              `json:"description" validate:"omitempty,max=1000"`
	ScheduledStart  *time.Time           `json:"scheduled_start" validate:"omitempty,future_date"`
	ScheduledEnd    *time.Time           `json:"scheduled_end"`
	DurationMinutes *int                 `json:"duration_minutes" validate:"omitempty,exam_duration"`
	QuestionCount   *int                 `json:"question_count" validate:"omitempty,question_count"`
	Settings        *ExamSettingsRequest `json:"settings"`
}

// EnrollRequest adds students to a template.
type EnrollRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,max=1000,dive,required"`
}

// SubmitAnswerRequest is one answer submission inside a running session.
type SubmitAnswerRequest struct {
	QuestionID       uint        `json:"question_id" validate:"required"`
	SelectedAnswer   interface{} `json:"selected_answer" validate:"required"`
	TimeSpentSeconds int         `json:"time_spent_seconds" validate:"omitempty,min=0,max=86400"`
}
