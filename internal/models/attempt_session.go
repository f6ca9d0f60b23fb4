package models

import (
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionRegistered SessionStatus = "registered"
	SessionInProgress SessionStatus = "in_progress"
	SessionPaused     SessionStatus = "paused"
	SessionSubmitted  SessionStatus = "submitted"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
	SessionTimeout    SessionStatus = "timeout"
	SessionCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether the session can no longer be mutated.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionSubmitted, SessionCompleted, SessionAbandoned, SessionTimeout, SessionCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses are the states a live session can occupy. At most one
// session per (student, template) pair may be in any of these at a time.
var NonTerminalStatuses = []SessionStatus{SessionRegistered, SessionInProgress, SessionPaused}

type FinalizeReason string

const (
	FinalizeManual    FinalizeReason = "manual"
	FinalizeTimeout   FinalizeReason = "timeout"
	FinalizeForced    FinalizeReason = "forced"
	FinalizeAbandoned FinalizeReason = "abandoned"

	// FinalizeExhausted closes an attempt whose question budget ran out (or
	// whose adaptive walk the oracle ended early).
	FinalizeExhausted FinalizeReason = "exhausted"
)

// AttemptSession is one student's individual timed pass through an exam
// template. Deadline is set once at start and never extended; the scheduling
// daemon relies on the persisted deadline+status to resume sweeping after a
// restart.
type AttemptSession struct {
	ID             uint          `json:"id" gorm:"primaryKey"`
	ExamTemplateID uint          `json:"exam_template_id" gorm:"not null;index;index:idx_session_student_template"`
	StudentID      string        `json:"student_id" gorm:"not null;size:255;index:idx_session_student_template"`
	Status         SessionStatus `json:"status" gorm:"default:registered;index"`

	// Timing
	StartedAt   *time.Time `json:"started_at"`
	Deadline    *time.Time `json:"deadline" gorm:"index"`
	SubmittedAt *time.Time `json:"submitted_at"`

	// Progress
	QuestionsAnswered    int     `json:"questions_answered"`
	CorrectCount         int     `json:"correct_count"`
	CurrentQuestionIndex int     `json:"current_question_index"`
	Score                float64 `json:"score"`

	// CurrentQuestionID is the most recently issued, not yet answered
	// question; answer submissions for any other id are stale.
	CurrentQuestionID *uint `json:"current_question_id"`

	// Oracle correlation
	OracleSessionHandle string         `json:"oracle_session_handle" gorm:"size:64;index"`
	MasteryState        datatypes.JSON `json:"mastery_state" gorm:"type:jsonb"`

	// Closure
	ForcedClosure bool    `json:"forced_closure"`
	EndReason     *string `json:"end_reason" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Template ExamTemplate    `json:"template" gorm:"foreignKey:ExamTemplateID"`
	Answers  []SessionAnswer `json:"answers,omitempty" gorm:"foreignKey:SessionID"`
}

// Expired reports whether the session's deadline has passed at instant now.
func (s *AttemptSession) Expired(now time.Time) bool {
	return s.Deadline != nil && !now.Before(*s.Deadline)
}

// SessionAnswer is one entry of a session's ordered answer log.
type SessionAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	SessionID  uint `json:"session_id" gorm:"not null;index"`
	QuestionID uint `json:"question_id" gorm:"not null;index"`

	// Position is the 1-based index in the delivery order.
	Position int `json:"position" gorm:"not null"`

	SelectedAnswer datatypes.JSON `json:"selected_answer" gorm:"type:jsonb"`
	IsCorrect      bool           `json:"is_correct"`

	TimeSpentSeconds         int             `json:"time_spent_seconds"`
	DifficultyAtPresentation DifficultyLevel `json:"difficulty_at_presentation" gorm:"size:16"`

	CreatedAt time.Time `json:"created_at"`

	// Relations
	Session  AttemptSession `json:"-" gorm:"foreignKey:SessionID"`
	Question Question       `json:"-" gorm:"foreignKey:QuestionID"`
}

func (AttemptSession) TableName() string {
	return "attempt_sessions"
}

func (SessionAnswer) TableName() string {
	return "session_answers"
}
