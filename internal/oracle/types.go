package oracle

import (
	"context"
	"encoding/json"

	"github.com/SAP-F-2025/exam-engine/internal/models"
)

// OpenSessionRequest registers an attempt with the knowledge oracle so it can
// drive adaptive question selection.
type OpenSessionRequest struct {
	StudentID     string                   `json:"student_id"`
	SubjectID     uint                     `json:"subject_id"`
	ChapterIDs    []uint                   `json:"chapter_ids,omitempty"`
	QuestionCount int                      `json:"question_count"`
	Adaptive      bool                     `json:"adaptive"`
	Selection     *models.ContentSelection `json:"-"`
}

type OpenSessionResponse struct {
	Handle       string          `json:"handle"`
	MasteryState json.RawMessage `json:"mastery_state,omitempty"`
}

// NextQuestionRequest carries both the oracle handle and enough local context
// for the pool fallback to select a question when the oracle is down.
type NextQuestionRequest struct {
	Handle       string                   `json:"handle"`
	Position     int                      `json:"position"` // 1-based index of the question being requested
	Selection    *models.ContentSelection `json:"-"`
	DeliveredIDs []uint                   `json:"-"`
}

// DeliveredQuestion is the student-facing question payload. It never carries
// the answer key.
type DeliveredQuestion struct {
	QuestionID uint                   `json:"question_id"`
	Type       models.QuestionType    `json:"type"`
	Text       string                 `json:"text"`
	Content    json.RawMessage        `json:"content,omitempty"`
	Difficulty models.DifficultyLevel `json:"difficulty"`
}

// SubmitAnswerRequest grades one answer. TimeSpentSeconds feeds the oracle's
// response-time signal.
type SubmitAnswerRequest struct {
	Handle           string          `json:"handle"`
	QuestionID       uint            `json:"question_id"`
	Selected         json.RawMessage `json:"selected"`
	TimeSpentSeconds int             `json:"time_spent_seconds,omitempty"`
}

// Feedback is the grading result for one submitted answer.
type Feedback struct {
	IsCorrect           bool            `json:"is_correct"`
	CorrectAnswer       json.RawMessage `json:"correct_answer,omitempty"`
	Explanation         *string         `json:"explanation,omitempty"`
	UpdatedMasteryState json.RawMessage `json:"updated_mastery_state,omitempty"`
}

// Client is the knowledge oracle interface consumed by the session service.
// NextQuestion reports done=true when the oracle decides the adaptive walk is
// finished before the configured question count is reached.
type Client interface {
	OpenSession(ctx context.Context, req OpenSessionRequest) (*OpenSessionResponse, error)
	NextQuestion(ctx context.Context, req NextQuestionRequest) (question *DeliveredQuestion, done bool, err error)
	SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*Feedback, error)
	CloseSession(ctx context.Context, handle string) error
}
