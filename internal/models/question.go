package models

import (
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
)

type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

// Question is one item of the question pool. The engine never authors
// questions; it only filters and samples them for delivery and uses the
// stored answer key when the knowledge oracle is unreachable.
type Question struct {
	ID   uint         `json:"id" gorm:"primaryKey"`
	Type QuestionType `json:"type" gorm:"not null;index"`
	Text string       `json:"text" gorm:"type:text;not null"`

	// Content and answer key stored as JSONB for flexibility
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`
	Answer  datatypes.JSON `json:"-" gorm:"type:jsonb"`

	// Categorization used by content selection
	SubjectID  uint            `json:"subject_id" gorm:"not null;index"`
	ChapterID  uint            `json:"chapter_id" gorm:"not null;index"`
	Difficulty DifficultyLevel `json:"difficulty" gorm:"default:medium;index"`

	Explanation *string   `json:"explanation,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}
