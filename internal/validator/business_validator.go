package validator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single failed rule on a request field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// BusinessValidator handles request validation and the cross-field business
// rules that struct tags cannot express. Time-sensitive rules read the given
// clock, the same source the rest of the engine uses.
type BusinessValidator struct {
	validate *validator.Validate
	clock    clock.Clock
}

// New creates a validator with the engine's custom rules registered. A nil
// clock falls back to the wall clock.
func New(clk clock.Clock) *BusinessValidator {
	if clk == nil {
		clk = clock.System()
	}
	bv := &BusinessValidator{validate: validator.New(), clock: clk}
	bv.registerBusinessRules()
	return bv
}

// Validate validates any struct against its tags.
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	var errors ValidationErrors

	err := bv.validate.Struct(s)
	if err != nil {
		for _, fieldErr := range err.(validator.ValidationErrors) {
			errors = append(errors, ValidationError{
				Field:   fieldErr.Field(),
				Message: bv.getErrorMessage(fieldErr),
				Value:   fieldErr.Value(),
				Rule:    fieldErr.Tag(),
			})
		}
	}

	return errors
}

// ValidateTemplateCreate validates template creation.
func (bv *BusinessValidator) ValidateTemplateCreate(req *TemplateCreateRequest) ValidationErrors {
	errors := bv.Validate(req)

	if !req.ScheduledEnd.After(req.ScheduledStart) {
		errors = append(errors, ValidationError{
			Field:   "scheduled_end",
			Message: "scheduled end must be after scheduled start",
			Value:   req.ScheduledEnd,
			Rule:    "schedule_window",
		})
	}

	// The per-student budget has to fit inside the exam window.
	window := req.ScheduledEnd.Sub(req.ScheduledStart)
	if window > 0 && time.Duration(req.DurationMinutes)*time.Minute > window {
		errors = append(errors, ValidationError{
			Field:   "duration_minutes",
			Message: "session duration exceeds the scheduled window",
			Value:   req.DurationMinutes,
			Rule:    "schedule_window",
		})
	}

	errors = append(errors, bv.validateSelection(&req.ContentSelection)...)

	return errors
}

// ValidateTemplateUpdate validates a partial update against the stored row.
func (bv *BusinessValidator) ValidateTemplateUpdate(req *TemplateUpdateRequest, existing *models.ExamTemplate) ValidationErrors {
	errors := bv.Validate(req)

	start := existing.ScheduledStart
	if req.ScheduledStart != nil {
		start = *req.ScheduledStart
	}
	end := existing.ScheduledEnd
	if req.ScheduledEnd != nil {
		end = *req.ScheduledEnd
	}
	if !end.After(start) {
		errors = append(errors, ValidationError{
			Field:   "scheduled_end",
			Message: "scheduled end must be after scheduled start",
			Value:   end,
			Rule:    "schedule_window",
		})
	}

	return errors
}

func (bv *BusinessValidator) validateSelection(sel *ContentSelectionRequest) ValidationErrors {
	var errors ValidationErrors

	if sel.Mode == models.SelectionSpecificChapters && len(sel.ChapterIDs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "chapter_ids",
			Message: "chapter list is required in specific_chapters mode",
			Rule:    "selection_mode",
		})
	}
	if sel.Mode == models.SelectionFullSubject && len(sel.ChapterIDs) > 0 {
		errors = append(errors, ValidationError{
			Field:   "chapter_ids",
			Message: "chapter list must be empty in full_subject mode",
			Value:   sel.ChapterIDs,
			Rule:    "selection_mode",
		})
	}

	return errors
}

func (bv *BusinessValidator) registerBusinessRules() {
	// Session duration (1-480 minutes)
	bv.validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Int()
		return duration >= 1 && duration <= 480
	})

	// Question count (1-200)
	bv.validate.RegisterValidation("question_count", func(fl validator.FieldLevel) bool {
		count := fl.Field().Int()
		return count >= 1 && count <= 200
	})

	// Name (1-200 characters after trimming)
	bv.validate.RegisterValidation("exam_name", func(fl validator.FieldLevel) bool {
		name := strings.TrimSpace(fl.Field().String())
		return len(name) >= 1 && len(name) <= 200
	})

	// Scheduled start must be in the future
	bv.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true
		}

		var value time.Time
		if field.Kind() == reflect.Ptr {
			value = field.Elem().Interface().(time.Time)
		} else {
			value = field.Interface().(time.Time)
		}

		return value.After(bv.clock.Now())
	})

	bv.validate.RegisterValidation("selection_mode", func(fl validator.FieldLevel) bool {
		mode := models.SelectionMode(fl.Field().String())
		return mode == models.SelectionFullSubject || mode == models.SelectionSpecificChapters
	})

	bv.validate.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		level := models.DifficultyLevel(fl.Field().String())
		switch level {
		case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
			return true
		}
		return false
	})
}

func (bv *BusinessValidator) getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "exam_duration":
		return "must be between 1 and 480 minutes"
	case "question_count":
		return "must be between 1 and 200"
	case "exam_name":
		return "must be between 1 and 200 characters"
	case "future_date":
		return "must be in the future"
	case "selection_mode":
		return "must be full_subject or specific_chapters"
	case "difficulty_level":
		return "must be easy, medium or hard"
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	default:
		return fmt.Sprintf("failed %s validation", err.Tag())
	}
}
