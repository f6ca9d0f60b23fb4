package validator

import (
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/models"
)

var validationNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newValidator() *BusinessValidator {
	return New(clock.NewManual(validationNow))
}

func validCreate() *TemplateCreateRequest {
	return &TemplateCreateRequest{
		Name:            "Unit Test Exam",
		ScheduledStart:  validationNow.Add(24 * time.Hour),
		ScheduledEnd:    validationNow.Add(26 * time.Hour),
		DurationMinutes: 60,
		QuestionCount:   20,
		ContentSelection: ContentSelectionRequest{
			Mode:      models.SelectionFullSubject,
			SubjectID: 1,
		},
	}
}

func hasRule(errs ValidationErrors, rule string) bool {
	for _, e := range errs {
		if e.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidateTemplateCreate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*TemplateCreateRequest)
		wantRule string // empty means the request must pass
	}{
		{
			name:   "valid request",
			mutate: func(req *TemplateCreateRequest) {},
		},
		{
			name: "end before start",
			mutate: func(req *TemplateCreateRequest) {
				req.ScheduledEnd = req.ScheduledStart.Add(-time.Hour)
			},
			wantRule: "schedule_window",
		},
		{
			name: "duration exceeds window",
			mutate: func(req *TemplateCreateRequest) {
				req.DurationMinutes = 180 // window is 2h
			},
			wantRule: "schedule_window",
		},
		{
			name: "start in the past",
			mutate: func(req *TemplateCreateRequest) {
				req.ScheduledStart = validationNow.Add(-time.Hour)
			},
			wantRule: "future_date",
		},
		{
			name: "duration out of range",
			mutate: func(req *TemplateCreateRequest) {
				req.DurationMinutes = 481
				req.ScheduledEnd = req.ScheduledStart.Add(20 * time.Hour)
			},
			wantRule: "exam_duration",
		},
		{
			name: "question count out of range",
			mutate: func(req *TemplateCreateRequest) {
				req.QuestionCount = 201
			},
			wantRule: "question_count",
		},
		{
			name: "blank name",
			mutate: func(req *TemplateCreateRequest) {
				req.Name = "   "
			},
			wantRule: "exam_name",
		},
		{
			name: "specific chapters without chapter list",
			mutate: func(req *TemplateCreateRequest) {
				req.ContentSelection.Mode = models.SelectionSpecificChapters
			},
			wantRule: "selection_mode",
		},
		{
			name: "full subject with chapter list",
			mutate: func(req *TemplateCreateRequest) {
				req.ContentSelection.ChapterIDs = []uint{1, 2}
			},
			wantRule: "selection_mode",
		},
		{
			name: "unknown selection mode",
			mutate: func(req *TemplateCreateRequest) {
				req.ContentSelection.Mode = "random_pick"
			},
			wantRule: "selection_mode",
		},
		{
			name: "invalid difficulty level",
			mutate: func(req *TemplateCreateRequest) {
				req.ContentSelection.DifficultyLevels = []string{"impossible"}
			},
			wantRule: "difficulty_level",
		},
	}

	bv := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreate()
			tt.mutate(req)

			errs := bv.ValidateTemplateCreate(req)
			if tt.wantRule == "" {
				if len(errs) != 0 {
					t.Errorf("ValidateTemplateCreate() = %v, want no errors", errs)
				}
				return
			}
			if !hasRule(errs, tt.wantRule) {
				t.Errorf("ValidateTemplateCreate() = %v, want rule %q", errs, tt.wantRule)
			}
		})
	}
}

func TestValidateTemplateCreate_UsesInjectedClock(t *testing.T) {
	clk := clock.NewManual(validationNow)
	bv := New(clk)

	req := validCreate() // starts 24h after validationNow
	if errs := bv.ValidateTemplateCreate(req); len(errs) != 0 {
		t.Fatalf("ValidateTemplateCreate() = %v, want no errors", errs)
	}

	// Once the clock passes the start, the same request is in the past.
	clk.Advance(25 * time.Hour)
	if errs := bv.ValidateTemplateCreate(req); !hasRule(errs, "future_date") {
		t.Errorf("ValidateTemplateCreate() after advance = %v, want future_date error", errs)
	}
}

func TestValidateTemplateCreate_SpecificChaptersValid(t *testing.T) {
	bv := newValidator()
	req := validCreate()
	req.ContentSelection.Mode = models.SelectionSpecificChapters
	req.ContentSelection.ChapterIDs = []uint{3, 4, 5}

	if errs := bv.ValidateTemplateCreate(req); len(errs) != 0 {
		t.Errorf("ValidateTemplateCreate() = %v, want no errors", errs)
	}
}

func TestValidateTemplateUpdate(t *testing.T) {
	existing := &models.ExamTemplate{
		ScheduledStart: validationNow.Add(24 * time.Hour),
		ScheduledEnd:   validationNow.Add(26 * time.Hour),
	}

	bv := newValidator()

	// Moving only the end before the stored start must fail.
	badEnd := existing.ScheduledStart.Add(-time.Hour)
	errs := bv.ValidateTemplateUpdate(&TemplateUpdateRequest{ScheduledEnd: &badEnd}, existing)
	if !hasRule(errs, "schedule_window") {
		t.Errorf("ValidateTemplateUpdate() = %v, want schedule_window error", errs)
	}

	// Moving both consistently passes.
	newStart := validationNow.Add(48 * time.Hour)
	newEnd := newStart.Add(2 * time.Hour)
	errs = bv.ValidateTemplateUpdate(&TemplateUpdateRequest{
		ScheduledStart: &newStart,
		ScheduledEnd:   &newEnd,
	}, existing)
	if len(errs) != 0 {
		t.Errorf("ValidateTemplateUpdate() = %v, want no errors", errs)
	}
}

func TestValidate_SubmitAnswerRequest(t *testing.T) {
	bv := newValidator()

	if errs := bv.Validate(&SubmitAnswerRequest{QuestionID: 1, SelectedAnswer: "a"}); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}

	errs := bv.Validate(&SubmitAnswerRequest{SelectedAnswer: "a"})
	if len(errs) == 0 {
		t.Error("Validate() without question id passed, want required error")
	}
}
