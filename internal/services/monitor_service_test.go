package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/models"
)

func seedMonitorData(repo *fakeRepo) *models.ExamTemplate {
	template := repo.addTemplate(&models.ExamTemplate{
		Name:            "Monitored Exam",
		Status:          models.TemplateActive,
		ScheduledStart:  testStart.Add(-time.Hour),
		ScheduledEnd:    testStart.Add(3 * time.Hour),
		DurationMinutes: 30,
		QuestionCount:   10,
		CreatedBy:       "admin-1",
	})

	started := testStart.Add(-10 * time.Minute)
	deadline := started.Add(30 * time.Minute)
	sessions := []*models.AttemptSession{
		{ExamTemplateID: template.ID, StudentID: "student-1", Status: models.SessionInProgress,
			StartedAt: &started, Deadline: &deadline, QuestionsAnswered: 5, CorrectCount: 3},
		{ExamTemplateID: template.ID, StudentID: "student-2", Status: models.SessionCompleted,
			StartedAt: &started, Deadline: &deadline, QuestionsAnswered: 10, CorrectCount: 8, Score: 0.8},
		{ExamTemplateID: template.ID, StudentID: "student-3", Status: models.SessionCompleted,
			StartedAt: &started, Deadline: &deadline, QuestionsAnswered: 10, CorrectCount: 4, Score: 0.4},
		{ExamTemplateID: template.ID, StudentID: "student-4", Status: models.SessionCancelled},
	}
	for _, session := range sessions {
		_ = (*fakeSessionRepo)(repo).Create(context.Background(), session)
	}
	return template
}

func TestMonitorService_GetLiveStats(t *testing.T) {
	repo := newFakeRepo()
	clk := clock.NewManual(testStart)
	service := NewMonitorService(repo, clk, testLogger())
	template := seedMonitorData(repo)

	stats, err := service.GetLiveStats(context.Background(), template.ID)
	if err != nil {
		t.Fatalf("GetLiveStats() error = %v", err)
	}

	if stats.TotalSessions != 4 {
		t.Errorf("totalSessions = %d, want 4", stats.TotalSessions)
	}
	if got := stats.StatusBreakdown[models.SessionCompleted]; got != 2 {
		t.Errorf("completed breakdown = %d, want 2", got)
	}
	if got := stats.StatusBreakdown[models.SessionInProgress]; got != 1 {
		t.Errorf("in_progress breakdown = %d, want 1", got)
	}

	// Progress averages over non-cancelled sessions: (0.5 + 1.0 + 1.0) / 3.
	wantProgress := (0.5 + 1.0 + 1.0) / 3
	if diff := stats.AverageProgress - wantProgress; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("averageProgress = %v, want %v", stats.AverageProgress, wantProgress)
	}

	// Score averages over completed sessions only: (0.8 + 0.4) / 2.
	if diff := stats.AverageScore - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("averageScore = %v, want 0.6", stats.AverageScore)
	}

	if !stats.ComputedAt.Equal(testStart) {
		t.Errorf("computedAt = %v, want clock time %v", stats.ComputedAt, testStart)
	}
}

func TestMonitorService_StatsRecomputedOnRead(t *testing.T) {
	repo := newFakeRepo()
	clk := clock.NewManual(testStart)
	service := NewMonitorService(repo, clk, testLogger())
	template := seedMonitorData(repo)

	before, err := service.GetLiveStats(context.Background(), template.ID)
	if err != nil {
		t.Fatalf("GetLiveStats() error = %v", err)
	}

	// Mutate a session and read again; the numbers must move.
	for _, session := range repo.sessions {
		if session.Status == models.SessionInProgress {
			session.QuestionsAnswered = 10
		}
	}
	clk.Advance(time.Minute)

	after, err := service.GetLiveStats(context.Background(), template.ID)
	if err != nil {
		t.Fatalf("second GetLiveStats() error = %v", err)
	}

	if after.AverageProgress <= before.AverageProgress {
		t.Errorf("averageProgress not recomputed: before %v, after %v",
			before.AverageProgress, after.AverageProgress)
	}
	if !after.ComputedAt.After(before.ComputedAt) {
		t.Errorf("computedAt not advanced: before %v, after %v", before.ComputedAt, after.ComputedAt)
	}
}

func TestMonitorService_GetStudentProgress(t *testing.T) {
	repo := newFakeRepo()
	service := NewMonitorService(repo, clock.NewManual(testStart), testLogger())
	template := seedMonitorData(repo)

	progress, err := service.GetStudentProgress(context.Background(), template.ID)
	if err != nil {
		t.Fatalf("GetStudentProgress() error = %v", err)
	}
	if len(progress.Students) != 4 {
		t.Fatalf("students = %d, want 4", len(progress.Students))
	}

	for _, student := range progress.Students {
		if student.StudentID == "student-1" {
			if student.Progress != 0.5 {
				t.Errorf("student-1 progress = %v, want 0.5", student.Progress)
			}
			if student.CorrectCount != 3 {
				t.Errorf("student-1 correct = %d, want 3", student.CorrectCount)
			}
		}
	}
}

func TestMonitorService_TemplateNotFound(t *testing.T) {
	repo := newFakeRepo()
	service := NewMonitorService(repo, clock.NewManual(testStart), testLogger())

	if _, err := service.GetLiveStats(context.Background(), 42); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetLiveStats() error = %v, want %v", err, ErrTemplateNotFound)
	}
	if _, _, err := service.ExportProgressReport(context.Background(), 42); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("ExportProgressReport() error = %v, want %v", err, ErrTemplateNotFound)
	}
}

func TestMonitorService_ExportProgressReport(t *testing.T) {
	repo := newFakeRepo()
	service := NewMonitorService(repo, clock.NewManual(testStart), testLogger())
	template := seedMonitorData(repo)

	data, filename, err := service.ExportProgressReport(context.Background(), template.ID)
	if err != nil {
		t.Fatalf("ExportProgressReport() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("ExportProgressReport() returned empty file")
	}

	// xlsx files are zip archives.
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("ExportProgressReport() output is not a zip archive")
	}

	want := "exam_1_progress_20250310_090000.xlsx"
	if filename != want {
		t.Errorf("ExportProgressReport() filename = %q, want %q", filename, want)
	}
}
