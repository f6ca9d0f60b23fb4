package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/xuri/excelize/v2"
)

// monitorService computes the admin live view. Nothing here is persisted or
// cached: every read recomputes from the session rows, so the numbers are
// always current.
type monitorService struct {
	repo   repositories.Repository
	clock  clock.Clock
	logger *slog.Logger
}

func NewMonitorService(repo repositories.Repository, clk clock.Clock, logger *slog.Logger) *monitorService {
	return &monitorService{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

func (s *monitorService) GetLiveStats(ctx context.Context, templateID uint) (*repositories.LiveExamStats, error) {
	template, sessions, err := s.loadTemplateSessions(ctx, templateID)
	if err != nil {
		return nil, err
	}

	stats := &repositories.LiveExamStats{
		ExamTemplateID:  templateID,
		TotalSessions:   len(sessions),
		StatusBreakdown: make(map[models.SessionStatus]int),
		ComputedAt:      s.clock.Now(),
	}

	var progressSum float64
	var progressCount int
	var scoreSum float64
	var scoreCount int

	for _, session := range sessions {
		stats.StatusBreakdown[session.Status]++

		if session.Status != models.SessionCancelled && template.QuestionCount > 0 {
			progressSum += float64(session.QuestionsAnswered) / float64(template.QuestionCount)
			progressCount++
		}
		if session.Status == models.SessionCompleted {
			scoreSum += session.Score
			scoreCount++
		}
	}

	if progressCount > 0 {
		stats.AverageProgress = progressSum / float64(progressCount)
	}
	if scoreCount > 0 {
		stats.AverageScore = scoreSum / float64(scoreCount)
	}

	return stats, nil
}

func (s *monitorService) GetStudentProgress(ctx context.Context, templateID uint) (*StudentProgressList, error) {
	template, sessions, err := s.loadTemplateSessions(ctx, templateID)
	if err != nil {
		return nil, err
	}

	students := make([]*repositories.PerStudentProgress, 0, len(sessions))
	for _, session := range sessions {
		progress := 0.0
		if template.QuestionCount > 0 {
			progress = float64(session.QuestionsAnswered) / float64(template.QuestionCount)
		}
		students = append(students, &repositories.PerStudentProgress{
			StudentID:         session.StudentID,
			SessionID:         session.ID,
			Status:            session.Status,
			QuestionsAnswered: session.QuestionsAnswered,
			CorrectCount:      session.CorrectCount,
			Progress:          progress,
			Score:             session.Score,
			StartedAt:         session.StartedAt,
			Deadline:          session.Deadline,
		})
	}

	return &StudentProgressList{
		ExamTemplateID: templateID,
		Students:       students,
		ComputedAt:     s.clock.Now(),
	}, nil
}

// ExportProgressReport renders the current per-student progress as an xlsx
// workbook. Returns the file bytes and a suggested filename.
func (s *monitorService) ExportProgressReport(ctx context.Context, templateID uint) ([]byte, string, error) {
	template, err := s.repo.Template().GetByID(ctx, templateID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", ErrTemplateNotFound
		}
		return nil, "", fmt.Errorf("failed to get exam template: %w", err)
	}

	progress, err := s.GetStudentProgress(ctx, templateID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Progress"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Student ID", "Session ID", "Status", "Answered", "Correct", "Progress", "Score", "Started At", "Deadline"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, student := range progress.Students {
		values := []interface{}{
			student.StudentID,
			student.SessionID,
			string(student.Status),
			student.QuestionsAnswered,
			student.CorrectCount,
			fmt.Sprintf("%.1f%%", student.Progress*100),
			fmt.Sprintf("%.1f%%", student.Score*100),
			formatTime(student.StartedAt),
			formatTime(student.Deadline),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to render progress report: %w", err)
	}

	filename := fmt.Sprintf("exam_%d_progress_%s.xlsx", templateID, s.clock.Now().Format("20060102_150405"))
	s.logger.Info("Progress report exported",
		"template_id", templateID, "students", len(progress.Students), "name", template.Name)
	return buf.Bytes(), filename, nil
}

func (s *monitorService) loadTemplateSessions(ctx context.Context, templateID uint) (*models.ExamTemplate, []*models.AttemptSession, error) {
	template, err := s.repo.Template().GetByID(ctx, templateID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrTemplateNotFound
		}
		return nil, nil, fmt.Errorf("failed to get exam template: %w", err)
	}

	sessions, _, err := s.repo.Session().GetByTemplate(ctx, templateID, repositories.SessionFilters{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return template, sessions, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
