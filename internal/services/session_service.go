package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/oracle"
	"github.com/SAP-F-2025/exam-engine/internal/questionpool"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
	"gorm.io/datatypes"
)

type sessionService struct {
	repo      repositories.Repository
	oracle    oracle.Client
	pool      questionpool.Resolver
	publisher events.EventPublisher
	clock     clock.Clock
	logger    *slog.Logger
	validator *validator.BusinessValidator

	// Serializes mutations per session (and per student+template for start)
	// within this process; the CAS status updates guard across processes.
	locks *keyedLocks
}

func NewSessionService(
	repo repositories.Repository,
	oracleClient oracle.Client,
	pool questionpool.Resolver,
	publisher events.EventPublisher,
	clk clock.Clock,
	logger *slog.Logger,
	v *validator.BusinessValidator,
) *sessionService {
	return &sessionService{
		repo:      repo,
		oracle:    oracleClient,
		pool:      pool,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		validator: v,
		locks:     newKeyedLocks(),
	}
}

// ===== START / READ =====

// Start creates the student's timed attempt, or returns the existing live
// one. The deadline is fixed here and never moves afterwards.
func (s *sessionService) Start(ctx context.Context, templateID uint, studentID string) (*SessionResponse, error) {
	unlock := s.locks.lock(fmt.Sprintf("start:%s:%d", studentID, templateID))
	defer unlock()

	template, err := s.repo.Template().GetByIDWithDetails(ctx, templateID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}
	if template.Status != models.TemplateActive {
		return nil, ErrExamNotActive
	}

	enrolled, err := s.repo.Enrollment().IsEnrolled(ctx, templateID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	// Idempotency: a live session is resumed, never duplicated.
	existing, err := s.repo.Session().GetLiveSession(ctx, studentID, templateID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check for live session: %w", err)
	}
	if existing != nil {
		if existing.Expired(s.clock.Now()) {
			if _, err := s.expireSession(ctx, existing, template); err != nil {
				return nil, err
			}
			return nil, ErrSessionExpired
		}
		s.logger.Info("Resuming live session",
			"session_id", existing.ID, "student_id", studentID, "template_id", templateID)
		return s.toSessionResponse(existing), nil
	}

	now := s.clock.Now()
	deadline := now.Add(time.Duration(template.DurationMinutes) * time.Minute)

	oracleResp, err := s.oracle.OpenSession(ctx, oracle.OpenSessionRequest{
		StudentID:     studentID,
		SubjectID:     template.ContentSelection.SubjectID,
		QuestionCount: template.QuestionCount,
		Adaptive:      template.ContentSelection.AdaptiveEnabled,
		Selection:     &template.ContentSelection,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrUnreachable) {
			return nil, ErrOracleUnavailable
		}
		return nil, fmt.Errorf("failed to open oracle session: %w", err)
	}

	// The attempt starts Registered; the first question fetch moves it to
	// InProgress. The deadline clock runs from here either way.
	session := &models.AttemptSession{
		ExamTemplateID:      templateID,
		StudentID:           studentID,
		Status:              models.SessionRegistered,
		StartedAt:           &now,
		Deadline:            &deadline,
		OracleSessionHandle: oracleResp.Handle,
		MasteryState:        datatypes.JSON(oracleResp.MasteryState),
	}
	if err := s.repo.Session().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create attempt session: %w", err)
	}

	s.logger.Info("Attempt session started",
		"session_id", session.ID,
		"student_id", studentID,
		"template_id", templateID,
		"deadline", deadline)

	return s.toSessionResponse(session), nil
}

func (s *sessionService) GetByID(ctx context.Context, sessionID uint, userID string) (*SessionResponse, error) {
	session, err := s.repo.Session().GetByID(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get attempt session: %w", err)
	}

	if err := s.checkOwnership(ctx, session, userID, "read"); err != nil {
		return nil, err
	}

	return s.toSessionResponse(session), nil
}

// ===== PAUSE / RESUME =====

func (s *sessionService) Pause(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error) {
	return s.transition(ctx, sessionID, studentID, "pause",
		models.SessionInProgress, models.SessionPaused)
}

func (s *sessionService) Resume(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error) {
	return s.transition(ctx, sessionID, studentID, "resume",
		models.SessionPaused, models.SessionInProgress)
}

// transition moves a session between its two live states. The deadline keeps
// running while paused.
func (s *sessionService) transition(ctx context.Context, sessionID uint, studentID, action string, from, to models.SessionStatus) (*SessionResponse, error) {
	unlock := s.locks.lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.loadOwnedSession(ctx, sessionID, studentID, action)
	if err != nil {
		return nil, err
	}

	if session.Expired(s.clock.Now()) {
		if _, err := s.expireSessionByID(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	if session.Status != from {
		return nil, NewStateTransitionError("session", sessionID, string(session.Status), string(to))
	}

	session.Status = to
	if err := s.repo.Session().Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update attempt session: %w", err)
	}

	s.logger.Info("Session state changed",
		"session_id", sessionID, "from", from, "to", to)
	return s.toSessionResponse(session), nil
}

// ===== QUESTION DELIVERY =====

func (s *sessionService) NextQuestion(ctx context.Context, sessionID uint, studentID string) (*QuestionDelivery, error) {
	unlock := s.locks.lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.loadOwnedSession(ctx, sessionID, studentID, "next_question")
	if err != nil {
		return nil, err
	}

	if session.Expired(s.clock.Now()) {
		if _, err := s.expireSessionByID(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	if session.Status != models.SessionInProgress && session.Status != models.SessionRegistered {
		return nil, ErrSessionNotActive
	}

	template, err := s.repo.Template().GetByIDWithDetails(ctx, session.ExamTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}

	// Exhausting the question budget completes the attempt right here; the
	// student never has to submit explicitly.
	if session.QuestionsAnswered >= template.QuestionCount {
		if err := s.finalizeSession(ctx, session, template, models.FinalizeExhausted); err != nil {
			return nil, err
		}
		return &QuestionDelivery{SessionID: sessionID, Done: true}, nil
	}

	// An unanswered question stays current until it is answered; asking again
	// re-delivers it instead of advancing the walk.
	if session.CurrentQuestionID != nil {
		question, err := s.pool.GetQuestion(ctx, *session.CurrentQuestionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload current question: %w", err)
		}
		return &QuestionDelivery{
			SessionID: sessionID,
			Position:  session.CurrentQuestionIndex,
			Question: &oracle.DeliveredQuestion{
				QuestionID: question.ID,
				Type:       question.Type,
				Text:       question.Text,
				Content:    json.RawMessage(question.Content),
				Difficulty: question.Difficulty,
			},
		}, nil
	}

	deliveredIDs, err := s.deliveredQuestionIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	question, done, err := s.oracle.NextQuestion(ctx, oracle.NextQuestionRequest{
		Handle:       session.OracleSessionHandle,
		Position:     session.QuestionsAnswered + 1,
		Selection:    &template.ContentSelection,
		DeliveredIDs: deliveredIDs,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrUnreachable) {
			return nil, ErrOracleUnavailable
		}
		return nil, fmt.Errorf("failed to get next question: %w", err)
	}
	if done {
		// The oracle ended the adaptive walk early; that completes the
		// attempt the same way an exhausted budget does.
		if err := s.finalizeSession(ctx, session, template, models.FinalizeExhausted); err != nil {
			return nil, err
		}
		return &QuestionDelivery{SessionID: sessionID, Done: true}, nil
	}

	session.Status = models.SessionInProgress
	session.CurrentQuestionID = &question.QuestionID
	session.CurrentQuestionIndex = session.QuestionsAnswered + 1
	if err := s.repo.Session().Update(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to record current question: %w", err)
	}

	return &QuestionDelivery{
		SessionID: sessionID,
		Position:  session.CurrentQuestionIndex,
		Question:  question,
	}, nil
}

// ===== ANSWER SUBMISSION =====

func (s *sessionService) SubmitAnswer(ctx context.Context, sessionID uint, studentID string, req *SubmitAnswerRequest) (*AnswerFeedback, error) {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	unlock := s.locks.lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.loadOwnedSession(ctx, sessionID, studentID, "submit_answer")
	if err != nil {
		return nil, err
	}

	if session.Expired(s.clock.Now()) {
		if _, err := s.expireSessionByID(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}
	if session.Status != models.SessionInProgress {
		return nil, ErrSessionNotActive
	}

	// Only the currently issued question is answerable.
	if session.CurrentQuestionID == nil || *session.CurrentQuestionID != req.QuestionID {
		return nil, ErrStaleQuestion
	}

	selected, err := json.Marshal(req.SelectedAnswer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selected answer: %w", err)
	}

	feedback, err := s.oracle.SubmitAnswer(ctx, oracle.SubmitAnswerRequest{
		Handle:           session.OracleSessionHandle,
		QuestionID:       req.QuestionID,
		Selected:         selected,
		TimeSpentSeconds: req.TimeSpentSeconds,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrUnreachable) {
			return nil, ErrOracleUnavailable
		}
		return nil, fmt.Errorf("failed to grade answer: %w", err)
	}

	question, err := s.pool.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		answer := &models.SessionAnswer{
			SessionID:                sessionID,
			QuestionID:               req.QuestionID,
			Position:                 session.CurrentQuestionIndex,
			SelectedAnswer:           datatypes.JSON(selected),
			IsCorrect:                feedback.IsCorrect,
			TimeSpentSeconds:         req.TimeSpentSeconds,
			DifficultyAtPresentation: question.Difficulty,
		}
		if err := txRepo.Answer().Create(ctx, answer); err != nil {
			return err
		}

		session.QuestionsAnswered++
		if feedback.IsCorrect {
			session.CorrectCount++
		}
		session.CurrentQuestionID = nil
		if len(feedback.UpdatedMasteryState) > 0 {
			session.MasteryState = datatypes.JSON(feedback.UpdatedMasteryState)
		}
		return txRepo.Session().Update(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record answer: %w", err)
	}

	s.logger.Info("Answer recorded",
		"session_id", sessionID,
		"question_id", req.QuestionID,
		"correct", feedback.IsCorrect,
		"answered", session.QuestionsAnswered)

	return &AnswerFeedback{
		QuestionID:        req.QuestionID,
		IsCorrect:         feedback.IsCorrect,
		CorrectAnswer:     feedback.CorrectAnswer,
		Explanation:       feedback.Explanation,
		QuestionsAnswered: session.QuestionsAnswered,
		CorrectCount:      session.CorrectCount,
	}, nil
}
