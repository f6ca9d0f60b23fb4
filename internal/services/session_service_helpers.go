package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
)

// ===== FINALIZATION =====

// Finalize closes a session and computes its score. Calling it on an already
// terminal session returns the stored result unchanged.
func (s *sessionService) Finalize(ctx context.Context, sessionID uint, studentID string, reason models.FinalizeReason) (*SessionResponse, error) {
	unlock := s.locks.lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.loadOwnedSession(ctx, sessionID, studentID, "finalize")
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return s.toSessionResponse(session), nil
	}

	// A manual submit after the deadline still lands in Timeout.
	if reason == models.FinalizeManual && session.Expired(s.clock.Now()) {
		reason = models.FinalizeTimeout
	}

	template, err := s.repo.Template().GetByIDWithDetails(ctx, session.ExamTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}

	if err := s.finalizeSession(ctx, session, template, reason); err != nil {
		return nil, err
	}
	return s.toSessionResponse(session), nil
}

func (s *sessionService) Abandon(ctx context.Context, sessionID uint, studentID string) (*SessionResponse, error) {
	return s.Finalize(ctx, sessionID, studentID, models.FinalizeAbandoned)
}

// ForceCloseForTemplate closes every live session of a template. Used by the
// template completion cascade.
func (s *sessionService) ForceCloseForTemplate(ctx context.Context, templateID uint) (int, error) {
	sessions, err := s.repo.Session().GetNonTerminalByTemplate(ctx, templateID)
	if err != nil {
		return 0, fmt.Errorf("failed to list live sessions: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	template, err := s.repo.Template().GetByIDWithDetails(ctx, templateID)
	if err != nil {
		return 0, fmt.Errorf("failed to get exam template: %w", err)
	}

	closed := 0
	for _, session := range sessions {
		if err := s.finalizeWithLock(ctx, session.ID, template, models.FinalizeForced); err != nil {
			s.logger.Error("Failed to force-close session",
				"session_id", session.ID, "template_id", templateID, "error", err)
			continue
		}
		closed++
	}

	s.logger.Info("Force-closed sessions for template", "template_id", templateID, "closed", closed)
	return closed, nil
}

// SweepExpired moves every session past its deadline to Timeout.
func (s *sessionService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.Session().GetExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired sessions: %w", err)
	}

	swept := 0
	for _, session := range expired {
		template, err := s.repo.Template().GetByIDWithDetails(ctx, session.ExamTemplateID)
		if err != nil {
			s.logger.Error("Failed to load template for expired session",
				"session_id", session.ID, "error", err)
			continue
		}
		if err := s.finalizeWithLock(ctx, session.ID, template, models.FinalizeTimeout); err != nil {
			s.logger.Error("Failed to time out session", "session_id", session.ID, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("Swept expired sessions", "count", swept)
	}
	return swept, nil
}

// finalizeWithLock re-reads the session under its lock so concurrent
// finalizers stay idempotent.
func (s *sessionService) finalizeWithLock(ctx context.Context, sessionID uint, template *models.ExamTemplate, reason models.FinalizeReason) error {
	unlock := s.locks.lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.repo.Session().GetByID(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.Status.IsTerminal() {
		return nil
	}
	return s.finalizeSession(ctx, session, template, reason)
}

// finalizeSession performs the actual close. Caller holds the session lock
// and has verified the session is not terminal.
func (s *sessionService) finalizeSession(ctx context.Context, session *models.AttemptSession, template *models.ExamTemplate, reason models.FinalizeReason) error {
	now := s.clock.Now()

	score := 0.0
	if session.QuestionsAnswered > 0 {
		score = float64(session.CorrectCount) / float64(session.QuestionsAnswered)
	}

	var status models.SessionStatus
	switch reason {
	case models.FinalizeTimeout:
		status = models.SessionTimeout
		if !template.Settings.AutoSubmitOnExpiry {
			// Partial answers are discarded from the score when auto-submit
			// is disabled.
			score = 0
		}
	case models.FinalizeAbandoned:
		status = models.SessionAbandoned
	default:
		status = models.SessionCompleted
	}

	endReason := string(reason)
	session.Status = status
	session.Score = score
	session.SubmittedAt = &now
	session.EndReason = &endReason
	session.ForcedClosure = reason == models.FinalizeForced
	session.CurrentQuestionID = nil

	if err := s.repo.Session().Update(ctx, session); err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	if session.OracleSessionHandle != "" {
		if err := s.oracle.CloseSession(ctx, session.OracleSessionHandle); err != nil {
			s.logger.Warn("Failed to close oracle session",
				"session_id", session.ID, "handle", session.OracleSessionHandle, "error", err)
		}
	}

	topic := events.TopicSessionCompleted
	if status == models.SessionTimeout {
		topic = events.TopicSessionTimeout
	}
	s.publish(ctx, topic, events.SessionLifecycleEvent{
		SessionID:         session.ID,
		ExamTemplateID:    session.ExamTemplateID,
		StudentID:         session.StudentID,
		Status:            string(status),
		QuestionsAnswered: session.QuestionsAnswered,
		CorrectCount:      session.CorrectCount,
		Score:             session.Score,
		EndReason:         endReason,
	})

	s.logger.Info("Session finalized",
		"session_id", session.ID,
		"status", status,
		"score", session.Score,
		"answered", session.QuestionsAnswered,
		"reason", reason)
	return nil
}

// expireSession times out a session found past its deadline during a student
// operation. Caller holds the relevant lock.
func (s *sessionService) expireSession(ctx context.Context, session *models.AttemptSession, template *models.ExamTemplate) (*SessionResponse, error) {
	if session.Status.IsTerminal() {
		return s.toSessionResponse(session), nil
	}
	if err := s.finalizeSession(ctx, session, template, models.FinalizeTimeout); err != nil {
		return nil, err
	}
	return s.toSessionResponse(session), nil
}

func (s *sessionService) expireSessionByID(ctx context.Context, session *models.AttemptSession) (*SessionResponse, error) {
	template, err := s.repo.Template().GetByIDWithDetails(ctx, session.ExamTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam template: %w", err)
	}
	return s.expireSession(ctx, session, template)
}

// ===== SHARED HELPERS =====

func (s *sessionService) loadOwnedSession(ctx context.Context, sessionID uint, userID, action string) (*models.AttemptSession, error) {
	session, err := s.repo.Session().GetByID(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get attempt session: %w", err)
	}
	if err := s.checkOwnership(ctx, session, userID, action); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionService) checkOwnership(ctx context.Context, session *models.AttemptSession, userID, action string) error {
	if session.StudentID == userID {
		return nil
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err == nil && user.Role == models.RoleAdmin {
		return nil
	}
	return NewPermissionError(userID, session.ID, "session", action, "not owned by student")
}

func (s *sessionService) deliveredQuestionIDs(ctx context.Context, sessionID uint) ([]uint, error) {
	answers, err := s.repo.Answer().GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session answers: %w", err)
	}
	ids := make([]uint, 0, len(answers))
	for _, answer := range answers {
		ids = append(ids, answer.QuestionID)
	}
	return ids, nil
}

func (s *sessionService) toSessionResponse(session *models.AttemptSession) *SessionResponse {
	var remaining int64
	if session.Deadline != nil && !session.Status.IsTerminal() {
		if d := session.Deadline.Sub(s.clock.Now()); d > 0 {
			remaining = int64(d.Seconds())
		}
	}

	return &SessionResponse{
		AttemptSession:       session,
		TimeRemainingSeconds: remaining,
		CanSubmit:            session.Status == models.SessionInProgress,
		CanResume:            session.Status == models.SessionPaused,
	}
}

func (s *sessionService) publish(ctx context.Context, topic string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, events.NewEvent(topic, payload)); err != nil {
		s.logger.Error("Failed to publish event", "topic", topic, "error", err)
	}
}

func sessionKey(sessionID uint) string {
	return fmt.Sprintf("session:%d", sessionID)
}

// keyedLocks hands out one mutex per key.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
