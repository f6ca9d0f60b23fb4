package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
	"github.com/SAP-F-2025/exam-engine/internal/oracle"
	"github.com/SAP-F-2025/exam-engine/internal/repositories"
)

// fakeRepo is an in-memory repositories.Repository for service tests.
type fakeRepo struct {
	mu sync.Mutex

	templates   map[uint]*models.ExamTemplate
	enrollments map[uint]map[string]*models.ExamEnrollment
	sessions    map[uint]*models.AttemptSession
	answers     map[uint][]*models.SessionAnswer
	users       map[string]*models.User

	nextTemplateID uint
	nextSessionID  uint
	nextAnswerID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		templates:   make(map[uint]*models.ExamTemplate),
		enrollments: make(map[uint]map[string]*models.ExamEnrollment),
		sessions:    make(map[uint]*models.AttemptSession),
		answers:     make(map[uint][]*models.SessionAnswer),
		users:       make(map[string]*models.User),
	}
}

func (r *fakeRepo) Template() repositories.ExamTemplateRepository  { return (*fakeTemplateRepo)(r) }
func (r *fakeRepo) Enrollment() repositories.EnrollmentRepository  { return (*fakeEnrollmentRepo)(r) }
func (r *fakeRepo) Session() repositories.AttemptSessionRepository { return (*fakeSessionRepo)(r) }
func (r *fakeRepo) Answer() repositories.SessionAnswerRepository   { return (*fakeAnswerRepo)(r) }
func (r *fakeRepo) User() repositories.UserRepository              { return (*fakeUserRepo)(r) }

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// ---- seeding helpers ----

func (r *fakeRepo) addUser(id string, role models.UserRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &models.User{ID: id, Role: role, Active: true}
}

func (r *fakeRepo) addTemplate(t *models.ExamTemplate) *models.ExamTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == 0 {
		r.nextTemplateID++
		t.ID = r.nextTemplateID
	} else if t.ID > r.nextTemplateID {
		r.nextTemplateID = t.ID
	}
	r.templates[t.ID] = t
	return t
}

func (r *fakeRepo) enroll(templateID uint, studentIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enrollments[templateID] == nil {
		r.enrollments[templateID] = make(map[string]*models.ExamEnrollment)
	}
	for _, id := range studentIDs {
		r.enrollments[templateID][id] = &models.ExamEnrollment{ExamTemplateID: templateID, StudentID: id}
	}
}

// ---- template repo ----

type fakeTemplateRepo fakeRepo

func (r *fakeTemplateRepo) Create(ctx context.Context, template *models.ExamTemplate) error {
	(*fakeRepo)(r).addTemplate(template)
	return nil
}

func (r *fakeTemplateRepo) GetByID(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return t, nil
}

func (r *fakeTemplateRepo) GetByIDWithDetails(ctx context.Context, id uint) (*models.ExamTemplate, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeTemplateRepo) Update(ctx context.Context, template *models.ExamTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[template.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.templates[template.ID] = template
	return nil
}

func (r *fakeTemplateRepo) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *fakeTemplateRepo) List(ctx context.Context, filters repositories.TemplateFilters) ([]*models.ExamTemplate, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamTemplate
	for _, t := range r.templates {
		if filters.Status != nil && t.Status != *filters.Status {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (r *fakeTemplateRepo) UpdateStatus(ctx context.Context, id uint, expected, next models.TemplateStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.Status != expected {
		return false, nil
	}
	t.Status = next
	return true, nil
}

func (r *fakeTemplateRepo) GetDueForActivation(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamTemplate
	for _, t := range r.templates {
		if t.Status == models.TemplateScheduled && !t.ScheduledStart.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTemplateRepo) GetDueForCompletion(ctx context.Context, now time.Time) ([]*models.ExamTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamTemplate
	for _, t := range r.templates {
		if t.Status == models.TemplateActive && !t.ScheduledEnd.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---- enrollment repo ----

type fakeEnrollmentRepo fakeRepo

func (r *fakeEnrollmentRepo) Add(ctx context.Context, enrollments []*models.ExamEnrollment) error {
	for _, e := range enrollments {
		(*fakeRepo)(r).enroll(e.ExamTemplateID, e.StudentID)
	}
	return nil
}

func (r *fakeEnrollmentRepo) Remove(ctx context.Context, templateID uint, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byStudent := r.enrollments[templateID]
	if byStudent == nil || byStudent[studentID] == nil {
		return repositories.ErrNotFound
	}
	delete(byStudent, studentID)
	return nil
}

func (r *fakeEnrollmentRepo) IsEnrolled(ctx context.Context, templateID uint, studentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byStudent := r.enrollments[templateID]
	return byStudent != nil && byStudent[studentID] != nil, nil
}

func (r *fakeEnrollmentRepo) ListByTemplate(ctx context.Context, templateID uint) ([]*models.ExamEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamEnrollment
	for _, e := range r.enrollments[templateID] {
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) CountByTemplate(ctx context.Context, templateID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.enrollments[templateID])), nil
}

// ---- session repo ----

type fakeSessionRepo fakeRepo

func (r *fakeSessionRepo) Create(ctx context.Context, session *models.AttemptSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSessionID++
	session.ID = r.nextSessionID
	r.sessions[session.ID] = session
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id uint) (*models.AttemptSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) GetByIDWithAnswers(ctx context.Context, id uint) (*models.AttemptSession, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeSessionRepo) Update(ctx context.Context, session *models.AttemptSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return repositories.ErrNotFound
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *fakeSessionRepo) List(ctx context.Context, filters repositories.SessionFilters) ([]*models.AttemptSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AttemptSession
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (r *fakeSessionRepo) GetLiveSession(ctx context.Context, studentID string, templateID uint) (*models.AttemptSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.StudentID == studentID && s.ExamTemplateID == templateID && !s.Status.IsTerminal() {
			return s, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeSessionRepo) GetByTemplate(ctx context.Context, templateID uint, filters repositories.SessionFilters) ([]*models.AttemptSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AttemptSession
	for _, s := range r.sessions {
		if s.ExamTemplateID == templateID {
			out = append(out, s)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeSessionRepo) GetNonTerminalByTemplate(ctx context.Context, templateID uint) ([]*models.AttemptSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AttemptSession
	for _, s := range r.sessions {
		if s.ExamTemplateID == templateID && !s.Status.IsTerminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) GetExpired(ctx context.Context, now time.Time) ([]*models.AttemptSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AttemptSession
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() && s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ---- answer repo ----

type fakeAnswerRepo fakeRepo

func (r *fakeAnswerRepo) Create(ctx context.Context, answer *models.SessionAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAnswerID++
	answer.ID = r.nextAnswerID
	r.answers[answer.SessionID] = append(r.answers[answer.SessionID], answer)
	return nil
}

func (r *fakeAnswerRepo) GetBySession(ctx context.Context, sessionID uint) ([]*models.SessionAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answers[sessionID], nil
}

func (r *fakeAnswerRepo) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.answers[sessionID])), nil
}

// ---- user repo ----

type fakeUserRepo fakeRepo

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) ListActiveStudentIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, u := range r.users {
		if u.Role == models.RoleStudent && u.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

// ---- fake question pool ----

type fakePool struct {
	mu        sync.Mutex
	questions []*models.Question
}

func newFakePool(count int) *fakePool {
	p := &fakePool{}
	for i := 1; i <= count; i++ {
		p.questions = append(p.questions, &models.Question{
			ID:         uint(i),
			Type:       models.MultipleChoice,
			Text:       fmt.Sprintf("question %d", i),
			SubjectID:  1,
			Difficulty: models.DifficultyMedium,
			Answer:     []byte(`"a"`),
		})
	}
	return p
}

func (p *fakePool) CountAvailable(ctx context.Context, sel *models.ContentSelection) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.questions)), nil
}

func (p *fakePool) DifficultyBreakdown(ctx context.Context, sel *models.ContentSelection) (map[models.DifficultyLevel]int64, error) {
	count, _ := p.CountAvailable(ctx, sel)
	return map[models.DifficultyLevel]int64{models.DifficultyMedium: count}, nil
}

func (p *fakePool) Sample(ctx context.Context, sel *models.ContentSelection, excludeIDs []uint, n int) ([]*models.Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	excluded := make(map[uint]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*models.Question
	for _, q := range p.questions {
		if excluded[q.ID] {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (p *fakePool) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range p.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// ---- fake oracle ----

// fakeOracle walks the pool in order and grades answers against a fixed key.
type fakeOracle struct {
	mu            sync.Mutex
	nextID        uint
	correctKey    string
	closed        []string
	opened        int
	lastTimeSpent int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{correctKey: "a"}
}

func (o *fakeOracle) OpenSession(ctx context.Context, req oracle.OpenSessionRequest) (*oracle.OpenSessionResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	return &oracle.OpenSessionResponse{Handle: fmt.Sprintf("handle-%d", o.opened)}, nil
}

func (o *fakeOracle) NextQuestion(ctx context.Context, req oracle.NextQuestionRequest) (*oracle.DeliveredQuestion, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	return &oracle.DeliveredQuestion{
		QuestionID: o.nextID,
		Type:       models.MultipleChoice,
		Text:       fmt.Sprintf("question %d", o.nextID),
		Difficulty: models.DifficultyMedium,
	}, false, nil
}

func (o *fakeOracle) SubmitAnswer(ctx context.Context, req oracle.SubmitAnswerRequest) (*oracle.Feedback, error) {
	o.mu.Lock()
	o.lastTimeSpent = req.TimeSpentSeconds
	o.mu.Unlock()

	var selected string
	_ = json.Unmarshal(req.Selected, &selected)
	return &oracle.Feedback{IsCorrect: selected == o.correctKey}, nil
}

func (o *fakeOracle) CloseSession(ctx context.Context, handle string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, handle)
	return nil
}
