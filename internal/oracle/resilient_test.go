package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/models"
)

type flakyClient struct {
	failures int // calls that fail with ErrUnreachable before succeeding
	calls    int

	permanentErr error
}

func (c *flakyClient) attempt() error {
	c.calls++
	if c.permanentErr != nil {
		return c.permanentErr
	}
	if c.calls <= c.failures {
		return fmt.Errorf("%w: connection refused", ErrUnreachable)
	}
	return nil
}

func (c *flakyClient) OpenSession(ctx context.Context, req OpenSessionRequest) (*OpenSessionResponse, error) {
	if err := c.attempt(); err != nil {
		return nil, err
	}
	return &OpenSessionResponse{Handle: "oracle-handle"}, nil
}

func (c *flakyClient) NextQuestion(ctx context.Context, req NextQuestionRequest) (*DeliveredQuestion, bool, error) {
	if err := c.attempt(); err != nil {
		return nil, false, err
	}
	return &DeliveredQuestion{QuestionID: 42, Type: models.MultipleChoice, Text: "from oracle"}, false, nil
}

func (c *flakyClient) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*Feedback, error) {
	if err := c.attempt(); err != nil {
		return nil, err
	}
	return &Feedback{IsCorrect: true}, nil
}

func (c *flakyClient) CloseSession(ctx context.Context, handle string) error {
	return c.attempt()
}

// stubPool satisfies questionpool.Resolver with a fixed question list.
type stubPool struct {
	questions []*models.Question
}

func (p *stubPool) CountAvailable(ctx context.Context, sel *models.ContentSelection) (int64, error) {
	return int64(len(p.questions)), nil
}

func (p *stubPool) DifficultyBreakdown(ctx context.Context, sel *models.ContentSelection) (map[models.DifficultyLevel]int64, error) {
	return nil, nil
}

func (p *stubPool) Sample(ctx context.Context, sel *models.ContentSelection, excludeIDs []uint, n int) ([]*models.Question, error) {
	excluded := make(map[uint]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*models.Question
	for _, q := range p.questions {
		if !excluded[q.ID] {
			out = append(out, q)
		}
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (p *stubPool) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	for _, q := range p.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, fmt.Errorf("question %d not found", id)
}

func newTestResilient(primary Client, pool *stubPool) *ResilientClient {
	c := NewResilientClient(primary, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryDelay = time.Millisecond
	return c
}

func testSelection() *models.ContentSelection {
	return &models.ContentSelection{Mode: models.SelectionFullSubject, SubjectID: 1}
}

func TestResilientClient_RetriesOnceThenSucceeds(t *testing.T) {
	primary := &flakyClient{failures: 1}
	client := newTestResilient(primary, &stubPool{})

	question, done, err := client.NextQuestion(context.Background(), NextQuestionRequest{Handle: "h"})
	if err != nil {
		t.Fatalf("NextQuestion() error = %v", err)
	}
	if done {
		t.Error("NextQuestion() done = true, want false")
	}
	if question.QuestionID != 42 {
		t.Errorf("NextQuestion() id = %d, want 42 (from oracle after retry)", question.QuestionID)
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2 (one retry)", primary.calls)
	}
}

func TestResilientClient_NoRetryOnPermanentError(t *testing.T) {
	primary := &flakyClient{permanentErr: errors.New("unknown handle")}
	client := newTestResilient(primary, &stubPool{})

	_, err := client.SubmitAnswer(context.Background(), SubmitAnswerRequest{Handle: "h", QuestionID: 1})
	if err == nil || errors.Is(err, ErrUnreachable) {
		t.Fatalf("SubmitAnswer() error = %v, want plain error passed through", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1 (no retry on non-transient error)", primary.calls)
	}
}

func TestResilientClient_OpenSessionFallsBackToLocal(t *testing.T) {
	primary := &flakyClient{failures: 10}
	client := newTestResilient(primary, &stubPool{})

	resp, err := client.OpenSession(context.Background(), OpenSessionRequest{StudentID: "student-1"})
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if !strings.HasPrefix(resp.Handle, localHandlePrefix) {
		t.Errorf("OpenSession() handle = %q, want %q prefix", resp.Handle, localHandlePrefix)
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2 before falling back", primary.calls)
	}
}

func TestResilientClient_LocalHandleSkipsOracle(t *testing.T) {
	primary := &flakyClient{}
	pool := &stubPool{questions: []*models.Question{
		{ID: 7, Type: models.MultipleChoice, Text: "from pool", Answer: []byte(`"b"`)},
	}}
	client := newTestResilient(primary, pool)

	question, done, err := client.NextQuestion(context.Background(), NextQuestionRequest{
		Handle:    localHandlePrefix + "abc",
		Selection: testSelection(),
	})
	if err != nil {
		t.Fatalf("NextQuestion() error = %v", err)
	}
	if done || question.QuestionID != 7 {
		t.Errorf("NextQuestion() = %v done=%v, want pool question 7", question, done)
	}
	if primary.calls != 0 {
		t.Errorf("primary calls = %d, want 0 for local handle", primary.calls)
	}

	if err := client.CloseSession(context.Background(), localHandlePrefix+"abc"); err != nil {
		t.Errorf("CloseSession() local handle error = %v", err)
	}
	if primary.calls != 0 {
		t.Errorf("primary calls = %d after close, want 0", primary.calls)
	}
}

func TestResilientClient_PoolFallback(t *testing.T) {
	primary := &flakyClient{failures: 10}
	pool := &stubPool{questions: []*models.Question{
		{ID: 1, Type: models.MultipleChoice, Text: "q1", Answer: []byte(`"a"`)},
		{ID: 2, Type: models.MultipleChoice, Text: "q2", Answer: []byte(`"b"`)},
	}}
	client := newTestResilient(primary, pool)

	// Delivered questions are excluded from the sample.
	question, done, err := client.NextQuestion(context.Background(), NextQuestionRequest{
		Handle:       "oracle-handle",
		Selection:    testSelection(),
		DeliveredIDs: []uint{1},
	})
	if err != nil {
		t.Fatalf("NextQuestion() error = %v", err)
	}
	if done || question.QuestionID != 2 {
		t.Errorf("NextQuestion() = %v done=%v, want question 2", question, done)
	}

	// An exhausted pool ends the walk.
	_, done, err = client.NextQuestion(context.Background(), NextQuestionRequest{
		Handle:       "oracle-handle",
		Selection:    testSelection(),
		DeliveredIDs: []uint{1, 2},
	})
	if err != nil {
		t.Fatalf("NextQuestion() on exhausted pool error = %v", err)
	}
	if !done {
		t.Error("NextQuestion() done = false on exhausted pool, want true")
	}
}

func TestResilientClient_LocalGrading(t *testing.T) {
	explanation := "because"
	pool := &stubPool{questions: []*models.Question{
		{ID: 5, Answer: []byte(`["a", "c"]`), Explanation: &explanation},
	}}
	client := newTestResilient(&flakyClient{failures: 10}, pool)

	tests := []struct {
		name     string
		selected string
		want     bool
	}{
		{name: "exact match", selected: `["a", "c"]`, want: true},
		{name: "formatting differences ignored", selected: `["a","c"]`, want: true},
		{name: "wrong answer", selected: `["b"]`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feedback, err := client.SubmitAnswer(context.Background(), SubmitAnswerRequest{
				Handle:     "oracle-handle",
				QuestionID: 5,
				Selected:   json.RawMessage(tt.selected),
			})
			if err != nil {
				t.Fatalf("SubmitAnswer() error = %v", err)
			}
			if feedback.IsCorrect != tt.want {
				t.Errorf("SubmitAnswer() isCorrect = %v, want %v", feedback.IsCorrect, tt.want)
			}
			if feedback.Explanation == nil || *feedback.Explanation != explanation {
				t.Errorf("SubmitAnswer() explanation = %v, want %q", feedback.Explanation, explanation)
			}
		})
	}
}

func TestResilientClient_CloseSessionAdvisory(t *testing.T) {
	primary := &flakyClient{failures: 10}
	client := newTestResilient(primary, &stubPool{})

	if err := client.CloseSession(context.Background(), "oracle-handle"); err != nil {
		t.Errorf("CloseSession() with unreachable oracle error = %v, want nil", err)
	}
}
