package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/questionpool"
	"github.com/google/uuid"
)

// localHandlePrefix marks sessions that were opened (or moved) to pool
// fallback mode; calls for these handles never reach the oracle again.
const localHandlePrefix = "local:"

// ResilientClient wraps a Client with one retry and a question-pool fallback.
// When the oracle stays unreachable, delivery degrades to random pool
// sampling and grading degrades to the stored answer key.
type ResilientClient struct {
	primary    Client
	pool       questionpool.Resolver
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewResilientClient(primary Client, pool questionpool.Resolver, logger *slog.Logger) *ResilientClient {
	return &ResilientClient{
		primary:    primary,
		pool:       pool,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

func (c *ResilientClient) OpenSession(ctx context.Context, req OpenSessionRequest) (*OpenSessionResponse, error) {
	resp, err := c.withRetry(ctx, "open_session", func() (interface{}, error) {
		return c.primary.OpenSession(ctx, req)
	})
	if err == nil {
		return resp.(*OpenSessionResponse), nil
	}
	if !errors.Is(err, ErrUnreachable) {
		return nil, err
	}

	c.logger.Warn("Oracle unreachable, opening session in fallback mode",
		"student_id", req.StudentID, "error", err)
	return &OpenSessionResponse{Handle: localHandlePrefix + uuid.New().String()}, nil
}

func (c *ResilientClient) NextQuestion(ctx context.Context, req NextQuestionRequest) (*DeliveredQuestion, bool, error) {
	if !isLocalHandle(req.Handle) {
		type nextResult struct {
			question *DeliveredQuestion
			done     bool
		}
		resp, err := c.withRetry(ctx, "next_question", func() (interface{}, error) {
			q, done, err := c.primary.NextQuestion(ctx, req)
			if err != nil {
				return nil, err
			}
			return nextResult{question: q, done: done}, nil
		})
		if err == nil {
			result := resp.(nextResult)
			return result.question, result.done, nil
		}
		if !errors.Is(err, ErrUnreachable) {
			return nil, false, err
		}
		c.logger.Warn("Oracle unreachable, selecting next question from pool",
			"handle", req.Handle, "error", err)
	}

	return c.nextFromPool(ctx, req)
}

func (c *ResilientClient) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*Feedback, error) {
	if !isLocalHandle(req.Handle) {
		resp, err := c.withRetry(ctx, "submit_answer", func() (interface{}, error) {
			return c.primary.SubmitAnswer(ctx, req)
		})
		if err == nil {
			return resp.(*Feedback), nil
		}
		if !errors.Is(err, ErrUnreachable) {
			return nil, err
		}
		c.logger.Warn("Oracle unreachable, grading from stored answer key",
			"handle", req.Handle, "question_id", req.QuestionID, "error", err)
	}

	return c.gradeLocally(ctx, req)
}

func (c *ResilientClient) CloseSession(ctx context.Context, handle string) error {
	if isLocalHandle(handle) {
		return nil
	}

	_, err := c.withRetry(ctx, "close_session", func() (interface{}, error) {
		return nil, c.primary.CloseSession(ctx, handle)
	})
	if errors.Is(err, ErrUnreachable) {
		// Session close is advisory; the oracle expires handles on its own.
		c.logger.Warn("Oracle unreachable, skipping session close", "handle", handle)
		return nil
	}
	return err
}

// withRetry runs fn, retrying exactly once after retryDelay when the failure
// looks transient.
func (c *ResilientClient) withRetry(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := fn()
	if err == nil || !errors.Is(err, ErrUnreachable) {
		return result, err
	}

	c.logger.Debug("Oracle call failed, retrying once", "op", op, "error", err)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.retryDelay):
	}

	return fn()
}

func (c *ResilientClient) nextFromPool(ctx context.Context, req NextQuestionRequest) (*DeliveredQuestion, bool, error) {
	if req.Selection == nil {
		return nil, false, fmt.Errorf("%w: no content selection for pool fallback", ErrUnreachable)
	}

	questions, err := c.pool.Sample(ctx, req.Selection, req.DeliveredIDs, 1)
	if err != nil {
		return nil, false, fmt.Errorf("%w: pool fallback failed: %v", ErrUnreachable, err)
	}
	if len(questions) == 0 {
		// Pool exhausted: nothing left to deliver.
		return nil, true, nil
	}

	q := questions[0]
	return &DeliveredQuestion{
		QuestionID: q.ID,
		Type:       q.Type,
		Text:       q.Text,
		Content:    json.RawMessage(q.Content),
		Difficulty: q.Difficulty,
	}, false, nil
}

func (c *ResilientClient) gradeLocally(ctx context.Context, req SubmitAnswerRequest) (*Feedback, error) {
	question, err := c.pool.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("%w: local grading failed: %v", ErrUnreachable, err)
	}

	correct, err := answersEqual(req.Selected, json.RawMessage(question.Answer))
	if err != nil {
		return nil, fmt.Errorf("%w: local grading failed: %v", ErrUnreachable, err)
	}

	return &Feedback{
		IsCorrect:     correct,
		CorrectAnswer: json.RawMessage(question.Answer),
		Explanation:   question.Explanation,
	}, nil
}

// answersEqual compares two answer payloads structurally, so formatting
// differences in the stored JSON do not affect grading.
func answersEqual(selected, key json.RawMessage) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("question has no stored answer key")
	}
	var a, b interface{}
	if err := json.Unmarshal(selected, &a); err != nil {
		return false, fmt.Errorf("invalid selected answer: %w", err)
	}
	if err := json.Unmarshal(key, &b); err != nil {
		return false, fmt.Errorf("invalid stored answer key: %w", err)
	}
	return reflect.DeepEqual(a, b), nil
}

func isLocalHandle(handle string) bool {
	return strings.HasPrefix(handle, localHandlePrefix)
}
