package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnreachable wraps transport and 5xx failures so callers can distinguish
// "oracle down" from a rejected request.
var ErrUnreachable = errors.New("knowledge oracle unreachable")

// HTTPClient talks to the knowledge oracle over its JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *HTTPClient) OpenSession(ctx context.Context, req OpenSessionRequest) (*OpenSessionResponse, error) {
	var resp OpenSessionResponse
	if err := c.post(ctx, "/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) NextQuestion(ctx context.Context, req NextQuestionRequest) (*DeliveredQuestion, bool, error) {
	var resp struct {
		Done     bool               `json:"done"`
		Question *DeliveredQuestion `json:"question,omitempty"`
	}
	path := fmt.Sprintf("/v1/sessions/%s/next", req.Handle)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, false, err
	}
	if resp.Done {
		return nil, true, nil
	}
	if resp.Question == nil {
		return nil, false, fmt.Errorf("oracle returned neither question nor done")
	}
	return resp.Question, false, nil
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*Feedback, error) {
	var resp Feedback
	path := fmt.Sprintf("/v1/sessions/%s/answers", req.Handle)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CloseSession(ctx context.Context, handle string) error {
	path := fmt.Sprintf("/v1/sessions/%s/close", handle)
	return c.post(ctx, path, struct{}{}, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("oracle rejected request: status %d: %s", resp.StatusCode, string(data))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode oracle response: %w", err)
	}
	return nil
}
