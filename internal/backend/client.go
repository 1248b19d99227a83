// Package backend is the REST client for the skills ranking backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verte-zerg/proofwork/internal/model"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s (request %s)", e.Method, e.Path, e.StatusCode, msg, e.RequestID)
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a client for baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateSession starts a new session for group.
func (c *Client) CreateSession(ctx context.Context, group model.ExperimentGroup, score float64) (model.SkillsRankingSessionState, error) {
	var state model.SkillsRankingSessionState
	body := map[string]any{"experiment_group": group, "score": score}
	err := c.do(ctx, http.MethodPost, "/api/sessions", body, &state)
	return state, err
}

// GetSession loads a session.
func (c *Client) GetSession(ctx context.Context, id int64) (model.SkillsRankingSessionState, error) {
	var state model.SkillsRankingSessionState
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d", id), nil, &state)
	return state, err
}

// UpdateSkillsRankingState advances the session to update.NextPhase.
func (c *Client) UpdateSkillsRankingState(ctx context.Context, update model.StateUpdate) (model.SkillsRankingSessionState, error) {
	var state model.SkillsRankingSessionState
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/sessions/%d/state", update.SessionID), update, &state)
	return state, err
}

// UpdateMetrics stores the latest effort metrics.
func (c *Client) UpdateMetrics(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/sessions/%d/metrics", sessionID), report, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()
	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, RequestID: requestID}
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) == nil {
			statusErr.Message = payload.Error
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
