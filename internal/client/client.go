// Package client is the repository boundary between the decision workflow
// core and the remote authority. The HTTP implementation speaks the service's
// REST mapping; the sync engine only sees the Repository interface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pipeboard/api/internal/decision"
)

// Repository exposes the five decision operations plus impact analysis.
// Implementations return the sentinel errors from errors.go.
type Repository interface {
	ListPending(ctx context.Context, pipelineID string) ([]decision.Decision, error)
	GetDetails(ctx context.Context, decisionID string) (decision.Details, error)
	GetHistory(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error)
	MakeDecision(ctx context.Context, decisionID, optionID string, parameters map[string]string) error
	DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time) error
	AnalyzeImpact(ctx context.Context, decisionID, optionID string) (decision.ImpactAnalysis, error)
}

// HTTPRepository talks to the decision service over its REST API.
type HTTPRepository struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New creates an HTTP repository. baseURL is the service root, e.g.
// "http://localhost:8790". token may be empty when the service runs open.
func New(baseURL, token string) *HTTPRepository {
	return &HTTPRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// NewWithClient creates a repository with a caller-supplied http.Client,
// mainly for tests.
func NewWithClient(baseURL, token string, httpc *http.Client) *HTTPRepository {
	repo := New(baseURL, token)
	repo.httpc = httpc
	return repo
}

func (r *HTTPRepository) ListPending(ctx context.Context, pipelineID string) ([]decision.Decision, error) {
	var payload struct {
		Items []decision.Decision `json:"items"`
	}
	path := "/api/decisions/pending?pipelineId=" + url.QueryEscape(pipelineID)
	if err := r.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	if payload.Items == nil {
		payload.Items = []decision.Decision{}
	}
	return payload.Items, nil
}

func (r *HTTPRepository) GetDetails(ctx context.Context, decisionID string) (decision.Details, error) {
	var details decision.Details
	if err := r.get(ctx, "/api/decisions/"+url.PathEscape(decisionID), &details); err != nil {
		return decision.Details{}, err
	}
	if details.ID == "" {
		return decision.Details{}, fmt.Errorf("details for %s: %w", decisionID, ErrNoData)
	}
	return details, nil
}

func (r *HTTPRepository) GetHistory(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error) {
	var payload struct {
		Items []decision.HistoryEntry `json:"items"`
	}
	path := "/api/decisions/history?pipelineId=" + url.QueryEscape(pipelineID)
	if err := r.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	if payload.Items == nil {
		payload.Items = []decision.HistoryEntry{}
	}
	return payload.Items, nil
}

func (r *HTTPRepository) MakeDecision(ctx context.Context, decisionID, optionID string, parameters map[string]string) error {
	body := map[string]any{"optionId": optionID}
	if len(parameters) > 0 {
		body["parameters"] = parameters
	}
	return r.post(ctx, "/api/decisions/"+url.PathEscape(decisionID)+"/decide", body, nil)
}

func (r *HTTPRepository) DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time) error {
	body := map[string]any{"reason": reason}
	if deferUntil != nil {
		body["deferUntil"] = deferUntil.UTC().Format(time.RFC3339)
	}
	return r.post(ctx, "/api/decisions/"+url.PathEscape(decisionID)+"/defer", body, nil)
}

func (r *HTTPRepository) AnalyzeImpact(ctx context.Context, decisionID, optionID string) (decision.ImpactAnalysis, error) {
	var analysis decision.ImpactAnalysis
	body := map[string]any{"optionId": optionID}
	if err := r.post(ctx, "/api/decisions/"+url.PathEscape(decisionID)+"/impact", body, &analysis); err != nil {
		return decision.ImpactAnalysis{}, err
	}
	if analysis.OptionID == "" {
		return decision.ImpactAnalysis{}, fmt.Errorf("impact for %s: %w", decisionID, ErrNoData)
	}
	return analysis, nil
}

func (r *HTTPRepository) get(ctx context.Context, path string, target any) error {
	return r.do(ctx, http.MethodGet, path, nil, target)
}

func (r *HTTPRepository) post(ctx context.Context, path string, body, target any) error {
	return r.do(ctx, http.MethodPost, path, body, target)
}

func (r *HTTPRepository) do(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		// Transport failures, including timeouts, all read as unreachable.
		return fmt.Errorf("%s %s: %w", method, path, ErrUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return r.mapFailure(resp)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%s %s: %w", method, path, ErrNoData)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (r *HTTPRepository) mapFailure(resp *http.Response) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", payload.Message, ErrUnauthorized)
	case payload.Code == "INVALID_OPTION":
		return fmt.Errorf("%s: %w", payload.Message, ErrInvalidOption)
	case payload.Code == "ALREADY_RESOLVED" || resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", payload.Message, ErrAlreadyResolved)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("not found: %w", ErrNoData)
	case resp.StatusCode >= 500:
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnreachable)
	default:
		return fmt.Errorf("decision service error %d (%s): %s", resp.StatusCode, payload.Code, payload.Message)
	}
}
