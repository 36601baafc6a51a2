package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pipeboard/api/internal/export"
	"pipeboard/api/internal/search"
	"pipeboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	apiToken   string
	corsOrigin string
}

func NewHTTPServer(service *Service, apiToken, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, apiToken: apiToken, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/decisions/pending" {
		pipelineID := strings.TrimSpace(r.URL.Query().Get("pipelineId"))
		if pipelineID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pipelineId is required", nil)
			return
		}
		items, err := s.service.ListPending(r.Context(), pipelineID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/decisions/history" {
		pipelineID := strings.TrimSpace(r.URL.Query().Get("pipelineId"))
		if pipelineID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pipelineId is required", nil)
			return
		}
		items, err := s.service.History(r.Context(), pipelineID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/decisions/search" {
		q := search.Query{
			Text:             strings.TrimSpace(r.URL.Query().Get("q")),
			FilterPipelineID: strings.TrimSpace(r.URL.Query().Get("pipelineId")),
			FilterStatus:     strings.TrimSpace(r.URL.Query().Get("status")),
			FilterType:       strings.TrimSpace(r.URL.Query().Get("type")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			q.Limit = parsed
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			q.Offset = parsed
		}
		payload, err := s.service.Search(r.Context(), q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/decisions" {
		var body CreateDecisionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		details, err := s.service.CreateDecision(r.Context(), body)
		if err != nil {
			status, code, message, errDetails := mapError(err)
			writeError(w, status, code, message, errDetails)
			return
		}
		writeJSON(w, http.StatusCreated, details)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "decisions" {
		decisionID := parts[2]
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		details, err := s.service.GetDetails(r.Context(), decisionID)
		if err != nil {
			status, code, message, errDetails := mapError(err)
			writeError(w, status, code, message, errDetails)
			return
		}
		writeJSON(w, http.StatusOK, details)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "decisions" {
		decisionID := parts[2]
		switch parts[3] {
		case "decide":
			s.handleDecide(w, r, decisionID)
			return
		case "defer":
			s.handleDefer(w, r, decisionID)
			return
		case "impact":
			s.handleImpact(w, r, decisionID)
			return
		case "votes":
			s.handleVote(w, r, decisionID)
			return
		case "comments":
			s.handleComment(w, r, decisionID)
			return
		case "export":
			s.handleExport(w, r, decisionID)
			return
		case "reports":
			s.handleReports(w, r, decisionID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDecide(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body DecideInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	details, err := s.service.Decide(r.Context(), decisionID, body)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) handleDefer(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body DeferInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	details, err := s.service.Defer(r.Context(), decisionID, body)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) handleImpact(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body ImpactInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	analysis, err := s.service.AnalyzeImpact(r.Context(), decisionID, strings.TrimSpace(body.OptionID))
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body VoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	details, err := s.service.CastVote(r.Context(), decisionID, body)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body CommentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	details, err := s.service.AddComment(r.Context(), decisionID, body)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusCreated, details)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatPDF
	}
	result, err := s.service.ExportRecord(r.Context(), decisionID, format)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	reports, err := s.service.ListReports(r.Context(), decisionID)
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reports})
}

func (s *HTTPServer) authorize(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" || s.apiToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) == 1
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrNotPending) {
		return http.StatusConflict, "ALREADY_RESOLVED", "Decision already resolved", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
