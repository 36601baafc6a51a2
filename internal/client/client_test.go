package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipeboard/api/internal/decision"
)

func TestListPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/decisions/pending" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("pipelineId"); got != "pipeline-1" {
			t.Fatalf("expected pipelineId=pipeline-1, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []decision.Decision{
				{ID: "decision-1", PipelineID: "pipeline-1", Status: decision.StatusPending},
			},
		})
	}))
	defer server.Close()

	repo := New(server.URL, "test-token")
	items, err := repo.ListPending(context.Background(), "pipeline-1")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "decision-1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestListPendingEmptyIsNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer server.Close()

	items, err := New(server.URL, "").ListPending(context.Background(), "pipeline-1")
	if err != nil {
		t.Fatalf("empty pending list must not fail: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestMakeDecisionSendsBody(t *testing.T) {
	var seen struct {
		OptionID   string            `json:"optionId"`
		Parameters map[string]string `json:"parameters"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/decisions/decision-1/decide" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := New(server.URL, "").MakeDecision(context.Background(), "decision-1", "option-1", map[string]string{"dryRun": "false"})
	if err != nil {
		t.Fatalf("MakeDecision failed: %v", err)
	}
	if seen.OptionID != "option-1" || seen.Parameters["dryRun"] != "false" {
		t.Fatalf("unexpected body: %+v", seen)
	}
}

func TestDeferDecisionSendsDeferUntil(t *testing.T) {
	until := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["reason"] != "waiting on security review" {
			t.Fatalf("unexpected reason %q", body["reason"])
		}
		if body["deferUntil"] != "2026-09-01T09:00:00Z" {
			t.Fatalf("unexpected deferUntil %q", body["deferUntil"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := New(server.URL, "").DeferDecision(context.Background(), "decision-1", "waiting on security review", &until); err != nil {
		t.Fatalf("DeferDecision failed: %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized},
		{"invalid option", http.StatusUnprocessableEntity, "INVALID_OPTION", ErrInvalidOption},
		{"already resolved", http.StatusConflict, "ALREADY_RESOLVED", ErrAlreadyResolved},
		{"not found", http.StatusNotFound, "NOT_FOUND", ErrNoData},
		{"server error", http.StatusInternalServerError, "INTERNAL", ErrUnreachable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]string{"code": tc.code, "error": tc.name})
			}))
			defer server.Close()

			err := New(server.URL, "").MakeDecision(context.Background(), "decision-1", "option-1", nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTransportFailureIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := New(server.URL, "").ListPending(context.Background(), "pipeline-1")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestGetDetailsEmptyPayloadIsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	_, err := New(server.URL, "").GetDetails(context.Background(), "decision-1")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}
