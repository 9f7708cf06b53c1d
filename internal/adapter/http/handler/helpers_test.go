package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/iho/kvledger/internal/adapter/http/dto"
	"github.com/iho/kvledger/internal/domain"
)

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance?limit=50", nil)
	got, err := parseIntQuery(req, "limit", 10)
	if err != nil || got != 50 {
		t.Fatalf("expected limit=50, got %d err=%v", got, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/balance?limit=invalid", nil)
	if _, err := parseIntQuery(req, "limit", 10); err == nil {
		t.Fatal("expected error for non-numeric value")
	}

	req.URL = &url.URL{RawQuery: ""}
	got, err = parseIntQuery(req, "limit", 25)
	if err != nil || got != 25 {
		t.Fatalf("expected default when missing, got %d err=%v", got, err)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"account not found", domain.ErrAccountNotFound, http.StatusNotFound},
		{"invalid account id", domain.ErrInvalidAccountID, http.StatusBadRequest},
		{"invalid entry id", domain.ErrInvalidEntryID, http.StatusBadRequest},
		{"invalid cursor", domain.ErrInvalidCursor, http.StatusBadRequest},
		{"invalid limit", domain.ErrInvalidLimit, http.StatusBadRequest},
		{"invalid date range", domain.ErrInvalidDateRange, http.StatusBadRequest},
		{"invalid order", domain.ErrInvalidOrder, http.StatusBadRequest},
		{"wrapped invalid cursor", errors.Join(domain.ErrInvalidCursor), http.StatusBadRequest},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	payload := map[string]string{"status": "ok"}

	writeJSON(rr, http.StatusCreated, payload)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var decoded map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if decoded["status"] != "ok" {
		t.Fatalf("expected payload to round-trip, got %+v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	writeError(rr, http.StatusBadRequest, "bad request", "detail")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error != "bad request" {
		t.Fatalf("expected error message to propagate, got %+v", resp)
	}
}
