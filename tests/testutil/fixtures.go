// Package testutil provides helpers for end-to-end tests that exercise the
// full HTTP stack over the in-memory storage backend.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/kvledger/internal/adapter/http"
	"github.com/iho/kvledger/internal/adapter/http/handler"
	"github.com/iho/kvledger/internal/adapter/repository/kv"
	"github.com/iho/kvledger/internal/adapter/repository/kv/memory"
	"github.com/iho/kvledger/internal/usecase"
)

// TestServer wraps an httptest.Server running the complete router.
type TestServer struct {
	*httptest.Server
	t *testing.T
}

// NewTestServer starts a server backed by a fresh in-memory store.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	store := memory.New()
	repo := kv.NewLedgerRepository(store, "account_date_index")
	retrier := kv.NewRetrier(usecase.DefaultMaxAttempts)

	ledgerHandler := handler.NewLedgerHandler(
		usecase.NewPushUseCase(repo, retrier, nil),
		usecase.NewDeleteUseCase(repo, retrier, nil),
		usecase.NewQueryUseCase(repo),
		usecase.NewVerifyUseCase(repo),
	)

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		LedgerHandler: ledgerHandler,
		HealthHandler: handler.NewHealthHandler(store, nil),
		Logger:        zerolog.New(io.Discard),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{Server: server, t: t}
}

// Do sends a JSON request and decodes the JSON response into out (when
// non-nil). It returns the HTTP status code.
func (s *TestServer) Do(method, path string, body any, out any) int {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		s.t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client().Do(req)
	if err != nil {
		s.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		s.t.Fatalf("failed to read response body: %v", err)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			s.t.Fatalf("failed to decode response %s: %v", raw, err)
		}
	}

	return resp.StatusCode
}

// Entry builds a push request payload for a single-field entry.
func Entry(accountID, entryID string, fields map[string]int64) map[string]any {
	return map[string]any{
		"account_id":    accountID,
		"entry_id":      entryID,
		"ledger_fields": fields,
	}
}

// GenerateID generates a new ULID, handy for entry ids.
func GenerateID() string {
	return ulid.Make().String()
}
