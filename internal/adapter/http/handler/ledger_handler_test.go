package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/iho/kvledger/internal/adapter/http/dto"
	"github.com/iho/kvledger/internal/adapter/repository/kv"
	"github.com/iho/kvledger/internal/adapter/repository/kv/memory"
	"github.com/iho/kvledger/internal/domain"
	"github.com/iho/kvledger/internal/usecase"
)

const (
	testAccount      = "7f9c24e5-2f15-41a6-bd1f-d2a1f0b73c3d"
	testOtherAccount = "3d1f41a6-bd1f-4f15-8f9c-24e52f15d2a1"
	testIndex        = "account_date_index"
)

// newTestRouter wires the handler over the in-memory store so requests run
// the full stack.
func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	repo := kv.NewLedgerRepository(memory.New(), testIndex)
	retrier := kv.NewRetrier(3)

	h := NewLedgerHandler(
		usecase.NewPushUseCase(repo, retrier, nil),
		usecase.NewDeleteUseCase(repo, retrier, nil),
		usecase.NewQueryUseCase(repo),
		usecase.NewVerifyUseCase(repo),
	)

	r := chi.NewRouter()
	r.Post("/api/v1/balance", h.Push)
	r.Delete("/api/v1/balance", h.Delete)
	r.Get("/api/v1/balance/{account_id}", h.GetBalance)
	r.Get("/api/v1/balance/{account_id}/entry", h.ListEntries)
	r.Get("/api/v1/balance/{account_id}/entry/{entry_id}", h.GetEntryHistory)
	r.Get("/api/v1/balance/{account_id}/verify", h.Verify)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func pushEntries(t *testing.T, router http.Handler, entries []dto.EntryRequest) dto.PushResponse {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/balance", entries)
	if rec.Code != http.StatusOK {
		t.Fatalf("push returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.PushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	return resp
}

func TestLedgerHandler_PushAndGetBalance(t *testing.T) {
	router := newTestRouter(t)

	resp := pushEntries(t, router, []dto.EntryRequest{{
		AccountID:    testAccount,
		EntryID:      "order-1",
		LedgerFields: map[string]int64{"local_amount": 10000, "usd_amount": 2000},
	}})

	if len(resp.AppliedEntries) != 1 || len(resp.NonAppliedEntries) != 0 {
		t.Fatalf("push response = %+v", resp)
	}
	applied := resp.AppliedEntries[0]
	if applied.LedgerBalances["balance_local_amount"] != 10000 ||
		applied.LedgerBalances["balance_usd_amount"] != 2000 {
		t.Errorf("ledger balances = %v", applied.LedgerBalances)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/balance/"+testAccount, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get balance returned %d: %s", rec.Code, rec.Body.String())
	}
	var balance dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.LedgerBalances["balance_local_amount"] != 10000 {
		t.Errorf("balance = %v", balance.LedgerBalances)
	}
}

func TestLedgerHandler_PushDuplicateEntry(t *testing.T) {
	router := newTestRouter(t)

	entry := dto.EntryRequest{
		AccountID:    testAccount,
		EntryID:      "order-1",
		LedgerFields: map[string]int64{"usd_amount": 100},
	}
	pushEntries(t, router, []dto.EntryRequest{entry})
	resp := pushEntries(t, router, []dto.EntryRequest{entry})

	if len(resp.AppliedEntries) != 0 || len(resp.NonAppliedEntries) != 1 {
		t.Fatalf("second push = %+v", resp)
	}
	rej := resp.NonAppliedEntries[0]
	if rej.ErrorCode != int(domain.ReasonAlreadyExists) {
		t.Errorf("error code = %d, want %d", rej.ErrorCode, domain.ReasonAlreadyExists)
	}
	if rej.Entry.EntryID != "order-1" {
		t.Errorf("echoed entry = %+v", rej.Entry)
	}
}

func TestLedgerHandler_PushConditionalRejection(t *testing.T) {
	router := newTestRouter(t)

	pushEntries(t, router, []dto.EntryRequest{{
		AccountID:    testAccount,
		EntryID:      "seed",
		LedgerFields: map[string]int64{"usd_amount": 2000},
	}})

	resp := pushEntries(t, router, []dto.EntryRequest{{
		AccountID:    testAccount,
		EntryID:      "overdraft",
		LedgerFields: map[string]int64{"usd_amount": -3000},
		Conditionals: []dto.Conditional{{
			GreaterThanOrEqualTo: &dto.GreaterThanOrEqualTo{Balance: "balance_usd_amount", Value: 0},
		}},
	}})

	if len(resp.NonAppliedEntries) != 1 {
		t.Fatalf("push response = %+v", resp)
	}
	if resp.NonAppliedEntries[0].ErrorCode != int(domain.ReasonConditionFailed) {
		t.Errorf("error code = %d", resp.NonAppliedEntries[0].ErrorCode)
	}

	// Balance must be untouched by the rejected entry.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/balance/"+testAccount, nil)
	var balance dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.LedgerBalances["balance_usd_amount"] != 2000 {
		t.Errorf("balance = %v, want untouched 2000", balance.LedgerBalances)
	}
}

func TestLedgerHandler_PushBadRequests(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"empty batch", `[]`},
		{"bad account id", `[{"account_id":"nope","entry_id":"e1","ledger_fields":{"a":1}}]`},
		{"pipe in entry id", `[{"account_id":"` + testAccount + `","entry_id":"a|b","ledger_fields":{"a":1}}]`},
		{"reserved field name", `[{"account_id":"` + testAccount + `","entry_id":"e1","ledger_fields":{"balance_a":1}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/balance", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLedgerHandler_DeleteAndHistory(t *testing.T) {
	router := newTestRouter(t)

	pushEntries(t, router, []dto.EntryRequest{{
		AccountID:    testAccount,
		EntryID:      "order-1",
		LedgerFields: map[string]int64{"usd_amount": 100},
	}})

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/balance",
		[]dto.DeleteEntryRequest{{AccountID: testAccount, EntryID: "order-1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	var del dto.DeleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &del); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if len(del.AppliedEntries) != 1 || len(del.NonAppliedEntries) != 0 {
		t.Fatalf("delete response = %+v", del)
	}

	// Balance drops back to zero.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/balance/"+testAccount, nil)
	var balance dto.EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.LedgerBalances["balance_usd_amount"] != 0 {
		t.Errorf("balance after delete = %v", balance.LedgerBalances)
	}

	// Re-push the same entry id, then read the chain: applied, revert,
	// reverted, newest first.
	pushEntries(t, router, []dto.EntryRequest{{
		AccountID:    testAccount,
		EntryID:      "order-1",
		LedgerFields: map[string]int64{"usd_amount": 50},
	}})

	rec = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/balance/%s/entry/%s", testAccount, "order-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", rec.Code, rec.Body.String())
	}
	var history dto.EntriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Entries) != 3 {
		t.Fatalf("history length = %d, want 3", len(history.Entries))
	}
	if history.Entries[0].LedgerFields["usd_amount"] != 50 {
		t.Errorf("newest record = %+v, want the re-pushed entry", history.Entries[0])
	}
}

func TestLedgerHandler_DeleteMissingEntry(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/balance",
		[]dto.DeleteEntryRequest{{AccountID: testAccount, EntryID: "ghost"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rec.Code, rec.Body.String())
	}
	var del dto.DeleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &del); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if len(del.NonAppliedEntries) != 1 {
		t.Fatalf("delete response = %+v", del)
	}
	rej := del.NonAppliedEntries[0]
	if rej.ErrorCode != int(domain.ReasonEntryNotFound) {
		t.Errorf("error code = %d, want %d", rej.ErrorCode, domain.ReasonEntryNotFound)
	}
	if rej.DeleteEntryRequest.EntryID != "ghost" {
		t.Errorf("echoed request = %+v", rej.DeleteEntryRequest)
	}
}

func TestLedgerHandler_GetBalanceErrors(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/balance/"+testOtherAccount, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/balance/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestLedgerHandler_ListEntries(t *testing.T) {
	router := newTestRouter(t)

	pushEntries(t, router, []dto.EntryRequest{
		{AccountID: testAccount, EntryID: "e1", LedgerFields: map[string]int64{"amount": 1}},
		{AccountID: testAccount, EntryID: "e2", LedgerFields: map[string]int64{"amount": 2}},
	})

	base := "/api/v1/balance/" + testAccount + "/entry"
	window := "?start_date=2000-01-01T00:00:00Z&end_date=2100-01-01T00:00:00Z"

	rec := doJSON(t, router, http.MethodGet, base+window+"&order=asc", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
	}
	var page dto.EntriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(page.Entries) != 2 || page.Entries[0].EntryID != "e1" {
		t.Fatalf("listing = %+v", page.Entries)
	}

	// Missing dates without a cursor is a request error.
	rec = doJSON(t, router, http.MethodGet, base, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing dates status = %d, want 400", rec.Code)
	}

	// Garbage cursors never reach storage.
	rec = doJSON(t, router, http.MethodGet, base+"?cursor=%21%21", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage cursor status = %d, want 400", rec.Code)
	}
}

func TestLedgerHandler_ListEntriesPagination(t *testing.T) {
	router := newTestRouter(t)

	var entries []dto.EntryRequest
	for i := 0; i < 5; i++ {
		entries = append(entries, dto.EntryRequest{
			AccountID:    testAccount,
			EntryID:      fmt.Sprintf("e%d", i),
			LedgerFields: map[string]int64{"amount": 1},
		})
	}
	pushEntries(t, router, entries)

	base := "/api/v1/balance/" + testAccount + "/entry"
	window := "?start_date=2000-01-01T00:00:00Z&end_date=2100-01-01T00:00:00Z&order=asc&limit=2"

	seen := map[string]int{}
	url := base + window
	for hops := 0; ; hops++ {
		if hops > 5 {
			t.Fatal("pagination did not terminate")
		}
		rec := doJSON(t, router, http.MethodGet, url, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list returned %d: %s", rec.Code, rec.Body.String())
		}
		var page dto.EntriesResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("decode listing: %v", err)
		}
		for _, e := range page.Entries {
			seen[e.EntryID]++
		}
		if page.Cursor == "" {
			break
		}
		url = base + "?cursor=" + page.Cursor
	}

	if len(seen) != 5 {
		t.Fatalf("saw %d distinct entries, want 5: %v", len(seen), seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("entry %s seen %d times", id, n)
		}
	}
}

func TestLedgerHandler_Verify(t *testing.T) {
	router := newTestRouter(t)

	pushEntries(t, router, []dto.EntryRequest{
		{AccountID: testAccount, EntryID: "e1", LedgerFields: map[string]int64{"amount": 70}},
		{AccountID: testAccount, EntryID: "e2", LedgerFields: map[string]int64{"amount": 30}},
	})

	rec := doJSON(t, router, http.MethodGet,
		"/api/v1/balance/"+testAccount+"/verify?start_date=2000-01-01T00:00:00Z&end_date=2100-01-01T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !resp.Consistent {
		t.Errorf("verify = %+v, want consistent", resp)
	}
	if resp.Computed["balance_amount"] != 100 {
		t.Errorf("computed = %v", resp.Computed)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/balance/"+testAccount+"/verify", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing dates status = %d, want 400", rec.Code)
	}
}
