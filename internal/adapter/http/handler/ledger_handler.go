package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/kvledger/internal/adapter/http/dto"
	"github.com/iho/kvledger/internal/domain"
	"github.com/iho/kvledger/internal/usecase"
)

// LedgerHandler serves the /api/v1/balance surface.
type LedgerHandler struct {
	pushUC   *usecase.PushUseCase
	deleteUC *usecase.DeleteUseCase
	queryUC  *usecase.QueryUseCase
	verifyUC *usecase.VerifyUseCase
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(pushUC *usecase.PushUseCase, deleteUC *usecase.DeleteUseCase, queryUC *usecase.QueryUseCase, verifyUC *usecase.VerifyUseCase) *LedgerHandler {
	return &LedgerHandler{
		pushUC:   pushUC,
		deleteUC: deleteUC,
		queryUC:  queryUC,
		verifyUC: verifyUC,
	}
}

// Push applies a batch of entries. Per-entry failures come back as data under
// non_applied_entries; the request itself fails only on malformed input.
func (h *LedgerHandler) Push(w http.ResponseWriter, r *http.Request) {
	var reqs []dto.EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty entry batch", "")
		return
	}

	entries := make([]domain.Entry, len(reqs))
	for i := range reqs {
		entries[i] = reqs[i].ToDomain()
		if err := entries[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid entry", err.Error())
			return
		}
	}

	out, err := h.pushUC.Push(r.Context(), entries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "push failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.PushResponse{
		AppliedEntries:    dto.EntriesFromDomain(out.Applied),
		NonAppliedEntries: dto.NonAppliedEntriesFromDomain(out.NonApplied),
	})
}

// Delete reverts a batch of live entries.
func (h *LedgerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var reqs []dto.DeleteEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty delete batch", "")
		return
	}

	targets := make([]domain.DeleteEntryRequest, len(reqs))
	for i := range reqs {
		targets[i] = reqs[i].ToDomain()
		if err := targets[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid delete request", err.Error())
			return
		}
	}

	out, err := h.deleteUC.Delete(r.Context(), targets)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.DeleteResponse{
		AppliedEntries:    dto.EntriesFromDomain(out.Applied),
		NonAppliedEntries: dto.NonAppliedDeletesFromDomain(out.NonApplied),
	})
}

// GetBalance returns the account's live balance row.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	balance, err := h.queryUC.GetBalance(r.Context(), accountID)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get balance", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceFromDomain(balance))
}

// ListEntries returns one page of the account's entries. Callers pass either a
// cursor or both dates.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	out, err := h.queryUC.ListEntries(r.Context(), usecase.ListEntriesInput{
		AccountID: chi.URLParam(r, "account_id"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Order:     q.Get("order"),
		Limit:     limit,
		Cursor:    q.Get("cursor"),
	})
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list entries", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.EntriesResponse{
		Entries: dto.EntriesFromDomain(out.Records),
		Cursor:  out.NextCursor,
	})
}

// GetEntryHistory returns one page of an entry's chain, newest first.
func (h *LedgerHandler) GetEntryHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	out, err := h.queryUC.GetEntryHistory(r.Context(), usecase.EntryHistoryInput{
		AccountID: chi.URLParam(r, "account_id"),
		EntryID:   chi.URLParam(r, "entry_id"),
		Limit:     limit,
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get entry history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.EntriesResponse{
		Entries: dto.EntriesFromDomain(out.Records),
		Cursor:  out.NextCursor,
	})
}

// Verify audits balance conservation for one account over a date window.
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimeQuery(q.Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad start_date", err.Error())
		return
	}
	end, err := parseTimeQuery(q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad end_date", err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end_date precedes start_date", "")
		return
	}

	res, err := h.verifyUC.VerifyBalance(r.Context(), chi.URLParam(r, "account_id"), start, end)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to verify balance", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.VerifyResponse{
		AccountID:      res.AccountID,
		Recorded:       res.Recorded,
		Computed:       res.Computed,
		Consistent:     res.Consistent,
		RecordsScanned: res.RecordsScanned,
		CheckedAt:      res.CheckedAt,
	})
}

func parseTimeQuery(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing required date parameter")
	}
	return time.Parse(time.RFC3339, s)
}
