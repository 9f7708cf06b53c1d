package dto

import (
	"encoding/json"
	"time"

	"github.com/iho/kvledger/internal/domain"
)

// EntryResponse is the wire form of a persisted entry record: the pushed
// payload plus the server-assigned status, timestamp, history sequence and the
// balance snapshot taken when the entry applied.
type EntryResponse struct {
	AccountID        string                     `json:"account_id"`
	EntryID          string                     `json:"entry_id"`
	LedgerFields     map[string]int64           `json:"ledger_fields"`
	AdditionalFields map[string]json.RawMessage `json:"additional_fields,omitempty"`
	LedgerBalances   map[string]int64           `json:"ledger_balances"`
	Status           domain.Status              `json:"status"`
	Sequence         uint64                     `json:"sequence"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// EntryFromDomain converts a domain record to its response form.
func EntryFromDomain(rec domain.EntryRecord) EntryResponse {
	return EntryResponse{
		AccountID:        rec.AccountID,
		EntryID:          rec.EntryID,
		LedgerFields:     rec.LedgerFields,
		AdditionalFields: rec.AdditionalFields,
		LedgerBalances:   rec.LedgerBalances,
		Status:           rec.Status,
		Sequence:         rec.Sequence,
		CreatedAt:        rec.CreatedAt,
	}
}

// EntriesFromDomain converts domain records to responses.
func EntriesFromDomain(records []domain.EntryRecord) []EntryResponse {
	result := make([]EntryResponse, len(records))
	for i, rec := range records {
		result[i] = EntryFromDomain(rec)
	}
	return result
}

// BalanceFromDomain converts the live balance row to its response form. The
// balance reuses the entry shape; the internal version counter stays private.
func BalanceFromDomain(b *domain.Balance) EntryResponse {
	return EntryFromDomain(b.EntryRecord)
}

// NonAppliedEntry reports one pushed entry that did not apply, echoing the
// original request entry.
type NonAppliedEntry struct {
	Error     string       `json:"error"`
	ErrorCode int          `json:"error_code"`
	Entry     EntryRequest `json:"entry"`
}

// NonAppliedEntriesFromDomain converts per-entry push rejections.
func NonAppliedEntriesFromDomain(rejected []domain.NonAppliedEntry) []NonAppliedEntry {
	result := make([]NonAppliedEntry, len(rejected))
	for i, rej := range rejected {
		result[i] = NonAppliedEntry{
			Error:     rej.Message,
			ErrorCode: int(rej.Code),
			Entry:     EntryRequestFromDomain(rej.Entry),
		}
	}
	return result
}

// NonAppliedDelete reports one delete target that did not apply, echoing the
// original request.
type NonAppliedDelete struct {
	Error              string             `json:"error"`
	ErrorCode          int                `json:"error_code"`
	DeleteEntryRequest DeleteEntryRequest `json:"delete_entry_request"`
}

// NonAppliedDeletesFromDomain converts per-entry delete rejections.
func NonAppliedDeletesFromDomain(rejected []domain.NonAppliedDelete) []NonAppliedDelete {
	result := make([]NonAppliedDelete, len(rejected))
	for i, rej := range rejected {
		result[i] = NonAppliedDelete{
			Error:     rej.Message,
			ErrorCode: int(rej.Code),
			DeleteEntryRequest: DeleteEntryRequest{
				AccountID: rej.Request.AccountID,
				EntryID:   rej.Request.EntryID,
			},
		}
	}
	return result
}

// PushResponse is the verdict envelope of one push.
type PushResponse struct {
	AppliedEntries    []EntryResponse   `json:"applied_entries"`
	NonAppliedEntries []NonAppliedEntry `json:"non_applied_entries"`
}

// DeleteResponse is the verdict envelope of one delete. AppliedEntries holds
// the compensating records written for the reverted entries.
type DeleteResponse struct {
	AppliedEntries    []EntryResponse    `json:"applied_entries"`
	NonAppliedEntries []NonAppliedDelete `json:"non_applied_entries"`
}

// EntriesResponse is one page of an entry listing or history.
type EntriesResponse struct {
	Entries []EntryResponse `json:"entries"`
	Cursor  string          `json:"cursor,omitempty"`
}

// VerifyResponse reports one balance-conservation audit.
type VerifyResponse struct {
	AccountID      string           `json:"account_id"`
	Recorded       map[string]int64 `json:"recorded"`
	Computed       map[string]int64 `json:"computed"`
	Consistent     bool             `json:"consistent"`
	RecordsScanned int              `json:"records_scanned"`
	CheckedAt      time.Time        `json:"checked_at"`
}

// ErrorResponse represents a request-level error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
