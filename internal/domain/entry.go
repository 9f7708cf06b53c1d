package domain

import (
	"encoding/json"
	"time"
)

// Entry is a single ledger event proposed against an account, identified by
// (AccountID, EntryID). LedgerFields carries the signed amounts that sum into
// the account balance; AdditionalFields is opaque and echoed untouched.
type Entry struct {
	AccountID        string
	EntryID          string
	LedgerFields     map[string]int64
	AdditionalFields map[string]json.RawMessage
	Conditionals     []Conditional
}

// EntryRecord is the persisted form of an entry: the pushed payload plus the
// server-assigned status, timestamp, history sequence and the balance
// snapshot taken right after the entry applied.
type EntryRecord struct {
	AccountID        string
	EntryID          string
	LedgerFields     map[string]int64
	AdditionalFields map[string]json.RawMessage
	LedgerBalances   map[string]int64
	Status           Status
	Sequence         uint64
	CreatedAt        time.Time
}

// Balance is the live aggregate row for an account: running totals plus a
// snapshot of the last committed mutation. Version gates optimistic writes;
// it counts successful commits.
type Balance struct {
	EntryRecord
	Version int64
}

// DeleteEntryRequest identifies one live entry to revert.
type DeleteEntryRequest struct {
	AccountID string
	EntryID   string
}

// AppendResult carries the per-entry verdicts of one batch application.
type AppendResult struct {
	Applied  []EntryRecord
	Rejected []NonAppliedEntry
}

// RevertResult carries the per-entry verdicts of one delete batch. Applied
// holds the compensating records that were written.
type RevertResult struct {
	Applied  []EntryRecord
	Rejected []NonAppliedDelete
}
