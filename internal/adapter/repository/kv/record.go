package kv

import (
	"encoding/json"
	"fmt"

	"github.com/iho/kvledger/internal/domain"
)

// Attribute names shared by all backends. additional_fields is stored as one
// JSON blob so opaque values round-trip byte-exact.
const (
	attrAccountID        = "account_id"
	attrEntryID          = "entry_id"
	attrLedgerFields     = "ledger_fields"
	attrLedgerBalances   = "ledger_balances"
	attrAdditionalFields = "additional_fields"
	attrStatus           = "status"
	attrStatusSequence   = "status_sequence"
	attrSequence         = "sequence"
	attrCreatedAt        = "created_at"
)

func entryToRecord(e domain.EntryRecord) (Record, error) {
	additional, err := json.Marshal(e.AdditionalFields)
	if err != nil {
		return nil, fmt.Errorf("marshal additional fields: %w", err)
	}
	rec := Record{
		attrAccountID:        e.AccountID,
		attrEntryID:          e.EntryID,
		attrLedgerFields:     cloneInt64Map(e.LedgerFields),
		attrLedgerBalances:   cloneInt64Map(e.LedgerBalances),
		attrAdditionalFields: string(additional),
		attrStatus:           string(e.Status.Kind),
		attrSequence:         int64(e.Sequence),
		attrCreatedAt:        FormatTime(e.CreatedAt),
		GSIPKAttr:            GSIPK(e.AccountID, e.CreatedAt),
		GSISKAttr:            FormatTime(e.CreatedAt),
	}
	if e.Status.Kind != domain.StatusApplied {
		rec[attrStatusSequence] = int64(e.Status.Sequence)
	}
	return rec, nil
}

func recordToEntry(rec Record) (domain.EntryRecord, error) {
	var e domain.EntryRecord
	var ok bool
	if e.AccountID, ok = rec.String(attrAccountID); !ok {
		return e, fmt.Errorf("record missing %s", attrAccountID)
	}
	if e.EntryID, ok = rec.String(attrEntryID); !ok {
		return e, fmt.Errorf("record missing %s", attrEntryID)
	}
	if e.LedgerFields, ok = rec.Int64Map(attrLedgerFields); !ok {
		return e, fmt.Errorf("record missing %s", attrLedgerFields)
	}
	if e.LedgerBalances, ok = rec.Int64Map(attrLedgerBalances); !ok {
		return e, fmt.Errorf("record missing %s", attrLedgerBalances)
	}
	if raw, ok := rec.String(attrAdditionalFields); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.AdditionalFields); err != nil {
			return e, fmt.Errorf("unmarshal additional fields: %w", err)
		}
	}

	kind, ok := rec.String(attrStatus)
	if !ok {
		return e, fmt.Errorf("record missing %s", attrStatus)
	}
	ref, _ := rec.Int64(attrStatusSequence)
	switch domain.StatusKind(kind) {
	case domain.StatusApplied:
		e.Status = domain.Applied()
	case domain.StatusReverted:
		e.Status = domain.Reverted(uint64(ref))
	case domain.StatusRevert:
		e.Status = domain.Revert(uint64(ref))
	default:
		return e, fmt.Errorf("record has unknown status %q", kind)
	}

	seq, ok := rec.Int64(attrSequence)
	if !ok {
		return e, fmt.Errorf("record missing %s", attrSequence)
	}
	e.Sequence = uint64(seq)

	created, ok := rec.String(attrCreatedAt)
	if !ok {
		return e, fmt.Errorf("record missing %s", attrCreatedAt)
	}
	t, err := ParseTime(created)
	if err != nil {
		return e, err
	}
	e.CreatedAt = t
	return e, nil
}

func recordsToEntries(records []Record) ([]domain.EntryRecord, error) {
	entries := make([]domain.EntryRecord, 0, len(records))
	for _, rec := range records {
		entry, err := recordToEntry(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// balanceToRecord flattens a balance row. The index keys are stripped so the
// row never shows up in entry listings, which query the sparse index.
func balanceToRecord(b domain.Balance) (Record, error) {
	rec, err := entryToRecord(b.EntryRecord)
	if err != nil {
		return nil, err
	}
	delete(rec, GSIPKAttr)
	delete(rec, GSISKAttr)
	rec[VersionAttr] = b.Version
	return rec, nil
}

func recordToBalance(rec Record) (domain.Balance, error) {
	entry, err := recordToEntry(rec)
	if err != nil {
		return domain.Balance{}, err
	}
	version, ok := rec.Int64(VersionAttr)
	if !ok {
		return domain.Balance{}, fmt.Errorf("record missing %s", VersionAttr)
	}
	return domain.Balance{EntryRecord: entry, Version: version}, nil
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
