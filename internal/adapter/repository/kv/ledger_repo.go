package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iho/kvledger/internal/domain"
)

// LedgerRepository implements the ledger write and read protocol over a
// Store: one version-guarded balance row per account, one live row per entry,
// and a per-entry history chain of archived records.
type LedgerRepository struct {
	store Store
	index string
	now   func() time.Time
}

// NewLedgerRepository builds a repository over the store. index names the
// account/date listing index of the backing table.
func NewLedgerRepository(store Store, index string) *LedgerRepository {
	return &LedgerRepository{store: store, index: index, now: time.Now}
}

// WithClock overrides the record timestamp source. Tests use it to pin
// records to known days.
func (r *LedgerRepository) WithClock(now func() time.Time) *LedgerRepository {
	r.now = now
	return r
}

// AppendEntries applies one batch against a single account: load the balance,
// fold the batch over it in input order, and commit every surviving entry
// plus the updated balance as one transaction. Entry ids must be unique
// within one call.
//
// Duplicate entries discovered at commit time are rejected and the rest of
// the batch is re-committed internally; the balance version is untouched by a
// duplicate-only failure, so no optimistic retry is spent on it. A lost
// balance CAS surfaces as domain.ErrOptimisticLock for the caller to retry
// after backoff.
func (r *LedgerRepository) AppendEntries(ctx context.Context, accountID string, entries []domain.Entry) (*domain.AppendResult, error) {
	result := &domain.AppendResult{}
	if len(entries) == 0 {
		return result, nil
	}

	balance, err := r.loadBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// The declared schema is the balance row's field set; a fresh account
	// adopts the first entry's fields.
	pending := make([]domain.Entry, 0, len(entries))
	declared := declaredSchema(balance)
	for _, entry := range entries {
		if declared == nil {
			declared = fieldSet(entry.LedgerFields)
		} else if !matchesSchema(declared, entry.LedgerFields) {
			result.Rejected = append(result.Rejected, domain.NotApplied(entry, domain.ErrSchemaMismatch))
			continue
		}
		pending = append(pending, entry)
	}

	for {
		if len(pending) == 0 {
			return result, nil
		}

		survivors, records, rejected := r.fold(balance, pending)
		result.Rejected = append(result.Rejected, rejected...)
		if len(records) == 0 {
			return result, nil
		}

		ops := make([]Op, 0, len(records)+1)
		for _, rec := range records {
			item, err := entryToRecord(rec)
			if err != nil {
				return nil, err
			}
			ops = append(ops, PutIfAbsent(EntryPK(accountID, rec.EntryID), CurrentSK, item))
		}
		balanceOp, err := nextBalanceOp(accountID, balance.Version, records[len(records)-1])
		if err != nil {
			return nil, err
		}
		ops = append(ops, balanceOp)

		err = r.store.TransactWrite(ctx, ops)
		if err == nil {
			result.Applied = append(result.Applied, records...)
			return result, nil
		}

		var precondition *PreconditionError
		switch {
		case errors.As(err, &precondition):
			balanceIdx := len(ops) - 1
			duplicate := make(map[string]bool, len(precondition.Failed))
			lockLost := false
			for _, idx := range precondition.Failed {
				if idx == balanceIdx {
					lockLost = true
					continue
				}
				duplicate[records[idx].EntryID] = true
			}
			if lockLost {
				return nil, domain.ErrOptimisticLock
			}
			// Only duplicates failed: report them and refold the remainder
			// against the balance already in hand.
			pending = pending[:0]
			for _, entry := range survivors {
				if duplicate[entry.EntryID] {
					result.Rejected = append(result.Rejected, domain.NotApplied(entry, domain.ErrEntryAlreadyExists))
					continue
				}
				pending = append(pending, entry)
			}
		case errors.Is(err, ErrConflict):
			return nil, domain.ErrOptimisticLock
		default:
			return nil, err
		}
	}
}

// fold walks the batch in input order, accumulating running totals and
// evaluating each entry's conditionals against the balance as it stands right
// after that entry. Rejected entries contribute nothing. Records are stamped
// here, per attempt, so re-commits carry fresh timestamps.
func (r *LedgerRepository) fold(balance *domain.Balance, entries []domain.Entry) (survivors []domain.Entry, records []domain.EntryRecord, rejected []domain.NonAppliedEntry) {
	totals := cloneInt64Map(balance.LedgerBalances)

	for _, entry := range entries {
		for field, amount := range entry.LedgerFields {
			totals[domain.BalanceName(field)] += amount
		}
		if !conditionalsHold(entry.Conditionals, totals) {
			for field, amount := range entry.LedgerFields {
				totals[domain.BalanceName(field)] -= amount
			}
			rejected = append(rejected, domain.NotApplied(entry, domain.ErrConditionFailed))
			continue
		}
		survivors = append(survivors, entry)
		records = append(records, domain.EntryRecord{
			AccountID:        entry.AccountID,
			EntryID:          entry.EntryID,
			LedgerFields:     cloneInt64Map(entry.LedgerFields),
			AdditionalFields: entry.AdditionalFields,
			LedgerBalances:   cloneInt64Map(totals),
			Status:           domain.Applied(),
			CreatedAt:        r.now(),
		})
	}
	return survivors, records, rejected
}

func conditionalsHold(conds []domain.Conditional, totals map[string]int64) bool {
	for _, c := range conds {
		if !c.Evaluate(totals) {
			return false
		}
	}
	return true
}

// nextBalanceOp builds the guarded balance write: first commit of an account
// creates the row, later commits replace it if the version is unchanged. The
// new row snapshots the last applied record, whose LedgerBalances already
// hold the batch's final totals.
func nextBalanceOp(accountID string, loadedVersion int64, last domain.EntryRecord) (Op, error) {
	rec, err := balanceToRecord(domain.Balance{EntryRecord: last, Version: loadedVersion + 1})
	if err != nil {
		return Op{}, err
	}
	if loadedVersion == 0 {
		return PutIfAbsent(BalancePK(accountID), CurrentSK, rec), nil
	}
	return PutIfVersion(BalancePK(accountID), CurrentSK, rec, loadedVersion), nil
}

// loadBalance reads the account's balance row; a missing row yields the zero
// balance with Version 0, which nextBalanceOp treats as row creation.
func (r *LedgerRepository) loadBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	rec, err := r.store.GetItem(ctx, BalancePK(accountID), CurrentSK)
	if errors.Is(err, ErrNotFound) {
		return &domain.Balance{EntryRecord: domain.EntryRecord{
			AccountID:      accountID,
			LedgerBalances: map[string]int64{},
		}}, nil
	}
	if err != nil {
		return nil, err
	}
	balance, err := recordToBalance(rec)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func declaredSchema(b *domain.Balance) map[string]bool {
	if b.Version == 0 {
		return nil
	}
	schema := make(map[string]bool, len(b.LedgerBalances))
	for name := range b.LedgerBalances {
		schema[strings.TrimPrefix(name, domain.BalanceNamePrefix)] = true
	}
	return schema
}

func fieldSet(fields map[string]int64) map[string]bool {
	set := make(map[string]bool, len(fields))
	for name := range fields {
		set[name] = true
	}
	return set
}

func matchesSchema(schema map[string]bool, fields map[string]int64) bool {
	if len(schema) != len(fields) {
		return false
	}
	for name := range fields {
		if !schema[name] {
			return false
		}
	}
	return true
}
