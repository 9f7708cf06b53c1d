package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/iho/kvledger/internal/domain"
)

// RevertEntries cancels live entries: each one is archived into its history
// chain next to a compensating record with the fields negated, and the live
// row is deleted so the entry id becomes pushable again. The whole batch plus
// the balance update commits as one transaction. Entry ids must be unique
// within one call.
func (r *LedgerRepository) RevertEntries(ctx context.Context, accountID string, reqs []domain.DeleteEntryRequest) (*domain.RevertResult, error) {
	result := &domain.RevertResult{}
	if len(reqs) == 0 {
		return result, nil
	}

	keys := make([]Key, 0, len(reqs))
	for _, req := range reqs {
		keys = append(keys, Key{PK: EntryPK(accountID, req.EntryID), SK: CurrentSK})
	}
	current, err := r.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	type target struct {
		loaded   domain.EntryRecord
		sequence uint64
	}
	targets := make([]target, 0, len(reqs))
	for i, req := range reqs {
		rec, ok := current[keys[i]]
		if !ok {
			result.Rejected = append(result.Rejected, domain.DeleteNotApplied(req, domain.ErrEntryNotFound))
			continue
		}
		loaded, err := recordToEntry(rec)
		if err != nil {
			return nil, err
		}
		if !loaded.Status.IsApplied() {
			result.Rejected = append(result.Rejected, domain.DeleteNotApplied(req, domain.ErrInvalidStatus))
			continue
		}
		targets = append(targets, target{loaded: loaded})
	}
	if len(targets) == 0 {
		return result, nil
	}

	for i := range targets {
		seq, err := r.nextHistorySequence(ctx, accountID, targets[i].loaded.EntryID)
		if err != nil {
			return nil, err
		}
		targets[i].sequence = seq
	}

	balance, err := r.loadBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance.Version == 0 {
		// Live entries only ever commit together with a balance row.
		return nil, fmt.Errorf("account %s has live entries but no balance row", accountID)
	}

	totals := cloneInt64Map(balance.LedgerBalances)
	ops := make([]Op, 0, len(targets)*3+1)
	reverts := make([]domain.EntryRecord, 0, len(targets))
	for _, t := range targets {
		negated := make(map[string]int64, len(t.loaded.LedgerFields))
		for field, amount := range t.loaded.LedgerFields {
			negated[field] = -amount
			totals[domain.BalanceName(field)] -= amount
		}

		// The archived record and its revert cross-reference each other by
		// history sequence.
		archived := t.loaded
		archived.Status = domain.Reverted(t.sequence + 1)
		archived.Sequence = t.sequence

		revert := domain.EntryRecord{
			AccountID:        t.loaded.AccountID,
			EntryID:          t.loaded.EntryID,
			LedgerFields:     negated,
			AdditionalFields: t.loaded.AdditionalFields,
			LedgerBalances:   cloneInt64Map(totals),
			Status:           domain.Revert(t.sequence),
			Sequence:         t.sequence + 1,
			CreatedAt:        r.now(),
		}

		archivedRec, err := entryToRecord(archived)
		if err != nil {
			return nil, err
		}
		revertRec, err := entryToRecord(revert)
		if err != nil {
			return nil, err
		}
		pk := EntryPK(accountID, t.loaded.EntryID)
		ops = append(ops,
			Delete(pk, CurrentSK),
			Put(pk, HistorySK(archived.Sequence), archivedRec),
			Put(pk, HistorySK(revert.Sequence), revertRec),
		)
		reverts = append(reverts, revert)
	}

	balanceOp, err := revertBalanceOp(accountID, balance.Version, reverts[len(reverts)-1])
	if err != nil {
		return nil, err
	}
	ops = append(ops, balanceOp)

	if err := r.store.TransactWrite(ctx, ops); err != nil {
		var precondition *PreconditionError
		if errors.As(err, &precondition) || errors.Is(err, ErrConflict) {
			return nil, domain.ErrOptimisticLock
		}
		return nil, err
	}

	result.Applied = append(result.Applied, reverts...)
	return result, nil
}

func revertBalanceOp(accountID string, loadedVersion int64, last domain.EntryRecord) (Op, error) {
	rec, err := balanceToRecord(domain.Balance{EntryRecord: last, Version: loadedVersion + 1})
	if err != nil {
		return Op{}, err
	}
	return UpdateIfVersion(BalancePK(accountID), CurrentSK, rec, loadedVersion), nil
}

// nextHistorySequence finds the first free history slot of an entry's chain.
func (r *LedgerRepository) nextHistorySequence(ctx context.Context, accountID, entryID string) (uint64, error) {
	from, to := HistoryRange()
	page, err := r.store.Query(ctx, QueryInput{
		PK:     EntryPK(accountID, entryID),
		SKFrom: from,
		SKTo:   to,
		Desc:   true,
		Limit:  1,
	})
	if err != nil {
		return 0, err
	}
	if len(page.Records) == 0 {
		return 0, nil
	}
	seq, ok := page.Records[0].Int64(attrSequence)
	if !ok {
		return 0, fmt.Errorf("history record of %s/%s has no sequence", accountID, entryID)
	}
	return uint64(seq) + 1, nil
}
