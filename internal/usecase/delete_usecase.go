package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iho/kvledger/internal/domain"
	"github.com/iho/kvledger/internal/infrastructure/metrics"
)

// DeleteUseCase reverts live ledger entries: each targeted entry is archived
// next to a compensating record and its effect is removed from the balance.
type DeleteUseCase struct {
	ledger      LedgerRepository
	retrier     Retrier
	metrics     *metrics.Metrics
	parallelism int
	timeout     time.Duration
}

// NewDeleteUseCase creates a new DeleteUseCase. metrics may be nil.
func NewDeleteUseCase(ledger LedgerRepository, retrier Retrier, m *metrics.Metrics) *DeleteUseCase {
	return &DeleteUseCase{
		ledger:      ledger,
		retrier:     retrier,
		metrics:     m,
		parallelism: DefaultParallelism,
		timeout:     DefaultRequestTimeout,
	}
}

// WithParallelism bounds concurrent account groups.
func (uc *DeleteUseCase) WithParallelism(n int) *DeleteUseCase {
	if n > 0 {
		uc.parallelism = n
	}
	return uc
}

// WithTimeout caps one delete end to end; zero disables the cap.
func (uc *DeleteUseCase) WithTimeout(d time.Duration) *DeleteUseCase {
	uc.timeout = d
	return uc
}

// DeleteOutput carries the verdicts of one delete. Applied holds the
// compensating records written for successfully reverted entries.
type DeleteOutput struct {
	Applied    []domain.EntryRecord
	NonApplied []domain.NonAppliedDelete
}

type deleteVerdict struct {
	applied  *domain.EntryRecord
	rejected *domain.NonAppliedDelete
}

// Delete reverts the referenced entries. Individual failures are reported as
// data; the returned error is reserved for request-level breakage.
func (uc *DeleteUseCase) Delete(ctx context.Context, reqs []domain.DeleteEntryRequest) (*DeleteOutput, error) {
	start := time.Now()
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	groups := make(map[string][]int)
	accounts := make([]string, 0)
	for i, req := range reqs {
		if _, ok := groups[req.AccountID]; !ok {
			accounts = append(accounts, req.AccountID)
		}
		groups[req.AccountID] = append(groups[req.AccountID], i)
	}

	verdicts := make([]deleteVerdict, len(reqs))

	var g errgroup.Group
	g.SetLimit(uc.parallelism)
	for _, accountID := range accounts {
		accountID := accountID
		idxs := groups[accountID]
		g.Go(func() error {
			uc.deleteAccount(ctx, accountID, idxs, reqs, verdicts)
			return nil
		})
	}
	_ = g.Wait()

	out := &DeleteOutput{}
	for _, v := range verdicts {
		if v.applied != nil {
			out.Applied = append(out.Applied, *v.applied)
		}
	}
	for _, v := range verdicts {
		if v.rejected != nil {
			out.NonApplied = append(out.NonApplied, *v.rejected)
		}
	}

	if uc.metrics != nil {
		uc.metrics.DeleteDuration.Observe(time.Since(start).Seconds())
		uc.metrics.EntriesReverted.Add(float64(len(out.Applied)))
		for _, rej := range out.NonApplied {
			uc.metrics.EntriesRejected.WithLabelValues(rej.Code.String()).Inc()
		}
	}
	return out, nil
}

// deleteAccount reverts one account's targets. Repeated entry ids within the
// group go to separate waves; a second occurrence then finds no live entry
// left and is rejected on its own merits.
func (uc *DeleteUseCase) deleteAccount(ctx context.Context, accountID string, idxs []int, reqs []domain.DeleteEntryRequest, verdicts []deleteVerdict) {
	ids := func(idx int) string { return reqs[idx].EntryID }
	for _, wave := range splitWaves(idxs, ids) {
		for start := 0; start < len(wave); start += MaxDeletesPerCommit {
			chunk := wave[start:min(start+MaxDeletesPerCommit, len(wave))]
			uc.revertChunk(ctx, accountID, chunk, reqs, verdicts)
		}
	}
}

func (uc *DeleteUseCase) revertChunk(ctx context.Context, accountID string, chunk []int, reqs []domain.DeleteEntryRequest, verdicts []deleteVerdict) {
	batch := make([]domain.DeleteEntryRequest, 0, len(chunk))
	for _, idx := range chunk {
		batch = append(batch, reqs[idx])
	}

	var res *domain.RevertResult
	err := uc.retrier.Retry(ctx, func() error {
		r, err := uc.ledger.RevertEntries(ctx, accountID, batch)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		err = classifyGroupError(err)
		for _, idx := range chunk {
			rej := domain.DeleteNotApplied(reqs[idx], err)
			verdicts[idx].rejected = &rej
		}
		return
	}

	byEntryID := make(map[string]int, len(chunk))
	for _, idx := range chunk {
		byEntryID[reqs[idx].EntryID] = idx
	}
	for i := range res.Applied {
		rec := res.Applied[i]
		verdicts[byEntryID[rec.EntryID]].applied = &rec
	}
	for i := range res.Rejected {
		rej := res.Rejected[i]
		verdicts[byEntryID[rej.Request.EntryID]].rejected = &rej
	}
}
