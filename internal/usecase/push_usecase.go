package usecase

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iho/kvledger/internal/domain"
	"github.com/iho/kvledger/internal/infrastructure/metrics"
)

// PushUseCase applies batches of ledger entries. It groups the request by
// account, drives each group through the repository under bounded retry, and
// reassembles per-entry verdicts in request order.
type PushUseCase struct {
	ledger      LedgerRepository
	retrier     Retrier
	metrics     *metrics.Metrics
	parallelism int
	timeout     time.Duration
}

// NewPushUseCase creates a new PushUseCase. metrics may be nil.
func NewPushUseCase(ledger LedgerRepository, retrier Retrier, m *metrics.Metrics) *PushUseCase {
	return &PushUseCase{
		ledger:      ledger,
		retrier:     retrier,
		metrics:     m,
		parallelism: DefaultParallelism,
		timeout:     DefaultRequestTimeout,
	}
}

// WithParallelism bounds concurrent account groups.
func (uc *PushUseCase) WithParallelism(n int) *PushUseCase {
	if n > 0 {
		uc.parallelism = n
	}
	return uc
}

// WithTimeout caps one push end to end; zero disables the cap.
func (uc *PushUseCase) WithTimeout(d time.Duration) *PushUseCase {
	uc.timeout = d
	return uc
}

// PushOutput carries the verdicts of one push, each list in request order.
type PushOutput struct {
	Applied    []domain.EntryRecord
	NonApplied []domain.NonAppliedEntry
}

// entryVerdict is the outcome slot for one request index. Exactly one of the
// two fields is set once the index has been processed.
type entryVerdict struct {
	applied  *domain.EntryRecord
	rejected *domain.NonAppliedEntry
}

// Push applies the entries. Individual failures are reported as data; the
// returned error is reserved for request-level breakage.
func (uc *PushUseCase) Push(ctx context.Context, entries []domain.Entry) (*PushOutput, error) {
	start := time.Now()
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	// Group indexes by account, preserving per-account input order.
	groups := make(map[string][]int)
	accounts := make([]string, 0)
	for i, e := range entries {
		if _, ok := groups[e.AccountID]; !ok {
			accounts = append(accounts, e.AccountID)
		}
		groups[e.AccountID] = append(groups[e.AccountID], i)
	}

	verdicts := make([]entryVerdict, len(entries))

	var g errgroup.Group
	g.SetLimit(uc.parallelism)
	for _, accountID := range accounts {
		accountID := accountID
		idxs := groups[accountID]
		g.Go(func() error {
			uc.pushAccount(ctx, accountID, idxs, entries, verdicts)
			return nil
		})
	}
	// Goroutines report through verdict slots, never through errors.
	_ = g.Wait()

	out := &PushOutput{}
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
		uc.metrics.PushBatchSize.Observe(float64(len(entries)))
		uc.metrics.PushDuration.Observe(time.Since(start).Seconds())
		uc.metrics.EntriesApplied.Add(float64(len(out.Applied)))
		for _, rej := range out.NonApplied {
			uc.metrics.EntriesRejected.WithLabelValues(rej.Code.String()).Inc()
		}
	}
	return out, nil
}

// pushAccount commits one account's entries. Repeated entry ids within the
// group are split into waves so occurrences apply in input order: the first
// commits, the second then collides with it.
func (uc *PushUseCase) pushAccount(ctx context.Context, accountID string, idxs []int, entries []domain.Entry, verdicts []entryVerdict) {
	ids := func(idx int) string { return entries[idx].EntryID }
	for _, wave := range splitWaves(idxs, ids) {
		for start := 0; start < len(wave); start += MaxEntriesPerCommit {
			chunk := wave[start:min(start+MaxEntriesPerCommit, len(wave))]
			uc.commitChunk(ctx, accountID, chunk, entries, verdicts)
		}
	}
}

func (uc *PushUseCase) commitChunk(ctx context.Context, accountID string, chunk []int, entries []domain.Entry, verdicts []entryVerdict) {
	batch := make([]domain.Entry, 0, len(chunk))
	for _, idx := range chunk {
		batch = append(batch, entries[idx])
	}

	var res *domain.AppendResult
	err := uc.retrier.Retry(ctx, func() error {
		r, err := uc.ledger.AppendEntries(ctx, accountID, batch)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		err = classifyGroupError(err)
		for _, idx := range chunk {
			rej := domain.NotApplied(entries[idx], err)
			verdicts[idx].rejected = &rej
		}
		return
	}

	// Entry ids are unique within a chunk, so they map back to indexes.
	byEntryID := make(map[string]int, len(chunk))
	for _, idx := range chunk {
		byEntryID[entries[idx].EntryID] = idx
	}
	for i := range res.Applied {
		rec := res.Applied[i]
		verdicts[byEntryID[rec.EntryID]].applied = &rec
	}
	for i := range res.Rejected {
		rej := res.Rejected[i]
		verdicts[byEntryID[rej.Entry.EntryID]].rejected = &rej
	}
}

// classifyGroupError folds whole-group failures into the per-entry reason
// vocabulary: exhausted retries and request deadlines read as lock conflicts,
// anything else stays internal.
func classifyGroupError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOptimisticLock),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.ErrOptimisticLock
	default:
		return err
	}
}

// splitWaves partitions a group's indexes by id occurrence: the k-th use of
// an id lands in wave k. Waves run sequentially; within one wave every id is
// unique.
func splitWaves(idxs []int, id func(int) string) [][]int {
	var waves [][]int
	occurrence := make(map[string]int, len(idxs))
	for _, idx := range idxs {
		k := occurrence[id(idx)]
		occurrence[id(idx)] = k + 1
		if k == len(waves) {
			waves = append(waves, nil)
		}
		waves[k] = append(waves[k], idx)
	}
	return waves
}
