package usecase

import (
	"context"
	"time"

	"github.com/iho/kvledger/internal/domain"
)

// LedgerRepository defines the storage protocol for ledger entries and
// balances. One call works against exactly one account; atomicity is
// per call.
type LedgerRepository interface {
	// AppendEntries folds a batch into the account balance and commits
	// entries plus balance as one transaction. Lost optimistic locks
	// surface as domain.ErrOptimisticLock.
	AppendEntries(ctx context.Context, accountID string, entries []domain.Entry) (*domain.AppendResult, error)
	// RevertEntries archives live entries together with compensating
	// records and commits the reduced balance.
	RevertEntries(ctx context.Context, accountID string, reqs []domain.DeleteEntryRequest) (*domain.RevertResult, error)
	// GetBalance loads the account's live aggregate row.
	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
	// GetEntry pages over one entry's chain, newest first.
	GetEntry(ctx context.Context, accountID, entryID string, limit int, cursor *domain.EntryCursor) ([]domain.EntryRecord, *domain.EntryCursor, error)
	// ListEntries pages over an account's entries within a date window.
	ListEntries(ctx context.Context, q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error)
}

// Retrier re-runs a commit operation on retryable failures.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}
