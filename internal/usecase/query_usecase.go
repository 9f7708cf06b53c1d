package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iho/kvledger/internal/domain"
)

// QueryUseCase serves balance reads, entry listings and per-entry history.
type QueryUseCase struct {
	ledger LedgerRepository
}

// NewQueryUseCase creates a new QueryUseCase.
func NewQueryUseCase(ledger LedgerRepository) *QueryUseCase {
	return &QueryUseCase{ledger: ledger}
}

// GetBalance returns the account's live aggregate row.
func (uc *QueryUseCase) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	account, err := domain.ValidateAccountID(accountID)
	if err != nil {
		return nil, err
	}
	return uc.ledger.GetBalance(ctx, account)
}

// EntryHistoryInput requests one page of an entry's chain.
type EntryHistoryInput struct {
	AccountID string
	EntryID   string
	Limit     int
	Cursor    string
}

// EntryHistoryOutput is one page of an entry's chain, newest first.
// NextCursor is empty on the last page.
type EntryHistoryOutput struct {
	Records    []domain.EntryRecord
	NextCursor string
}

// GetEntryHistory pages over the live record and archived history of one
// entry.
func (uc *QueryUseCase) GetEntryHistory(ctx context.Context, in EntryHistoryInput) (*EntryHistoryOutput, error) {
	account, err := domain.ValidateAccountID(in.AccountID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateEntryID(in.EntryID); err != nil {
		return nil, err
	}
	limit, err := normalizeLimit(in.Limit)
	if err != nil {
		return nil, err
	}

	var cursor *domain.EntryCursor
	if in.Cursor != "" {
		c, err := domain.DecodeEntryCursor(in.Cursor)
		if err != nil {
			return nil, err
		}
		// A cursor resumes the listing it was minted for, nothing else.
		if c.AccountID != account || c.EntryID != in.EntryID {
			return nil, fmt.Errorf("%w: cursor does not match the requested entry", domain.ErrInvalidCursor)
		}
		cursor = &c
	}

	records, next, err := uc.ledger.GetEntry(ctx, account, in.EntryID, limit, cursor)
	if err != nil {
		return nil, err
	}
	out := &EntryHistoryOutput{Records: records}
	if next != nil {
		out.NextCursor, err = next.Encode()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListEntriesInput requests one page of an account's entries. Callers pass
// either Cursor or both dates.
type ListEntriesInput struct {
	AccountID string
	StartDate string
	EndDate   string
	Order     string
	Limit     int
	Cursor    string
}

// ListEntriesOutput is one page of an account's entries. NextCursor is empty
// on the last page.
type ListEntriesOutput struct {
	Records    []domain.EntryRecord
	NextCursor string
}

// ListEntries pages over the account's entries within the requested window.
func (uc *QueryUseCase) ListEntries(ctx context.Context, in ListEntriesInput) (*ListEntriesOutput, error) {
	account, err := domain.ValidateAccountID(in.AccountID)
	if err != nil {
		return nil, err
	}
	limit, err := normalizeLimit(in.Limit)
	if err != nil {
		return nil, err
	}

	q := domain.EntriesQuery{AccountID: account, Limit: limit}
	switch {
	case in.Cursor != "" && (in.StartDate != "" || in.EndDate != "" || in.Order != ""):
		return nil, fmt.Errorf("%w: pass either a cursor or a date range, not both", domain.ErrInvalidDateRange)
	case in.Cursor != "":
		c, err := domain.DecodeEntriesCursor(in.Cursor)
		if err != nil {
			return nil, err
		}
		if c.AccountID != account {
			return nil, fmt.Errorf("%w: cursor does not match the requested account", domain.ErrInvalidCursor)
		}
		q.Cursor = &c
		q.Order = c.Order
	default:
		if in.StartDate == "" || in.EndDate == "" {
			return nil, fmt.Errorf("%w: both start_date and end_date are required", domain.ErrInvalidDateRange)
		}
		start, err := time.Parse(time.RFC3339, in.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: bad start_date %q", domain.ErrInvalidDateRange, in.StartDate)
		}
		end, err := time.Parse(time.RFC3339, in.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: bad end_date %q", domain.ErrInvalidDateRange, in.EndDate)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: end_date precedes start_date", domain.ErrInvalidDateRange)
		}
		order, err := domain.ParseOrder(in.Order)
		if err != nil {
			return nil, err
		}
		q.StartDate, q.EndDate, q.Order = start, end, order
	}

	records, next, err := uc.ledger.ListEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	out := &ListEntriesOutput{Records: records}
	if next != nil {
		out.NextCursor, err = next.Encode()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// normalizeLimit applies the default page size and rejects out-of-range
// limits.
func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultQueryLimit, nil
	}
	if limit < 1 || limit > MaxQueryLimit {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", domain.ErrInvalidLimit, limit, MaxQueryLimit)
	}
	return limit, nil
}
