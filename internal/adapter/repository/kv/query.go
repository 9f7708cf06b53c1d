package kv

import (
	"context"
	"errors"

	"github.com/iho/kvledger/internal/domain"
)

// GetBalance returns the account's live aggregate row.
func (r *LedgerRepository) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	rec, err := r.store.GetItem(ctx, BalancePK(accountID), CurrentSK)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrAccountNotFound
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

// GetEntry pages over one entry's chain newest-first: the live record, if
// any, followed by history in descending sequence order.
func (r *LedgerRepository) GetEntry(ctx context.Context, accountID, entryID string, limit int, cursor *domain.EntryCursor) ([]domain.EntryRecord, *domain.EntryCursor, error) {
	in := QueryInput{
		PK:    EntryPK(accountID, entryID),
		Desc:  true,
		Limit: limit,
	}
	if cursor != nil {
		in.StartToken = cursor.Token
	}
	page, err := r.store.Query(ctx, in)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, nil, domain.ErrInvalidCursor
		}
		return nil, nil, err
	}
	records, err := recordsToEntries(page.Records)
	if err != nil {
		return nil, nil, err
	}
	var next *domain.EntryCursor
	if page.NextToken != "" {
		next = &domain.EntryCursor{AccountID: accountID, EntryID: entryID, Token: page.NextToken}
	}
	return records, next, nil
}

// ListEntries walks the account's day partitions across the query window,
// filling up to Limit records. A non-nil cursor comes back whenever a
// partition was left mid-page or untouched partitions remain, so a caller
// paging to the end sees every record exactly once.
func (r *LedgerRepository) ListEntries(ctx context.Context, q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error) {
	start, end := q.StartDate.UTC(), q.EndDate.UTC()
	order := q.Order
	token := ""
	var date string
	if q.Cursor != nil {
		start, end = q.Cursor.StartDate.UTC(), q.Cursor.EndDate.UTC()
		order = q.Cursor.Order
		date = q.Cursor.Date
		token = q.Cursor.Token
	} else if order == domain.OrderDesc {
		date = domain.DatePartition(end)
	} else {
		date = domain.DatePartition(start)
	}

	skFrom, skTo := FormatTime(start), FormatTime(end)
	firstDay, lastDay := domain.DatePartition(start), domain.DatePartition(end)

	var entries []domain.EntryRecord
	remaining := q.Limit
	for remaining > 0 {
		page, err := r.store.QueryIndex(ctx, r.index, QueryInput{
			PK:         GSIPKForDate(q.AccountID, date),
			SKFrom:     skFrom,
			SKTo:       skTo,
			Desc:       order == domain.OrderDesc,
			Limit:      remaining,
			StartToken: token,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				return nil, nil, domain.ErrInvalidCursor
			}
			return nil, nil, err
		}
		batch, err := recordsToEntries(page.Records)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, batch...)
		remaining -= len(batch)
		token = page.NextToken

		if token == "" {
			next, ok := nextPartition(date, firstDay, lastDay, order)
			if !ok {
				return entries, nil, nil
			}
			date = next
		}
		if remaining == 0 {
			cursor := &domain.EntriesCursor{
				AccountID: q.AccountID,
				StartDate: start,
				EndDate:   end,
				Date:      date,
				Token:     token,
				Order:     order,
			}
			return entries, cursor, nil
		}
	}
	return entries, nil, nil
}

// nextPartition steps one UTC day in listing order, reporting false past the
// edge of the window.
func nextPartition(date, firstDay, lastDay string, order domain.Order) (string, bool) {
	day, err := domain.ParseDatePartition(date)
	if err != nil {
		return "", false
	}
	if order == domain.OrderDesc {
		next := domain.DatePartition(day.AddDate(0, 0, -1))
		if next < firstDay {
			return "", false
		}
		return next, true
	}
	next := domain.DatePartition(day.AddDate(0, 0, 1))
	if next > lastDay {
		return "", false
	}
	return next, true
}
