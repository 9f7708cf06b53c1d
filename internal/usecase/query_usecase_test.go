package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iho/kvledger/internal/domain"
	"github.com/iho/kvledger/internal/usecase"
)

func TestGetBalance(t *testing.T) {
	ledger := &stubLedger{
		getBalanceFn: func(accountID string) (*domain.Balance, error) {
			if accountID != acctA {
				return nil, domain.ErrAccountNotFound
			}
			return &domain.Balance{
				EntryRecord: domain.EntryRecord{
					AccountID:      acctA,
					LedgerBalances: map[string]int64{"balance_amount": 500},
				},
				Version: 3,
			}, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	balance, err := uc.GetBalance(context.Background(), acctA)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.LedgerBalances["balance_amount"] != 500 {
		t.Errorf("balance_amount = %d, want 500", balance.LedgerBalances["balance_amount"])
	}

	if _, err := uc.GetBalance(context.Background(), acctB); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("unknown account: err = %v, want ErrAccountNotFound", err)
	}
	if _, err := uc.GetBalance(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrInvalidAccountID) {
		t.Errorf("bad id: err = %v, want ErrInvalidAccountID", err)
	}
}

func TestGetBalanceCanonicalizesAccountID(t *testing.T) {
	var seen string
	ledger := &stubLedger{
		getBalanceFn: func(accountID string) (*domain.Balance, error) {
			seen = accountID
			return &domain.Balance{}, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	upper := "7F9C24E5-2F15-41A6-BD1F-D2A1F0B73C3D"
	if _, err := uc.GetBalance(context.Background(), upper); err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if seen != acctA {
		t.Errorf("repository saw %q, want canonical %q", seen, acctA)
	}
}

func TestGetEntryHistory(t *testing.T) {
	records := []domain.EntryRecord{
		{AccountID: acctA, EntryID: "e1", Status: domain.Applied(), Sequence: 2},
		{AccountID: acctA, EntryID: "e1", Status: domain.Revert(0), Sequence: 1},
	}
	ledger := &stubLedger{
		getEntryFn: func(accountID, entryID string, limit int, cursor *domain.EntryCursor) ([]domain.EntryRecord, *domain.EntryCursor, error) {
			if accountID != acctA || entryID != "e1" {
				return nil, nil, nil
			}
			if cursor == nil {
				return records[:1], &domain.EntryCursor{AccountID: acctA, EntryID: "e1", Token: "t1"}, nil
			}
			return records[1:], nil, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	first, err := uc.GetEntryHistory(context.Background(), usecase.EntryHistoryInput{AccountID: acctA, EntryID: "e1", Limit: 1})
	if err != nil {
		t.Fatalf("GetEntryHistory: %v", err)
	}
	if len(first.Records) != 1 || first.Records[0].Sequence != 2 {
		t.Fatalf("first page = %+v, want the newest record", first.Records)
	}
	if first.NextCursor == "" {
		t.Fatal("first page has no cursor")
	}

	second, err := uc.GetEntryHistory(context.Background(), usecase.EntryHistoryInput{
		AccountID: acctA, EntryID: "e1", Limit: 1, Cursor: first.NextCursor,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Records) != 1 || second.Records[0].Sequence != 1 {
		t.Fatalf("second page = %+v, want the archived record", second.Records)
	}
	if second.NextCursor != "" {
		t.Errorf("last page cursor = %q, want empty", second.NextCursor)
	}
}

func TestGetEntryHistoryRejectsForeignCursor(t *testing.T) {
	uc := usecase.NewQueryUseCase(&stubLedger{})

	cursor, err := domain.EntryCursor{AccountID: acctB, EntryID: "e1"}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = uc.GetEntryHistory(context.Background(), usecase.EntryHistoryInput{
		AccountID: acctA, EntryID: "e1", Cursor: cursor,
	})
	if !errors.Is(err, domain.ErrInvalidCursor) {
		t.Errorf("err = %v, want ErrInvalidCursor", err)
	}
}

func TestGetEntryHistoryValidatesInput(t *testing.T) {
	uc := usecase.NewQueryUseCase(&stubLedger{})

	tests := []struct {
		name string
		in   usecase.EntryHistoryInput
		want error
	}{
		{"bad account", usecase.EntryHistoryInput{AccountID: "nope", EntryID: "e1"}, domain.ErrInvalidAccountID},
		{"empty entry id", usecase.EntryHistoryInput{AccountID: acctA, EntryID: ""}, domain.ErrInvalidEntryID},
		{"limit too large", usecase.EntryHistoryInput{AccountID: acctA, EntryID: "e1", Limit: 300}, domain.ErrInvalidLimit},
		{"negative limit", usecase.EntryHistoryInput{AccountID: acctA, EntryID: "e1", Limit: -1}, domain.ErrInvalidLimit},
		{"garbage cursor", usecase.EntryHistoryInput{AccountID: acctA, EntryID: "e1", Cursor: "!!"}, domain.ErrInvalidCursor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := uc.GetEntryHistory(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestListEntries(t *testing.T) {
	var seen domain.EntriesQuery
	ledger := &stubLedger{
		listFn: func(q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error) {
			seen = q
			return []domain.EntryRecord{{AccountID: q.AccountID, EntryID: "e1"}}, nil, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	out, err := uc.ListEntries(context.Background(), usecase.ListEntriesInput{
		AccountID: acctA,
		StartDate: "2024-05-01T00:00:00Z",
		EndDate:   "2024-05-02T00:00:00Z",
		Order:     "asc",
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(out.Records) != 1 || out.NextCursor != "" {
		t.Fatalf("out = %+v, want one record and no cursor", out)
	}
	if seen.Order != domain.OrderAsc || seen.Limit != 10 {
		t.Errorf("query = %+v, want asc limit 10", seen)
	}
	if !seen.StartDate.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartDate = %v", seen.StartDate)
	}
}

func TestListEntriesDefaults(t *testing.T) {
	var seen domain.EntriesQuery
	ledger := &stubLedger{
		listFn: func(q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error) {
			seen = q
			return nil, nil, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	_, err := uc.ListEntries(context.Background(), usecase.ListEntriesInput{
		AccountID: acctA,
		StartDate: "2024-05-01T00:00:00Z",
		EndDate:   "2024-05-02T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if seen.Order != domain.OrderDesc {
		t.Errorf("default order = %q, want desc", seen.Order)
	}
	if seen.Limit != usecase.DefaultQueryLimit {
		t.Errorf("default limit = %d, want %d", seen.Limit, usecase.DefaultQueryLimit)
	}
}

func TestListEntriesWithCursor(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	cursor := domain.EntriesCursor{
		AccountID: acctA,
		StartDate: start,
		EndDate:   end,
		Date:      "2024-05-02",
		Token:     "resume",
		Order:     domain.OrderAsc,
	}
	encoded, err := cursor.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var seen domain.EntriesQuery
	ledger := &stubLedger{
		listFn: func(q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error) {
			seen = q
			return nil, nil, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	_, err = uc.ListEntries(context.Background(), usecase.ListEntriesInput{AccountID: acctA, Cursor: encoded})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if seen.Cursor == nil || seen.Cursor.Token != "resume" || seen.Cursor.Date != "2024-05-02" {
		t.Fatalf("query cursor = %+v, want the decoded cursor", seen.Cursor)
	}
	if seen.Order != domain.OrderAsc {
		t.Errorf("order = %q, want the cursor's order", seen.Order)
	}
}

func TestListEntriesValidation(t *testing.T) {
	uc := usecase.NewQueryUseCase(&stubLedger{})

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	valid, err := domain.EntriesCursor{
		AccountID: acctA, StartDate: start, EndDate: start.Add(24 * time.Hour),
		Date: "2024-05-01", Order: domain.OrderDesc,
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	foreign, err := domain.EntriesCursor{
		AccountID: acctB, StartDate: start, EndDate: start.Add(24 * time.Hour),
		Date: "2024-05-01", Order: domain.OrderDesc,
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		in   usecase.ListEntriesInput
		want error
	}{
		{"bad account", usecase.ListEntriesInput{AccountID: "nope"}, domain.ErrInvalidAccountID},
		{"missing dates", usecase.ListEntriesInput{AccountID: acctA}, domain.ErrInvalidDateRange},
		{"missing end date", usecase.ListEntriesInput{AccountID: acctA, StartDate: "2024-05-01T00:00:00Z"}, domain.ErrInvalidDateRange},
		{"bad start date", usecase.ListEntriesInput{AccountID: acctA, StartDate: "yesterday", EndDate: "2024-05-02T00:00:00Z"}, domain.ErrInvalidDateRange},
		{"inverted range", usecase.ListEntriesInput{AccountID: acctA, StartDate: "2024-05-02T00:00:00Z", EndDate: "2024-05-01T00:00:00Z"}, domain.ErrInvalidDateRange},
		{"bad order", usecase.ListEntriesInput{AccountID: acctA, StartDate: "2024-05-01T00:00:00Z", EndDate: "2024-05-02T00:00:00Z", Order: "sideways"}, domain.ErrInvalidOrder},
		{"limit too large", usecase.ListEntriesInput{AccountID: acctA, StartDate: "2024-05-01T00:00:00Z", EndDate: "2024-05-02T00:00:00Z", Limit: 256}, domain.ErrInvalidLimit},
		{"cursor plus dates", usecase.ListEntriesInput{AccountID: acctA, Cursor: valid, StartDate: "2024-05-01T00:00:00Z"}, domain.ErrInvalidDateRange},
		{"garbage cursor", usecase.ListEntriesInput{AccountID: acctA, Cursor: "!!"}, domain.ErrInvalidCursor},
		{"foreign cursor", usecase.ListEntriesInput{AccountID: acctA, Cursor: foreign}, domain.ErrInvalidCursor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := uc.ListEntries(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestListEntriesEncodesNextCursor(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	next := &domain.EntriesCursor{
		AccountID: acctA, StartDate: start, EndDate: start.Add(48 * time.Hour),
		Date: "2024-05-01", Token: "t", Order: domain.OrderDesc,
	}
	ledger := &stubLedger{
		listFn: func(q domain.EntriesQuery) ([]domain.EntryRecord, *domain.EntriesCursor, error) {
			return []domain.EntryRecord{{AccountID: acctA, EntryID: "e1"}}, next, nil
		},
	}
	uc := usecase.NewQueryUseCase(ledger)

	out, err := uc.ListEntries(context.Background(), usecase.ListEntriesInput{
		AccountID: acctA,
		StartDate: "2024-05-01T00:00:00Z",
		EndDate:   "2024-05-03T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if out.NextCursor == "" {
		t.Fatal("NextCursor is empty")
	}
	decoded, err := domain.DecodeEntriesCursor(out.NextCursor)
	if err != nil {
		t.Fatalf("DecodeEntriesCursor: %v", err)
	}
	if decoded.Token != "t" || decoded.Date != "2024-05-01" {
		t.Errorf("decoded = %+v", decoded)
	}
}
