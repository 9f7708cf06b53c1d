package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Order is a listing direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder parses a query-string order value; empty defaults to desc.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", string(OrderDesc):
		return OrderDesc, nil
	case string(OrderAsc):
		return OrderAsc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrder, s)
}

const datePartitionLayout = "2006-01-02"

// DatePartition formats the UTC day bucket a timestamp falls into.
func DatePartition(t time.Time) string {
	return t.UTC().Format(datePartitionLayout)
}

// ParseDatePartition parses a DatePartition day back into a UTC time.
func ParseDatePartition(s string) (time.Time, error) {
	return time.ParseInLocation(datePartitionLayout, s, time.UTC)
}

// EntriesQuery describes one page request of an account's entry listing.
// Either Cursor is set, or StartDate/EndDate bound a fresh listing.
type EntriesQuery struct {
	AccountID string
	StartDate time.Time
	EndDate   time.Time
	Order     Order
	Limit     int
	Cursor    *EntriesCursor
}

// EntriesCursor resumes a date-ranged entry listing. Date names the day
// partition the listing stopped in; Token resumes inside that partition and
// is opaque to everything but the storage backend that minted it.
type EntriesCursor struct {
	AccountID string    `json:"account_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Date      string    `json:"date"`
	Token     string    `json:"token,omitempty"`
	Order     Order     `json:"order"`
}

// EntryCursor resumes a single entry's history listing.
type EntryCursor struct {
	AccountID string `json:"account_id"`
	EntryID   string `json:"entry_id"`
	Token     string `json:"token,omitempty"`
}

// Encode serializes the cursor as opaque base64url JSON.
func (c EntriesCursor) Encode() (string, error) { return encodeCursor(c) }

// Encode serializes the cursor as opaque base64url JSON.
func (c EntryCursor) Encode() (string, error) { return encodeCursor(c) }

func encodeCursor(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeEntriesCursor rejects cursors that are malformed or describe an
// impossible listing state.
func DecodeEntriesCursor(s string) (EntriesCursor, error) {
	var c EntriesCursor
	if err := decodeCursor(s, &c); err != nil {
		return EntriesCursor{}, err
	}
	if c.AccountID == "" || c.StartDate.IsZero() || c.EndDate.IsZero() {
		return EntriesCursor{}, fmt.Errorf("%w: missing fields", ErrInvalidCursor)
	}
	if c.Order != OrderAsc && c.Order != OrderDesc {
		return EntriesCursor{}, fmt.Errorf("%w: bad order %q", ErrInvalidCursor, c.Order)
	}
	if c.EndDate.Before(c.StartDate) {
		return EntriesCursor{}, fmt.Errorf("%w: inverted date range", ErrInvalidCursor)
	}
	day, err := ParseDatePartition(c.Date)
	if err != nil || DatePartition(day) != c.Date {
		return EntriesCursor{}, fmt.Errorf("%w: bad date partition %q", ErrInvalidCursor, c.Date)
	}
	if c.Date < DatePartition(c.StartDate) || c.Date > DatePartition(c.EndDate) {
		return EntriesCursor{}, fmt.Errorf("%w: date partition outside range", ErrInvalidCursor)
	}
	return c, nil
}

// DecodeEntryCursor rejects malformed history cursors.
func DecodeEntryCursor(s string) (EntryCursor, error) {
	var c EntryCursor
	if err := decodeCursor(s, &c); err != nil {
		return EntryCursor{}, err
	}
	if c.AccountID == "" || c.EntryID == "" {
		return EntryCursor{}, fmt.Errorf("%w: missing fields", ErrInvalidCursor)
	}
	return c, nil
}

func decodeCursor(s string, v any) error {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return nil
}
