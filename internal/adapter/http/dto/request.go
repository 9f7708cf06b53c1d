package dto

import (
	"encoding/json"

	"github.com/iho/kvledger/internal/domain"
)

// EntryRequest is the wire form of one pushed entry.
type EntryRequest struct {
	AccountID        string                     `json:"account_id"`
	EntryID          string                     `json:"entry_id"`
	LedgerFields     map[string]int64           `json:"ledger_fields"`
	AdditionalFields map[string]json.RawMessage `json:"additional_fields,omitempty"`
	Conditionals     []Conditional              `json:"conditionals,omitempty"`
}

// Conditional is the wire form of a push predicate.
type Conditional struct {
	GreaterThanOrEqualTo *GreaterThanOrEqualTo `json:"greater_than_or_equal_to,omitempty"`
}

// GreaterThanOrEqualTo gates an entry on a post-application balance floor.
type GreaterThanOrEqualTo struct {
	Balance string `json:"balance"`
	Value   int64  `json:"value"`
}

// ToDomain converts to the domain entry.
func (r *EntryRequest) ToDomain() domain.Entry {
	e := domain.Entry{
		AccountID:        r.AccountID,
		EntryID:          r.EntryID,
		LedgerFields:     r.LedgerFields,
		AdditionalFields: r.AdditionalFields,
	}
	for _, c := range r.Conditionals {
		dc := domain.Conditional{}
		if c.GreaterThanOrEqualTo != nil {
			dc.GreaterThanOrEqualTo = &domain.GreaterThanOrEqualTo{
				Balance: c.GreaterThanOrEqualTo.Balance,
				Value:   c.GreaterThanOrEqualTo.Value,
			}
		}
		e.Conditionals = append(e.Conditionals, dc)
	}
	return e
}

// EntryRequestFromDomain echoes a domain entry back into its wire form, used
// when reporting per-entry failures.
func EntryRequestFromDomain(e domain.Entry) EntryRequest {
	r := EntryRequest{
		AccountID:        e.AccountID,
		EntryID:          e.EntryID,
		LedgerFields:     e.LedgerFields,
		AdditionalFields: e.AdditionalFields,
	}
	for _, c := range e.Conditionals {
		wc := Conditional{}
		if c.GreaterThanOrEqualTo != nil {
			wc.GreaterThanOrEqualTo = &GreaterThanOrEqualTo{
				Balance: c.GreaterThanOrEqualTo.Balance,
				Value:   c.GreaterThanOrEqualTo.Value,
			}
		}
		r.Conditionals = append(r.Conditionals, wc)
	}
	return r
}

// DeleteEntryRequest is the wire form of one delete target.
type DeleteEntryRequest struct {
	AccountID string `json:"account_id"`
	EntryID   string `json:"entry_id"`
}

// ToDomain converts to the domain delete request.
func (r *DeleteEntryRequest) ToDomain() domain.DeleteEntryRequest {
	return domain.DeleteEntryRequest{AccountID: r.AccountID, EntryID: r.EntryID}
}
