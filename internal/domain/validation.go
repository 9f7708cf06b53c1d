package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants
const (
	MaxEntryIDLength = 64
	// BalanceNamePrefix distinguishes running totals from the ledger fields
	// that feed them.
	BalanceNamePrefix = "balance_"
	// keySeparator is reserved: it delimits segments inside partition keys.
	keySeparator = "|"
)

// ValidateAccountID checks that the account id is a UUID and returns its
// canonical form.
func ValidateAccountID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountID, id)
	}
	return parsed.String(), nil
}

// ValidateEntryID enforces length and charset rules for entry ids; the id is
// embedded verbatim in partition keys.
func ValidateEntryID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEntryID)
	}
	if len(id) > MaxEntryIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidEntryID, MaxEntryIDLength)
	}
	if strings.Contains(id, keySeparator) {
		return fmt.Errorf("%w: must not contain %q", ErrInvalidEntryID, keySeparator)
	}
	return nil
}

// ValidateFieldName enforces ledger field naming: non-empty, no key
// separator, never named like a balance total.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFieldName)
	}
	if strings.Contains(name, keySeparator) {
		return fmt.Errorf("%w: must not contain %q", ErrInvalidFieldName, keySeparator)
	}
	if strings.HasPrefix(name, BalanceNamePrefix) {
		return fmt.Errorf("%w: %q must not start with %q", ErrInvalidFieldName, name, BalanceNamePrefix)
	}
	return nil
}

// ValidateBalanceName checks a balance total reference as used by
// conditionals.
func ValidateBalanceName(name string) error {
	if !strings.HasPrefix(name, BalanceNamePrefix) {
		return fmt.Errorf("%w: %q must start with %q", ErrInvalidBalanceName, name, BalanceNamePrefix)
	}
	if err := ValidateFieldName(strings.TrimPrefix(name, BalanceNamePrefix)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidBalanceName, name)
	}
	return nil
}

// BalanceName returns the running-total key for a ledger field.
func BalanceName(field string) string { return BalanceNamePrefix + field }

// Validate checks an entry as received from a client and canonicalizes the
// account id in place.
func (e *Entry) Validate() error {
	account, err := ValidateAccountID(e.AccountID)
	if err != nil {
		return err
	}
	e.AccountID = account

	if err := ValidateEntryID(e.EntryID); err != nil {
		return err
	}
	if len(e.LedgerFields) == 0 {
		return fmt.Errorf("%w: at least one ledger field is required", ErrInvalidFieldName)
	}
	for name := range e.LedgerFields {
		if err := ValidateFieldName(name); err != nil {
			return err
		}
	}
	for _, c := range e.Conditionals {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a delete request and canonicalizes the account id in place.
func (r *DeleteEntryRequest) Validate() error {
	account, err := ValidateAccountID(r.AccountID)
	if err != nil {
		return err
	}
	r.AccountID = account
	return ValidateEntryID(r.EntryID)
}
