package domain

import "errors"

var (
	// Account / balance errors
	ErrAccountNotFound = errors.New("account not found")
	ErrOptimisticLock  = errors.New("optimistic lock failed")

	// Per-entry rejection errors
	ErrEntryAlreadyExists = errors.New("entry already exists for this account")
	ErrEntryNotFound      = errors.New("entry does not exists or reverted for this account")
	ErrConditionFailed    = errors.New("condition failed for this entry")
	ErrSchemaMismatch     = errors.New("ledger fields do not match the account schema")
	ErrInvalidStatus      = errors.New("entry is not in applied status")

	// Request validation errors
	ErrInvalidAccountID   = errors.New("invalid account id")
	ErrInvalidEntryID     = errors.New("invalid entry id")
	ErrInvalidFieldName   = errors.New("invalid ledger field name")
	ErrInvalidBalanceName = errors.New("invalid balance name")
	ErrInvalidConditional = errors.New("invalid conditional")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrInvalidLimit       = errors.New("invalid limit")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidOrder       = errors.New("invalid order")
)
