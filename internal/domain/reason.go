package domain

import (
	"errors"
	"fmt"
)

// ReasonCode is the stable wire code attached to each non-applied entry.
type ReasonCode int

const (
	ReasonConflict        ReasonCode = 100
	ReasonAlreadyExists   ReasonCode = 200
	ReasonConditionFailed ReasonCode = 201
	ReasonSchemaMismatch  ReasonCode = 202
	ReasonInvalidStatus   ReasonCode = 205
	ReasonEntryNotFound   ReasonCode = 300
	ReasonInternal        ReasonCode = 900
)

// String names the reason kind for logs and metric labels.
func (c ReasonCode) String() string {
	switch c {
	case ReasonConflict:
		return "conflict"
	case ReasonAlreadyExists:
		return "already_exists"
	case ReasonConditionFailed:
		return "condition_failed"
	case ReasonSchemaMismatch:
		return "schema_mismatch"
	case ReasonInvalidStatus:
		return "invalid_status"
	case ReasonEntryNotFound:
		return "entry_not_found"
	default:
		return "internal"
	}
}

// NonAppliedEntry is the verdict for a pushed entry that did not apply. It
// echoes the original request so callers can fix and resubmit.
type NonAppliedEntry struct {
	Entry   Entry
	Code    ReasonCode
	Message string
}

// NonAppliedDelete is the verdict for a delete request that did not apply.
type NonAppliedDelete struct {
	Request DeleteEntryRequest
	Code    ReasonCode
	Message string
}

// Reason maps an error to its wire code and message. Unrecognized errors fall
// through to ReasonInternal.
func Reason(err error) (ReasonCode, string) {
	switch {
	case errors.Is(err, ErrOptimisticLock):
		return ReasonConflict, "Optimistic lock failed. Try again later"
	case errors.Is(err, ErrEntryAlreadyExists):
		return ReasonAlreadyExists, "Entry already exists for this account"
	case errors.Is(err, ErrConditionFailed):
		return ReasonConditionFailed, "Condition failed for this entry"
	case errors.Is(err, ErrSchemaMismatch):
		return ReasonSchemaMismatch, "Ledger fields do not match the account schema"
	case errors.Is(err, ErrInvalidStatus):
		return ReasonInvalidStatus, "Entry is not in applied status"
	case errors.Is(err, ErrEntryNotFound):
		return ReasonEntryNotFound, "Entry does not exists or reverted for this account"
	default:
		return ReasonInternal, fmt.Sprintf("Other unexpected error: %v", err)
	}
}

// NotApplied builds the verdict for a single entry from an error.
func NotApplied(entry Entry, err error) NonAppliedEntry {
	code, msg := Reason(err)
	return NonAppliedEntry{Entry: entry, Code: code, Message: msg}
}

// DeleteNotApplied builds the verdict for a single delete request from an
// error.
func DeleteNotApplied(req DeleteEntryRequest, err error) NonAppliedDelete {
	code, msg := Reason(err)
	return NonAppliedDelete{Request: req, Code: code, Message: msg}
}
