package domain

import (
	"encoding/json"
	"fmt"
)

// StatusKind enumerates the lifecycle states of a ledger entry.
type StatusKind string

const (
	// StatusApplied marks a live entry contributing to the balance.
	StatusApplied StatusKind = "applied"
	// StatusReverted marks an archived entry whose effect has been cancelled.
	StatusReverted StatusKind = "reverted"
	// StatusRevert marks the compensating record that cancelled an entry.
	StatusRevert StatusKind = "revert"
)

// Status is an entry's lifecycle state. The two archived kinds cross-reference
// their counterpart: a reverted entry carries the history sequence of the
// revert that cancelled it, a revert carries the sequence it cancels.
type Status struct {
	Kind     StatusKind
	Sequence uint64
}

func Applied() Status             { return Status{Kind: StatusApplied} }
func Reverted(seq uint64) Status  { return Status{Kind: StatusReverted, Sequence: seq} }
func Revert(seq uint64) Status    { return Status{Kind: StatusRevert, Sequence: seq} }
func (s Status) IsApplied() bool  { return s.Kind == StatusApplied }
func (s Status) IsReverted() bool { return s.Kind == StatusReverted }

// MarshalJSON encodes applied as a bare string, the archived kinds as
// single-key objects carrying the counterpart sequence.
func (s Status) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StatusApplied:
		return json.Marshal(string(StatusApplied))
	case StatusReverted, StatusRevert:
		return json.Marshal(map[string]uint64{string(s.Kind): s.Sequence})
	default:
		return nil, fmt.Errorf("unknown entry status %q", s.Kind)
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		if kind != string(StatusApplied) {
			return fmt.Errorf("unknown entry status %q", kind)
		}
		*s = Applied()
		return nil
	}

	var ref map[string]uint64
	if err := json.Unmarshal(data, &ref); err != nil || len(ref) != 1 {
		return fmt.Errorf("malformed entry status %s", data)
	}
	for kind, seq := range ref {
		switch StatusKind(kind) {
		case StatusReverted:
			*s = Reverted(seq)
		case StatusRevert:
			*s = Revert(seq)
		default:
			return fmt.Errorf("unknown entry status %q", kind)
		}
	}
	return nil
}
