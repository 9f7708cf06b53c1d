package domain

import "fmt"

// Conditional is a predicate evaluated against the balance as it would look
// right after the guarded entry applied. Multiple conditionals on one entry
// form a conjunction.
type Conditional struct {
	GreaterThanOrEqualTo *GreaterThanOrEqualTo
}

// GreaterThanOrEqualTo passes when the named running total is at least Value.
// Totals absent from the balance evaluate as zero.
type GreaterThanOrEqualTo struct {
	Balance string
	Value   int64
}

// Evaluate reports whether the conditional holds for the given totals.
func (c Conditional) Evaluate(balances map[string]int64) bool {
	if c.GreaterThanOrEqualTo != nil {
		return balances[c.GreaterThanOrEqualTo.Balance] >= c.GreaterThanOrEqualTo.Value
	}
	return true
}

// Validate rejects conditionals that carry no predicate or reference a
// malformed balance name.
func (c Conditional) Validate() error {
	if c.GreaterThanOrEqualTo == nil {
		return fmt.Errorf("%w: missing predicate", ErrInvalidConditional)
	}
	return ValidateBalanceName(c.GreaterThanOrEqualTo.Balance)
}
