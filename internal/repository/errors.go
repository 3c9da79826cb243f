package repository

import (
	"errors"
	"fmt"
)

var (
	ErrMemberNotFound    = errors.New("member not found")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrTermsNotFound     = errors.New("credit terms not found")
	ErrDuplicateMemberNo = errors.New("member number already exists")
)

// ErrInvariantViolation is the sentinel every InvariantViolation matches.
var ErrInvariantViolation = errors.New("ledger invariant violation")

// InvariantViolation reports a mutation that would break a ledger invariant
// (PaidAmount decreasing or exceeding Amount, FIFO exhaustion, a concurrent
// writer bypassing the member lock). It is an integrity failure, never a
// user error: the transaction is rolled back and nothing is clamped.
type InvariantViolation struct {
	EntryID  int64
	MemberID int64
	Reason   string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("ledger invariant violation: member=%d entry=%d: %s", e.MemberID, e.EntryID, e.Reason)
}

func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}
