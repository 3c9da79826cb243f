package service

import (
	"errors"
	"fmt"

	"coopcredit/internal/infrastructure/metrics"
	"coopcredit/internal/repository"

	"go.uber.org/zap"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrSystemBusy means a ledger lock could not be taken in time; the
	// whole operation is safe to retry.
	ErrSystemBusy = errors.New("system busy, retry later")
)

// ValidationError is a rejected input, reported before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// reportIntegrity logs and counts an invariant violation. Other errors pass
// through untouched.
func reportIntegrity(log *zap.Logger, source string, err error) {
	var iv *repository.InvariantViolation
	if !errors.As(err, &iv) {
		return
	}
	metrics.IntegrityErrors.WithLabelValues(source).Inc()
	log.Error("ledger invariant violation",
		zap.String("source", source),
		zap.Int64("member_id", iv.MemberID),
		zap.Int64("entry_id", iv.EntryID),
		zap.String("reason", iv.Reason),
	)
}
