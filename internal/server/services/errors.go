package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatrelay/internal/common"
)

// ValidationError reports a missing or malformed request field. It matches
// common.ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return common.ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PartialGroupError is returned when a group submit stops partway. Rows for
// Persisted are kept; Failed were not written.
type PartialGroupError struct {
	Persisted []string
	Failed    []string
	Err       error
}

func (e *PartialGroupError) Error() string {
	return fmt.Sprintf("group submit persisted %d of %d recipients (failed: %s): %v",
		len(e.Persisted), len(e.Persisted)+len(e.Failed), strings.Join(e.Failed, ","), e.Err)
}

func (e *PartialGroupError) Unwrap() error { return e.Err }

// storeErr marks a repository failure as retryable. common.ErrorNotFound is
// an outcome, not a failure, and passes through.
func storeErr(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
}
