package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// DataConsistencyError reports cross-step data that does not line up, such
// as an alignment referencing an unknown claim. These are logged and the
// affected item is defaulted; the case is never aborted for one.
type DataConsistencyError struct {
	Detail string
}

func (e *DataConsistencyError) Error() string {
	return fmt.Sprintf("data consistency: %s", e.Detail)
}

// Code returns the stable taxonomy code for consistency failures.
func (e *DataConsistencyError) Code() string { return "data_consistency_error" }

// errorCode maps any pipeline error onto its stable taxonomy code.
func errorCode(err error) string {
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal_error"
}
