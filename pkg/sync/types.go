package sync

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod indicates the target period does not exist or has
// been soft-deleted. The whole call fails before any row is touched.
var ErrInvalidPeriod = errors.New("period does not exist or is deleted")

// RawRecord is one tabular row handed in by the parsing collaborator.
// All values arrive as strings; schema validation converts them.
type RawRecord map[string]string

// FailureReason classifies why a record was not inserted
type FailureReason string

const (
	ReasonValidation   FailureReason = "validation_error"
	ReasonDuplicateKey FailureReason = "duplicate_key"
	ReasonStorage      FailureReason = "storage_error"
)

// FailedRecord pairs a rejected input row with the reason it failed
type FailedRecord struct {
	Record RawRecord     `json:"record"`
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// Result reports the exact disposition of every record in a batch.
// Partial outcomes are always reported as such; a batch is never
// summarized as a single success or failure when chunks diverged.
type Result struct {
	Inserted         int            `json:"inserted"`
	SkippedDuplicate int            `json:"skipped_duplicate"`
	Failed           []FailedRecord `json:"failed,omitempty"`
	Duration         time.Duration  `json:"duration_ns"`
}

// ValidationError reports a single field that failed schema validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}
