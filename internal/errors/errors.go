package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

/**
 * Custom error types for the OCR Diff Worker
 *
 * Every failure a comparison job can end in has a code. The code decides
 * whether the queue retries the job and is persisted with the job status.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorDiffFailed        ErrorCode = "DIFF_FAILED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"

	// Network errors
	ErrorFetchFailed ErrorCode = "FETCH_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether running the job again could succeed.
// Invalid input fails the same way every time.
func (e *ProcessingError) Retryable() bool {
	return e.Code != ErrorInvalidInput
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(jobID string, side diff.Side, page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed on page %d of %s", page, side),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"side": string(side),
			"page": page,
		},
		Cause: cause,
	}
}

func NewInvalidInputError(jobID string, message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewFetchFailedError(jobID string, url string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFetchFailed,
		Message:   "Failed to fetch page image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url": url,
		},
		Cause: cause,
	}
}

func NewDiffFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDiffFailed,
		Message:   "Document comparison failed",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store diff results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// FromDiffError classifies an error returned by diff.Compare. Structural
// input errors become INVALID_INPUT, anything else DIFF_FAILED.
func FromDiffError(jobID string, err error) *ProcessingError {
	var invalid *diff.InvalidTokenError
	var mismatch *diff.PageCountMismatchError
	switch {
	case stderrors.As(err, &invalid):
		pe := NewInvalidInputError(jobID, "Invalid OCR token", err)
		pe.Details = map[string]interface{}{
			"side":        string(invalid.Side),
			"page":        invalid.Page,
			"token_index": invalid.Index,
			"reason":      invalid.Reason,
		}
		return pe
	case stderrors.As(err, &mismatch):
		pe := NewInvalidInputError(jobID, "Page count mismatch", err)
		pe.Details = map[string]interface{}{
			"side":     string(mismatch.Side),
			"declared": mismatch.Declared,
			"got":      mismatch.Got,
		}
		return pe
	default:
		return NewDiffFailedError(jobID, err)
	}
}

// IsRetryable reports whether err may succeed on another attempt.
// Errors that are not ProcessingErrors are assumed transient.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
