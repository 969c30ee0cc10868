package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

func TestFromDiffError(t *testing.T) {
	tokenErr := fmt.Errorf("grouping: %w", &diff.InvalidTokenError{Side: diff.SideA, Page: 2, Index: 5, Reason: "empty text"})
	pe := FromDiffError("job-1", tokenErr)
	if pe.Code != ErrorInvalidInput || pe.Retryable() {
		t.Fatalf("token error classified as %s (retryable=%v)", pe.Code, pe.Retryable())
	}
	if pe.Details["page"] != 2 || pe.Details["token_index"] != 5 {
		t.Fatalf("unexpected details %v", pe.Details)
	}

	mismatch := &diff.PageCountMismatchError{Side: diff.SideB, Declared: 1, Got: 3}
	pe = FromDiffError("job-1", mismatch)
	if pe.Code != ErrorInvalidInput || pe.Details["got"] != 3 {
		t.Fatalf("mismatch classified as %s %v", pe.Code, pe.Details)
	}
	if !stderrors.Is(pe, mismatch) {
		t.Fatal("ProcessingError should unwrap to its cause")
	}

	pe = FromDiffError("job-1", stderrors.New("boom"))
	if pe.Code != ErrorDiffFailed || !pe.Retryable() {
		t.Fatalf("generic error classified as %s", pe.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(fmt.Errorf("wrapped: %w", NewInvalidInputError("j", "bad", nil))) {
		t.Fatal("wrapped invalid input must not be retryable")
	}
	if !IsRetryable(NewStorageFailedError("j", stderrors.New("db down"))) {
		t.Fatal("storage failure should be retryable")
	}
	if !IsRetryable(stderrors.New("plain")) {
		t.Fatal("plain errors are assumed transient")
	}
}

func TestToMap(t *testing.T) {
	pe := NewProcessingTimeoutError("job-9", 5*time.Second, stderrors.New("deadline"))
	m := pe.ToMap()
	if m["error_code"] != "PROCESSING_TIMEOUT" || m["timeout_duration"] != "5s" || m["cause"] != "deadline" {
		t.Fatalf("unexpected map %v", m)
	}

	pe = NewOCRFailedError("job-9", diff.SideB, 4, stderrors.New("tesseract"))
	m = pe.ToMap()
	if m["side"] != "B" || m["page"] != 4 {
		t.Fatalf("unexpected OCR map %v", m)
	}
}
