/**
 * Queue Job Envelope
 *
 * Shared by the Redis list consumer and the asynq consumer: decoding of
 * comparison payloads, retry policy and the metadata written back to the
 * job store.
 */

package queue

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/errors"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
)

// TaskTypeCompareDocuments is the task type for comparison jobs
const TaskTypeCompareDocuments = "compare-documents"

const (
	defaultQueueName         = "ocrdiff:jobs"
	defaultMaxRetries        = 3
	defaultProcessingTimeout = 300000 // ms
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"maxRetries"`
}

// decodeJob parses a queue entry and its comparison payload. A payload
// without job_id takes the envelope ID. Payload problems come back as
// INVALID_INPUT errors alongside the envelope so the job can be failed.
func decodeJob(data []byte) (*RedisJobData, *processor.ProcessRequest, error) {
	var job RedisJobData
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Type != "" && job.Type != TaskTypeCompareDocuments {
		return &job, nil, errors.NewInvalidInputError(job.ID, fmt.Sprintf("unsupported job type %q", job.Type), nil)
	}

	req, err := decodePayload(job.Payload, job.ID)
	if err != nil {
		return &job, nil, err
	}
	return &job, req, nil
}

func decodePayload(payload []byte, fallbackID string) (*processor.ProcessRequest, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, errors.NewInvalidInputError(fallbackID, "job payload is empty", nil)
	}

	var req processor.ProcessRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.NewInvalidInputError(fallbackID, "invalid job payload", err)
	}
	if req.JobID == "" {
		req.JobID = fallbackID
	}
	if err := req.Validate(); err != nil {
		return nil, errors.NewInvalidInputError(req.JobID, err.Error(), err)
	}
	return &req, nil
}

// retryDelay is the exponential backoff between attempts: 5s, 10s, 20s, capped at 60s
func retryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// shouldRetry reports whether a failed job goes back on the queue
func shouldRetry(err error, attempts, maxRetries int) bool {
	return errors.IsRetryable(err) && attempts < maxRetries
}

// completedMetadata is the job-store metadata of a finished comparison
func completedMetadata(result *processor.ProcessResult, userID string) map[string]interface{} {
	return map[string]interface{}{
		"userId":           userID,
		"resultId":         result.ResultID,
		"totalDifferences": result.TotalDifferences,
		"inserts":          result.Inserts,
		"deletes":          result.Deletes,
		"replaces":         result.Replaces,
		"pagesA":           result.PagesA,
		"pagesB":           result.PagesB,
		"ocrPages":         result.OCRPages,
		"processingTime":   result.ProcessingTimeMs,
	}
}

// failedMetadata is the job-store metadata of a failed comparison. A
// ProcessingError contributes its code and details.
func failedMetadata(err error, attempts int, duration time.Duration) map[string]interface{} {
	meta := map[string]interface{}{
		"error":          err.Error(),
		"attempts":       attempts,
		"processingTime": duration.Milliseconds(),
	}

	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		for k, v := range pe.ToMap() {
			meta[k] = v
		}
		meta["errorCode"] = string(pe.Code)
		meta["retryable"] = pe.Retryable()
	}
	return meta
}
