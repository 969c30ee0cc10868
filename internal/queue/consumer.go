/**
 * Asynq Queue Consumer for the OCR Diff Worker
 *
 * Consumes compare-documents tasks from Redis via Asynq and runs them
 * through the diff processor. Invalid input is failed without retry.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocrdiff-worker/internal/errors"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DiffProcessorInterface
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.DiffProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return retryDelay(n)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, payloadBytes=%d, error=%v",
					task.Type(), len(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		inspector: asynq.NewInspector(redisOpt),
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
	}

	mux.HandleFunc(TaskTypeCompareDocuments, consumer.handleCompareDocuments)

	return consumer, nil
}

// NewCompareTask builds the asynq task for a comparison request
func NewCompareTask(req *processor.ProcessRequest, maxRetries int) (*asynq.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid comparison request: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal comparison request: %w", err)
	}
	return asynq.NewTask(TaskTypeCompareDocuments, payload, asynq.MaxRetry(maxRetries)), nil
}

// Enqueue submits a comparison job. The job ID doubles as the task ID so a
// job cannot be queued twice.
func (c *Consumer) Enqueue(ctx context.Context, req *processor.ProcessRequest) (*asynq.TaskInfo, error) {
	task, err := NewCompareTask(req, c.config.MaxRetries)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.config.QueueName),
		asynq.TaskID(req.JobID),
		asynq.Timeout(c.timeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", req.JobID, err)
	}

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "queued", 0, map[string]interface{}{
		"userId": req.UserID,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to record queued status: %v", req.JobID, err)
	}

	return info, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting asynq queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return time.Duration(defaultProcessingTimeout) * time.Millisecond
}

// handleCompareDocuments processes a comparison job
func (c *Consumer) handleCompareDocuments(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	taskID, _ := asynq.GetTaskID(ctx)
	retryCount, _ := asynq.GetRetryCount(ctx)

	req, err := decodePayload(task.Payload(), taskID)
	if err != nil {
		log.Printf("[Job %s] Rejecting task: %v", taskID, err)
		if taskID != "" {
			c.markFailed(ctx, taskID, err, retryCount+1, time.Since(startTime))
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Job %s] Comparing %s (%d pages) with %s (%d pages), user=%s, attempt=%d",
		req.JobID, req.DocumentA.Path, req.DocumentA.PageCount(),
		req.DocumentB.Path, req.DocumentB.PageCount(), req.UserID, retryCount+1)

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "processing", 0, map[string]interface{}{
		"userId":   req.UserID,
		"attempts": retryCount + 1,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", req.JobID, err)
	}

	timeout := c.timeout()
	log.Printf("[Job %s] Processing timeout set to: %v", req.JobID, timeout)

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, req)
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", req.JobID, duration, timeout)
			err = errors.NewProcessingTimeoutError(req.JobID, timeout, err)
		} else {
			log.Printf("[Job %s] Processing failed after %v: %v", req.JobID, duration, err)
		}

		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if shouldRetry(err, retryCount, maxRetry) {
			if updateErr := c.processor.UpdateJobStatus(ctx, req.JobID, "retrying", 0, failedMetadata(err, retryCount+1, duration)); updateErr != nil {
				log.Printf("[Job %s] Warning: Failed to update status to retrying: %v", req.JobID, updateErr)
			}
			return fmt.Errorf("comparison failed: %w", err)
		}

		c.markFailed(ctx, req.JobID, err, retryCount+1, duration)
		return fmt.Errorf("comparison failed: %w: %w", err, asynq.SkipRetry)
	}

	log.Printf("[Job %s] Comparison completed in %v: resultId=%s, differences=%d",
		req.JobID, duration, result.ResultID, result.TotalDifferences)

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "completed", 100, completedMetadata(result, req.UserID)); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", req.JobID, err)
	}

	if w := task.ResultWriter(); w != nil {
		if _, err := w.Write(mustJSON(result)); err != nil {
			log.Printf("[Job %s] Warning: Failed to write task result: %v", req.JobID, err)
		}
	}

	return nil
}

func (c *Consumer) markFailed(ctx context.Context, jobID string, err error, attempts int, duration time.Duration) {
	if updateErr := c.processor.UpdateJobStatus(ctx, jobID, "failed", 100, failedMetadata(err, attempts, duration)); updateErr != nil {
		log.Printf("[Job %s] Warning: Failed to update status to failed: %v", jobID, updateErr)
	}
}

// GetStatistics returns consumer settings and the queue's task counts.
// A queue that has never held a task reports no counts.
func (c *Consumer) GetStatistics() (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"maxRetries":  c.config.MaxRetries,
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		if stderrors.Is(err, asynq.ErrQueueNotFound) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to inspect queue %s: %w", c.config.QueueName, err)
	}
	for k, v := range queueInfoStats(info) {
		stats[k] = v
	}
	return stats, nil
}

func queueInfoStats(info *asynq.QueueInfo) map[string]int64 {
	return map[string]int64{
		"waiting":    int64(info.Pending),
		"delayed":    int64(info.Scheduled + info.Retry),
		"processing": int64(info.Active),
		"completed":  int64(info.Completed),
		"failed":     int64(info.Archived),
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
