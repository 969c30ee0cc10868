/**
 * Direct Redis Queue Consumer for the OCR Diff Worker
 *
 * Uses simple Redis LIST operations so producers in any language can submit
 * jobs: the job ID is pushed on the queue list and the job envelope is
 * stored in the <queue>:data hash. Retries wait in the <queue>:delayed
 * sorted set until their backoff has passed.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocrdiff-worker/internal/errors"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
)

var errNoJobs = fmt.Errorf("no jobs available")

// promoteScript moves due job IDs from the delayed set onto the queue list
// in one step, so two workers never push the same retry.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

const (
	promoteInterval  = 1 * time.Second
	promoteBatchSize = 100
)

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DiffProcessorInterface
	config    *RedisConsumerConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int // used when a job does not carry its own maxRetries
	Processor         processor.DiffProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return queueKey(c.config.QueueName, suffix)
}

func queueKey(queue, suffix string) string {
	return fmt.Sprintf("%s:%s", queue, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.wg.Add(1)
	go c.scheduler()

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer. Jobs in flight run to completion.
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// Enqueue stores a job envelope and pushes its ID on the queue
func (c *RedisConsumer) Enqueue(ctx context.Context, req *processor.ProcessRequest) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid comparison request: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal comparison request: %w", err)
	}
	envelope, err := json.Marshal(&RedisJobData{
		ID:         req.JobID,
		Type:       TaskTypeCompareDocuments,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: c.config.MaxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), req.JobID, envelope)
	pipe.LPush(ctx, c.config.QueueName, req.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", req.JobID, err)
	}

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "queued", 0, map[string]interface{}{
		"userId": req.UserID,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to record queued status: %v", req.JobID, err)
	}
	c.publishEvent(ctx, req.JobID, "queued")
	return req.JobID, nil
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs && c.ctx.Err() == nil {
					log.Printf("Worker %d error: %v", id, err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// scheduler moves retries whose delay has passed back onto the queue
func (c *RedisConsumer) scheduler() {
	defer c.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			n, err := c.promoteDueJobs(c.ctx, now)
			if err != nil {
				if c.ctx.Err() == nil {
					log.Printf("Failed to promote delayed jobs: %v", err)
				}
				continue
			}
			if n > 0 {
				log.Printf("Promoted %d delayed job(s) to %s", n, c.config.QueueName)
			}
		}
	}
}

// promoteDueJobs pushes delayed jobs that are ready at now onto the queue
func (c *RedisConsumer) promoteDueJobs(ctx context.Context, now time.Time) (int, error) {
	keys := []string{c.key("delayed"), c.config.QueueName}
	n, err := promoteScript.Run(ctx, c.client, keys, delayedScore(now), promoteBatchSize).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return n, nil
}

// delayedScore is the sort key of the delayed set: Unix milliseconds
func delayedScore(t time.Time) int64 {
	return t.UnixMilli()
}

// retryAt is when a job that has failed attempts times may run again
func retryAt(now time.Time, attempts int) time.Time {
	return now.Add(retryDelay(attempts - 1))
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil || c.ctx.Err() != nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	// The job is ours now; finish it even if the consumer is stopping
	ctx := context.WithoutCancel(c.ctx)

	jobData, err := c.client.HGet(ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	job, req, err := decodeJob([]byte(jobData))
	if err != nil {
		log.Printf("[Job %s] Rejecting job: %v", jobID, err)
		attempts := 1
		if job != nil {
			attempts = job.Attempts + 1
		}
		c.finishFailed(ctx, jobID, err, attempts, 0)
		return nil
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = c.config.MaxRetries
	}

	c.markProcessing(ctx, req, job.Attempts+1)

	log.Printf("[Job %s] Processing comparison %s vs %s (attempt %d/%d)",
		req.JobID, req.DocumentA.Path, req.DocumentB.Path, job.Attempts+1, job.MaxRetries)

	startTime := time.Now()
	processResult, err := c.processJob(req)
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("[Job %s] Failed: %v", req.JobID, err)

		job.Attempts++
		if shouldRetry(err, job.Attempts, job.MaxRetries) {
			updatedData, marshalErr := json.Marshal(job)
			if marshalErr != nil {
				c.finishFailed(ctx, req.JobID, err, job.Attempts, duration)
				return nil
			}
			readyAt := retryAt(time.Now(), job.Attempts)
			pipe := c.client.TxPipeline()
			pipe.HSet(ctx, c.key("data"), jobID, updatedData)
			pipe.SRem(ctx, c.key("processing"), jobID)
			pipe.ZAdd(ctx, c.key("delayed"), redis.Z{Score: float64(delayedScore(readyAt)), Member: jobID})
			if _, pushErr := pipe.Exec(ctx); pushErr != nil {
				log.Printf("[Job %s] Failed to schedule retry: %v", req.JobID, pushErr)
				c.finishFailed(ctx, req.JobID, err, job.Attempts, duration)
				return nil
			}
			meta := failedMetadata(err, job.Attempts, duration)
			meta["retryAt"] = readyAt.UTC().Format(time.RFC3339)
			if updateErr := c.processor.UpdateJobStatus(ctx, req.JobID, "retrying", 0, meta); updateErr != nil {
				log.Printf("[Job %s] Warning: Failed to update status to retrying: %v", req.JobID, updateErr)
			}
			c.publishEvent(ctx, req.JobID, "retrying")
			log.Printf("[Job %s] Retry %d/%d scheduled for %s", req.JobID, job.Attempts, job.MaxRetries,
				readyAt.UTC().Format(time.RFC3339))
			return nil
		}

		c.finishFailed(ctx, req.JobID, err, job.Attempts, duration)
		return nil
	}

	c.finishCompleted(ctx, req, processResult)
	log.Printf("[Job %s] Completed successfully in %v", req.JobID, duration)
	return nil
}

// processJob runs one comparison under the processing timeout
func (c *RedisConsumer) processJob(req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	timeout := time.Duration(defaultProcessingTimeout) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	log.Printf("[Job %s] Processing timeout set to: %v", req.JobID, timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Processing timed out (timeout: %v)", req.JobID, timeout)
			return nil, errors.NewProcessingTimeoutError(req.JobID, timeout, err)
		}
		return nil, err
	}

	return result, nil
}

func (c *RedisConsumer) markProcessing(ctx context.Context, req *processor.ProcessRequest, attempt int) {
	if err := c.client.SAdd(ctx, c.key("processing"), req.JobID).Err(); err != nil {
		log.Printf("[Job %s] Warning: Failed to mark job as processing in Redis: %v", req.JobID, err)
	}

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "processing", 0, map[string]interface{}{
		"userId":   req.UserID,
		"pathA":    req.DocumentA.Path,
		"pathB":    req.DocumentB.Path,
		"attempts": attempt,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update job status to processing: %v", req.JobID, err)
	}

	c.publishEvent(ctx, req.JobID, "processing")
}

func (c *RedisConsumer) finishCompleted(ctx context.Context, req *processor.ProcessRequest, result *processor.ProcessResult) {
	resultData, _ := json.Marshal(result)

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key("processing"), req.JobID)
	pipe.SAdd(ctx, c.key("completed"), req.JobID)
	pipe.HSet(ctx, c.key("results"), req.JobID, resultData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Job %s] Warning: Failed to record completion in Redis: %v", req.JobID, err)
	}

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, "completed", 100, completedMetadata(result, req.UserID)); err != nil {
		log.Printf("[PostgreSQL] ERROR: Failed to update job %s status: %v", req.JobID, err)
	} else {
		log.Printf("[PostgreSQL] Job %s updated (resultId=%s, differences=%d)",
			req.JobID, result.ResultID, result.TotalDifferences)
	}

	c.publishEvent(ctx, req.JobID, "completed")
}

func (c *RedisConsumer) finishFailed(ctx context.Context, jobID string, err error, attempts int, duration time.Duration) {
	meta := failedMetadata(err, attempts, duration)
	errorData, _ := json.Marshal(meta)

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key("processing"), jobID)
	pipe.SAdd(ctx, c.key("failed"), jobID)
	pipe.HSet(ctx, c.key("errors"), jobID, errorData)
	if _, pipeErr := pipe.Exec(ctx); pipeErr != nil {
		log.Printf("[Job %s] Warning: Failed to record failure in Redis: %v", jobID, pipeErr)
	}

	if updateErr := c.processor.UpdateJobStatus(ctx, jobID, "failed", 100, meta); updateErr != nil {
		log.Printf("WARNING: Failed to update PostgreSQL job status for failed job %s: %v", jobID, updateErr)
	}

	c.publishEvent(ctx, jobID, "failed")
}

// publishEvent announces a status change on <queue>:events
func (c *RedisConsumer) publishEvent(ctx context.Context, jobID, status string) {
	if err := c.client.Publish(ctx, c.key("events"), jobEvent(jobID, status, time.Now())).Err(); err != nil {
		log.Printf("[Job %s] Warning: Failed to publish %s event: %v", jobID, status, err)
	}
}

func jobEvent(jobID, status string, at time.Time) []byte {
	eventData, _ := json.Marshal(map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": at.Format(time.RFC3339),
	})
	return eventData
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	delayed := pipe.ZCard(ctx, c.key("delayed"))
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"delayed":    delayed.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
