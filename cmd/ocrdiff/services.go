package main

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/ocrdiff-worker/internal/config"
	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
	"github.com/adverant/nexus/ocrdiff-worker/internal/queue"
	"github.com/adverant/nexus/ocrdiff-worker/internal/storage"
)

// resultStore is the part of the storage manager the service commands use
type resultStore interface {
	processor.ResultStore
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	GetDiffResult(ctx context.Context, resultID string) (*storage.DiffResultRecord, error)
	DeleteDiffResult(ctx context.Context, resultID string) error
	SearchSimilarChanges(ctx context.Context, queryVector []float32, limit int, operation diff.Operation) ([]*storage.ChangeSearchResult, error)
	SearchLikeChange(ctx context.Context, pointID string, limit int, operation diff.Operation) ([]*storage.ChangeSearchResult, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// jobQueue submits comparison jobs to the configured backend
type jobQueue interface {
	Enqueue(ctx context.Context, req *processor.ProcessRequest) (string, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// services connects the commands that talk to the worker's backends
type services struct {
	loadConfig func() (*config.Config, error)
	openStore  func(cfg *config.Config) (resultStore, error)
	openQueue  func(cfg *config.Config, proc processor.DiffProcessorInterface) (jobQueue, error)
}

func defaultServices() *services {
	return &services{
		loadConfig: config.LoadConfig,
		openStore:  openStorageManager,
		openQueue:  openJobQueue,
	}
}

func openStorageManager(cfg *config.Config) (resultStore, error) {
	sm, err := storage.NewStorageManager(storage.StorageConfig{
		PostgresURL:          cfg.DatabaseURL,
		QdrantAddress:        cfg.QdrantURL,
		QdrantCollection:     cfg.QdrantCollection,
		FingerprintDimension: cfg.FingerprintDimension,
		ChangeIndexEnabled:   cfg.ChangeIndexEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	return sm, nil
}

func openJobQueue(cfg *config.Config, proc processor.DiffProcessorInterface) (jobQueue, error) {
	if cfg.QueueBackend == "asynq" {
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			return nil, err
		}
		return asynqQueue{c: c}, nil
	}

	c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		return nil, err
	}
	return redisQueue{c: c}, nil
}

// statusProcessor records job status through the store. The CLI never
// runs comparisons itself, so it needs no OCR engine.
func statusProcessor(cfg *config.Config, store resultStore) (*processor.DiffProcessor, error) {
	var fp *processor.Fingerprinter
	if store.ChangeIndexEnabled() {
		var err error
		if fp, err = processor.NewFingerprinter(cfg.FingerprintDimension); err != nil {
			return nil, err
		}
	}
	return processor.NewDiffProcessor(&processor.ProcessorConfig{
		Store:         store,
		Fingerprinter: fp,
		DiffOptions:   cfg.DiffOptions(),
	})
}

type redisQueue struct {
	c *queue.RedisConsumer
}

func (q redisQueue) Enqueue(ctx context.Context, req *processor.ProcessRequest) (string, error) {
	return q.c.Enqueue(ctx, req)
}

func (q redisQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	counts, err := q.c.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{"backend": "redis"}
	for k, v := range counts {
		stats[k] = v
	}
	return stats, nil
}

func (q redisQueue) Close() error { return q.c.Stop() }

type asynqQueue struct {
	c *queue.Consumer
}

func (q asynqQueue) Enqueue(ctx context.Context, req *processor.ProcessRequest) (string, error) {
	info, err := q.c.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (q asynqQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	return q.c.GetStatistics()
}

func (q asynqQueue) Close() error { return q.c.Stop(context.Background()) }
