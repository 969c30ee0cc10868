/**
 * OCR Diff Worker - Main Entry Point
 *
 * Go worker that compares the OCR output of two versions of a document.
 *
 * Architecture:
 * - Redis list or Asynq consumer for the comparison job queue
 * - Word-level Tesseract OCR for page images, run page-parallel
 * - Line grouping, page alignment, line and character diffs
 * - PostgreSQL persistence for jobs and diff results
 * - Optional Qdrant index of change fingerprints
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocrdiff-worker/internal/clients"
	"github.com/adverant/nexus/ocrdiff-worker/internal/config"
	"github.com/adverant/nexus/ocrdiff-worker/internal/logging"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
	"github.com/adverant/nexus/ocrdiff-worker/internal/queue"
	"github.com/adverant/nexus/ocrdiff-worker/internal/storage"
)

// queueConsumer is the part of both queue backends main drives
type queueConsumer interface {
	Start() error
	Stop() error
}

// asynqConsumer adapts the context-taking asynq consumer
type asynqConsumer struct {
	c *queue.Consumer
}

func (a asynqConsumer) Start() error { return a.c.Start(context.Background()) }
func (a asynqConsumer) Stop() error  { return a.c.Stop(context.Background()) }

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.nexus"); err != nil {
		log.Printf("Warning: .env.nexus not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	log.Printf("OCR Diff Worker starting...")
	log.Printf("Configuration loaded: Queue=%s (%s), Qdrant=%s (index=%t), Workers=%d, PageWorkers=%d",
		cfg.QueueName, cfg.QueueBackend, cfg.QdrantURL, cfg.ChangeIndexEnabled,
		cfg.WorkerConcurrency, cfg.PageWorkers)
	if !cfg.IsProduction() {
		log.Printf("Endpoints (%s): %s", cfg.NodeEnv, cfg.Endpoints())
	}

	// Initialize unified storage manager (PostgreSQL + Qdrant)
	log.Printf("Connecting to storage...")
	storageManager, err := storage.NewStorageManager(storage.StorageConfig{
		PostgresURL:          cfg.DatabaseURL,
		QdrantAddress:        cfg.QdrantURL,
		QdrantCollection:     cfg.QdrantCollection,
		FingerprintDimension: cfg.FingerprintDimension,
		ChangeIndexEnabled:   cfg.ChangeIndexEnabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = storageManager.EnsureSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		storageManager.Close()
		log.Fatalf("Failed to prepare database schema: %v", err)
	}
	if err := healthCheck(storageManager); err != nil {
		storageManager.Close()
		log.Fatalf("Storage health check failed: %v", err)
	}
	log.Printf("Storage manager initialized (change index enabled: %t)", storageManager.ChangeIndexEnabled())

	// Initialize diff processor
	var fingerprinter *processor.Fingerprinter
	if cfg.ChangeIndexEnabled {
		fingerprinter, err = processor.NewFingerprinter(cfg.FingerprintDimension)
		if err != nil {
			storageManager.Close()
			log.Fatalf("Failed to initialize fingerprinter: %v", err)
		}
	}

	ocr, err := processor.NewTesseractOCR(&processor.TesseractConfig{
		Languages: cfg.Languages(),
		DPI:       cfg.RasterDPI,
	})
	if err != nil {
		storageManager.Close()
		log.Fatalf("Failed to initialize Tesseract: %v", err)
	}

	proc, err := processor.NewDiffProcessor(&processor.ProcessorConfig{
		Store:         storageManager,
		OCR:           ocr,
		Fetcher:       clients.NewPageFetcher(clients.PageFetcherConfig{MaxImageSize: cfg.MaxPageImageSize}),
		Fingerprinter: fingerprinter,
		DiffOptions:   cfg.DiffOptions(),
		PageWorkers:   cfg.PageWorkers,
		MaxImageSize:  cfg.MaxPageImageSize,
	})
	if err != nil {
		storageManager.Close()
		log.Fatalf("Failed to initialize diff processor: %v", err)
	}
	log.Printf("Diff processor initialized (languages=%v, dpi=%d)", cfg.Languages(), cfg.RasterDPI)

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	consumer, err := newQueueConsumer(cfg, proc)
	if err != nil {
		storageManager.Close()
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		storageManager.Close()
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("OCR Diff Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s (%s backend)", cfg.QueueName, cfg.QueueBackend)
	log.Printf("Workers: %d, page OCR workers per document: %d", cfg.WorkerConcurrency, cfg.PageWorkers)
	log.Printf("Processing timeout: %dms", cfg.ProcessingTimeout)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := consumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

func newQueueConsumer(cfg *config.Config, proc processor.DiffProcessorInterface) (queueConsumer, error) {
	switch cfg.QueueBackend {
	case "asynq":
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
		return asynqConsumer{c: c}, nil
	default:
		return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
	}
}

func healthCheck(sm *storage.StorageManager) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := sm.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	log.Printf("Storage stats: %v", stats)
	return nil
}
