/**
 * Diff Processor for the OCR Diff Worker
 *
 * Orchestrates one comparison job:
 * - Resolve both documents into OCR tokens (supplied tokens, inline page
 *   images or downloaded page images run through the OCR engine)
 * - Compare the documents page by page
 * - Fingerprint every change for the similarity index
 * - Persist the result and report a summary
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	procerrors "github.com/adverant/nexus/ocrdiff-worker/internal/errors"
	"github.com/adverant/nexus/ocrdiff-worker/internal/storage"
)

// DiffProcessorInterface defines the interface for comparison processing
type DiffProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ResultStore persists comparison results and job state
type ResultStore interface {
	StoreDiffResult(ctx context.Context, input *storage.DiffResultInput) (*storage.DiffResultOutput, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	ChangeIndexEnabled() bool
}

// PageFetcher downloads page images by URL
type PageFetcher interface {
	Fetch(ctx context.Context, jobID, url string) ([]byte, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Store         ResultStore
	OCR           OCREngine      // nil rejects jobs with page images
	Fetcher       PageFetcher    // nil rejects jobs with page URLs
	Fingerprinter *Fingerprinter // required when the store indexes changes
	DiffOptions   diff.Options
	PageWorkers   int   // concurrent page OCR calls per document
	MaxImageSize  int64 // 0 = unlimited
}

// ProcessResult represents the processing result
type ProcessResult struct {
	ResultID         string           `json:"result_id"`
	TotalDifferences int              `json:"total_differences"`
	Inserts          int              `json:"inserts"`
	Deletes          int              `json:"deletes"`
	Replaces         int              `json:"replaces"`
	PagesA           int              `json:"pages_a"`
	PagesB           int              `json:"pages_b"`
	OCRPages         int              `json:"ocr_pages"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Result           *diff.DiffResult `json:"-"`
}

// DiffProcessor runs comparison jobs
type DiffProcessor struct {
	store         ResultStore
	ocr           OCREngine
	fetcher       PageFetcher
	fingerprinter *Fingerprinter
	options       diff.Options
	pageWorkers   int
	maxImageSize  int64
}

// NewDiffProcessor creates a new diff processor
func NewDiffProcessor(cfg *ProcessorConfig) (*DiffProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}

	if cfg.Store.ChangeIndexEnabled() && cfg.Fingerprinter == nil {
		return nil, fmt.Errorf("fingerprinter is required when the change index is enabled")
	}

	if cfg.OCR == nil {
		log.Printf("WARNING: No OCR engine configured. Jobs must supply OCR tokens for every page.")
	}

	workers := cfg.PageWorkers
	if workers < 1 {
		workers = 1
	}

	return &DiffProcessor{
		store:         cfg.Store,
		ocr:           cfg.OCR,
		fetcher:       cfg.Fetcher,
		fingerprinter: cfg.Fingerprinter,
		options:       cfg.DiffOptions,
		pageWorkers:   workers,
		maxImageSize:  cfg.MaxImageSize,
	}, nil
}

// ProcessDocument runs one comparison job end to end
func (p *DiffProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()

	if req == nil {
		return nil, procerrors.NewInvalidInputError("", "request is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, procerrors.NewInvalidInputError(req.JobID, err.Error(), err)
	}

	log.Printf("[Job %s] Starting comparison pipeline (pagesA=%d, pagesB=%d)",
		req.JobID, req.DocumentA.PageCount(), req.DocumentB.PageCount())

	// Step 1: Resolve both documents into tokens
	log.Printf("[Job %s] Step 1: Loading document A (%s)", req.JobID, req.DocumentA.Path)
	docA, ocrA, err := p.loadDocument(ctx, req.JobID, diff.SideA, &req.DocumentA)
	if err != nil {
		return nil, p.classify(req.JobID, startTime, err)
	}

	log.Printf("[Job %s] Step 1: Loading document B (%s)", req.JobID, req.DocumentB.Path)
	docB, ocrB, err := p.loadDocument(ctx, req.JobID, diff.SideB, &req.DocumentB)
	if err != nil {
		return nil, p.classify(req.JobID, startTime, err)
	}

	// Step 2: Compare
	opts := req.Options.ApplyTo(p.options)
	log.Printf("[Job %s] Step 2: Comparing %d tokens against %d tokens", req.JobID, len(docA.Tokens), len(docB.Tokens))
	result, err := diff.Compare(ctx, docA, docB, opts)
	if err != nil {
		return nil, p.classify(req.JobID, startTime, err)
	}
	counts := result.Counts()
	log.Printf("[Job %s] Comparison complete: differences=%d (insert=%d, delete=%d, replace=%d)",
		req.JobID, result.TotalDifferences, counts[diff.OpInsert], counts[diff.OpDelete], counts[diff.OpReplace])

	// Step 3: Fingerprint changes for the similarity index
	var vectors [][]float32
	if p.store.ChangeIndexEnabled() && len(result.DiffItems) > 0 {
		log.Printf("[Job %s] Step 3: Fingerprinting %d changes", req.JobID, len(result.DiffItems))
		vectors, err = p.fingerprinter.FingerprintItems(result.DiffItems)
		if err != nil {
			return nil, procerrors.NewDiffFailedError(req.JobID, fmt.Errorf("fingerprint generation failed: %w", err))
		}
	}

	// Step 4: Persist
	log.Printf("[Job %s] Step 4: Storing diff result", req.JobID)
	stored, err := p.store.StoreDiffResult(ctx, &storage.DiffResultInput{
		JobID:   req.JobID,
		UserID:  req.UserID,
		Result:  result,
		Vectors: vectors,
	})
	if err != nil {
		return nil, procerrors.NewStorageFailedError(req.JobID, err)
	}
	log.Printf("[Job %s] Diff result stored: resultId=%s, indexedChanges=%d",
		req.JobID, stored.ID, len(stored.PointIDs))

	out := &ProcessResult{
		ResultID:         stored.ID,
		TotalDifferences: result.TotalDifferences,
		Inserts:          counts[diff.OpInsert],
		Deletes:          counts[diff.OpDelete],
		Replaces:         counts[diff.OpReplace],
		PagesA:           result.TotalPagesA,
		PagesB:           result.TotalPagesB,
		OCRPages:         len(ocrA.Pages) + len(ocrB.Pages),
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
		Result:           result,
	}

	log.Printf("[Job %s] Comparison pipeline complete: resultId=%s, differences=%d, took=%dms",
		req.JobID, out.ResultID, out.TotalDifferences, out.ProcessingTimeMs)

	return out, nil
}

// UpdateJobStatus updates job status in database
func (p *DiffProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if userID, ok := metadata["userId"].(string); ok {
			update.UserID = userID
		}
		if resultID, ok := metadata["resultId"].(string); ok {
			update.ResultID = resultID
		}
		if total, ok := metadata["totalDifferences"].(int); ok {
			update.TotalDifferences = total
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = errorMsg
		}
		if code, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = code
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

// loadDocument turns a document input into comparison tokens. Pages that
// carry tokens are used as is; image pages go through OCR.
func (p *DiffProcessor) loadDocument(ctx context.Context, jobID string, side diff.Side, in *DocumentInput) (diff.Document, *OCRResult, error) {
	doc := diff.Document{Path: in.Path, Pages: in.PageCount()}

	var imagePages []PageInput
	for _, page := range in.Pages {
		if page.Tokens == nil {
			imagePages = append(imagePages, page)
			continue
		}
		for _, tok := range page.Tokens {
			tok.Page = page.Page
			doc.Tokens = append(doc.Tokens, tok)
		}
	}

	ocr := &OCRResult{TierUsed: "tokens"}
	if len(imagePages) > 0 {
		var err error
		ocr, err = p.recognizePages(ctx, jobID, side, imagePages)
		if err != nil {
			return diff.Document{}, nil, err
		}
		doc.Tokens = append(doc.Tokens, ocr.Tokens()...)
		log.Printf("[Job %s] OCR complete for %s: pages=%d, words=%d, confidence=%.2f, took=%s",
			jobID, side, len(ocr.Pages), len(ocr.Tokens()), ocr.Confidence(), ocr.Duration)
	}

	return doc, ocr, nil
}

// recognizePages OCRs image pages with at most pageWorkers in flight. The
// first failure cancels the pages still waiting.
func (p *DiffProcessor) recognizePages(ctx context.Context, jobID string, side diff.Side, pages []PageInput) (*OCRResult, error) {
	if p.ocr == nil {
		return nil, procerrors.NewInvalidInputError(jobID,
			fmt.Sprintf("%s has page images but no OCR engine is configured", side), nil)
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, p.pageWorkers)
	results := make([]*OCRPage, len(pages))
	errs := make([]error, len(pages))

	var wg sync.WaitGroup
	for i := range pages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			page, err := p.recognizePage(ctx, jobID, side, &pages[i])
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			results[i] = page
		}(i)
	}
	wg.Wait()

	if err := firstCause(errs); err != nil {
		return nil, err
	}

	out := &OCRResult{TierUsed: "tesseract", Duration: time.Since(start)}
	for _, page := range results {
		out.Pages = append(out.Pages, *page)
	}
	return out, nil
}

func (p *DiffProcessor) recognizePage(ctx context.Context, jobID string, side diff.Side, page *PageInput) (*OCRPage, error) {
	var (
		image []byte
		err   error
	)

	switch {
	case page.ImageURL != "":
		if p.fetcher == nil {
			return nil, procerrors.NewInvalidInputError(jobID,
				fmt.Sprintf("%s page %d: image_url given but page downloads are disabled", side, page.Page), nil)
		}
		image, err = p.fetcher.Fetch(ctx, jobID, page.ImageURL)
		if err != nil {
			return nil, procerrors.NewFetchFailedError(jobID, page.ImageURL, err)
		}
	default:
		image, err = page.decodeImage()
		if err != nil {
			return nil, procerrors.NewInvalidInputError(jobID, fmt.Sprintf("%s: %v", side, err), err)
		}
	}

	if p.maxImageSize > 0 && int64(len(image)) > p.maxImageSize {
		return nil, procerrors.NewInvalidInputError(jobID,
			fmt.Sprintf("%s page %d: image size %d exceeds maximum %d", side, page.Page, len(image), p.maxImageSize), nil)
	}
	if detectImageType(image) == "" {
		return nil, procerrors.NewInvalidInputError(jobID,
			fmt.Sprintf("%s page %d: unsupported image format", side, page.Page), nil)
	}

	result, err := p.ocr.RecognizePage(ctx, image, page.Page)
	if err != nil {
		return nil, procerrors.NewOCRFailedError(jobID, side, page.Page, err)
	}
	result.PageNumber = page.Page
	return result, nil
}

// classify maps a pipeline error to a ProcessingError
func (p *DiffProcessor) classify(jobID string, start time.Time, err error) error {
	var pe *procerrors.ProcessingError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return procerrors.NewProcessingTimeoutError(jobID, time.Since(start), err)
	case errors.As(err, &pe):
		return pe
	default:
		return procerrors.FromDiffError(jobID, err)
	}
}

// firstCause returns the first error that is not a cancellation caused by
// an earlier failure, falling back to the first error of any kind.
func firstCause(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return err
		}
		if fallback == nil {
			fallback = err
		}
	}
	return fallback
}
