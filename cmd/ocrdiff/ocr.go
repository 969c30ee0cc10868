package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/logging"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
)

type ocrFlags struct {
	output    string
	languages []string
	dpi       int
	path      string
}

func newOCRCmd() *cobra.Command {
	var f ocrFlags

	cmd := &cobra.Command{
		Use:   "ocr page1.png [page2.png ...]",
		Short: "OCR page images into a token document",
		Long: "Runs Tesseract over the page images, one per page in argument order, " +
			"and writes a token document usable by compare.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOCR(cmd, args, &f)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the document to this file instead of stdout")
	cmd.Flags().StringSliceVar(&f.languages, "lang", []string{"eng"}, "Tesseract languages")
	cmd.Flags().IntVar(&f.dpi, "dpi", 300, "Resolution the pages were rasterized at")
	cmd.Flags().StringVar(&f.path, "source", "", "Source document path recorded in the output")
	return cmd
}

func runOCR(cmd *cobra.Command, args []string, f *ocrFlags) error {
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), "ocrdiff")

	if f.dpi < 72 || f.dpi > 600 {
		return fmt.Errorf("--dpi must be between 72 and 600, got %d", f.dpi)
	}

	engine, err := processor.NewTesseractOCR(&processor.TesseractConfig{
		Languages: f.languages,
		DPI:       f.dpi,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	result := &processor.OCRResult{TierUsed: "tesseract"}
	for i, imagePath := range args {
		image, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("failed to read page %d: %w", i+1, err)
		}

		page, err := engine.RecognizePage(cmd.Context(), image, i+1)
		if err != nil {
			return fmt.Errorf("OCR failed on page %d (%s): %w", i+1, imagePath, err)
		}
		logger.Debug("Page recognized", "page", i+1, "words", len(page.Words), "confidence", page.Confidence)
		result.Pages = append(result.Pages, *page)
	}
	result.Duration = time.Since(start)

	doc := tokenDocument(f.path, len(args), result)
	logger.Info("OCR complete", "pages", doc.Pages, "tokens", len(doc.Tokens),
		"confidence", result.Confidence(), "duration", result.Duration)

	return writeOutput(cmd.OutOrStdout(), f.output, doc)
}

func tokenDocument(path string, pages int, result *processor.OCRResult) diff.Document {
	tokens := result.Tokens()
	if tokens == nil {
		tokens = []diff.Token{}
	}
	return diff.Document{Path: path, Pages: pages, Tokens: tokens}
}
