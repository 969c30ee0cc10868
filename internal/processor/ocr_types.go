/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Word-level OCR output for one rasterized document, convertible into the
 * token stream the comparison consumes.
 */

package processor

import (
	"context"
	"time"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// OCREngine recognises the words on one page image
type OCREngine interface {
	RecognizePage(ctx context.Context, image []byte, page int) (*OCRPage, error)
}

// OCRResult represents the result of OCR processing for one document
type OCRResult struct {
	Pages    []OCRPage
	TierUsed string // "tesseract", "tokens" when the caller supplied words
	Duration time.Duration
}

// OCRPage represents a single page of OCR results
type OCRPage struct {
	PageNumber int
	Text       string
	Confidence float64
	Words      []OCRWord
}

// OCRWord represents a single word with bounding box
type OCRWord struct {
	Text        string
	Confidence  float64
	BoundingBox diff.BoundingBox
}

// Tokens flattens the words of every page into comparison tokens
func (r *OCRResult) Tokens() []diff.Token {
	var tokens []diff.Token
	for _, page := range r.Pages {
		for _, w := range page.Words {
			tokens = append(tokens, diff.Token{
				Text:        w.Text,
				BoundingBox: w.BoundingBox,
				Page:        page.PageNumber,
				Confidence:  w.Confidence,
			})
		}
	}
	return tokens
}

// Confidence is the word-weighted mean confidence across pages
func (r *OCRResult) Confidence() float64 {
	var sum float64
	var n int
	for _, page := range r.Pages {
		for _, w := range page.Words {
			sum += w.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
