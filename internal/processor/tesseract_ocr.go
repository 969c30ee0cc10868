/**
 * Tesseract OCR - word-level recognition of rasterized pages
 *
 * Simple, free, offline OCR using Tesseract. Every recognised word comes
 * back with its pixel bounding box in the coordinate space of the page
 * image, which is what the line grouper works on.
 */

package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// TesseractOCR handles word-level OCR using Tesseract
type TesseractOCR struct {
	languages []string
	dpi       int
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string // defaults to eng
	DPI       int      // resolution the pages were rasterized at, 0 = let Tesseract guess
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	if cfg.DPI < 0 {
		return nil, fmt.Errorf("invalid DPI %d", cfg.DPI)
	}

	return &TesseractOCR{
		languages: langs,
		dpi:       cfg.DPI,
	}, nil
}

// RecognizePage performs OCR on one page image and returns its words
func (t *TesseractOCR) RecognizePage(ctx context.Context, image []byte, page int) (*OCRPage, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("page %d: empty image", page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Create Tesseract client
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", t.languages, err)
	}
	if t.dpi > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(t.dpi)); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}

	// Set image from bytes
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return wordsToPage(boxes, page), nil
}

// wordsToPage keeps the non-blank words with a usable box
func wordsToPage(boxes []gosseract.BoundingBox, page int) *OCRPage {
	result := &OCRPage{PageNumber: page}
	texts := make([]string, 0, len(boxes))
	var confSum float64

	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		box := diff.BoundingBox{
			X:      b.Box.Min.X,
			Y:      b.Box.Min.Y,
			Width:  b.Box.Dx(),
			Height: b.Box.Dy(),
		}
		if !box.Valid() {
			continue
		}
		// gosseract reports confidence as 0..100
		conf := b.Confidence / 100
		result.Words = append(result.Words, OCRWord{Text: text, Confidence: conf, BoundingBox: box})
		texts = append(texts, text)
		confSum += conf
	}

	result.Text = strings.Join(texts, " ")
	if len(result.Words) > 0 {
		result.Confidence = confSum / float64(len(result.Words))
	}
	return result
}
