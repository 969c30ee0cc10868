/**
 * Comparison Job Model
 *
 * A job names two documents. Each document is a list of pages, and every
 * page carries exactly one source: pre-computed OCR tokens, an inline base64
 * page image, or a URL the worker downloads the page image from.
 */

package processor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// ProcessRequest represents a document comparison request
type ProcessRequest struct {
	JobID     string          `json:"job_id"`
	UserID    string          `json:"user_id,omitempty"`
	DocumentA DocumentInput   `json:"document_a"`
	DocumentB DocumentInput   `json:"document_b"`
	Options   *RequestOptions `json:"options,omitempty"`
}

// DocumentInput describes one side of the comparison
type DocumentInput struct {
	Path       string      `json:"path"`
	TotalPages int         `json:"total_pages,omitempty"`
	Pages      []PageInput `json:"pages"`
}

// PageInput is one page and its single source
type PageInput struct {
	Page     int          `json:"page"`
	Tokens   []diff.Token `json:"tokens"`
	Image    string       `json:"image,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
}

// RequestOptions overrides the worker's comparison defaults for one job
type RequestOptions struct {
	LineToleranceRatio *float64 `json:"line_tolerance_ratio,omitempty"`
	LineTolerancePx    *int     `json:"line_tolerance_px,omitempty"`
	MaxWordGapPx       *int     `json:"max_word_gap_px,omitempty"`
	CharCleanup        *bool    `json:"char_cleanup,omitempty"`
}

// ParseProcessRequest decodes a job payload and validates it
func ParseProcessRequest(data []byte) (*ProcessRequest, error) {
	var req ProcessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the structure of the request without touching any page source
func (r *ProcessRequest) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if err := r.DocumentA.validate(diff.SideA); err != nil {
		return err
	}
	if err := r.DocumentB.validate(diff.SideB); err != nil {
		return err
	}
	if o := r.Options; o != nil {
		if o.LineToleranceRatio != nil && *o.LineToleranceRatio <= 0 {
			return fmt.Errorf("options.line_tolerance_ratio must be positive")
		}
		if o.LineTolerancePx != nil && *o.LineTolerancePx < 0 {
			return fmt.Errorf("options.line_tolerance_px must not be negative")
		}
		if o.MaxWordGapPx != nil && *o.MaxWordGapPx < 0 {
			return fmt.Errorf("options.max_word_gap_px must not be negative")
		}
	}
	return nil
}

// ApplyTo returns base with the request's overrides applied
func (o *RequestOptions) ApplyTo(base diff.Options) diff.Options {
	if o == nil {
		return base
	}
	if o.LineToleranceRatio != nil {
		base.Grouping.ToleranceRatio = *o.LineToleranceRatio
	}
	if o.LineTolerancePx != nil {
		base.Grouping.TolerancePx = *o.LineTolerancePx
	}
	if o.MaxWordGapPx != nil {
		base.Grouping.MaxWordGap = *o.MaxWordGapPx
	}
	if o.CharCleanup != nil {
		base.CharCleanup = *o.CharCleanup
	}
	return base
}

// PageCount is total_pages when given, otherwise the highest listed page
func (d *DocumentInput) PageCount() int {
	if d.TotalPages > 0 {
		return d.TotalPages
	}
	highest := 0
	for _, p := range d.Pages {
		highest = max(highest, p.Page)
	}
	return highest
}

func (d *DocumentInput) validate(side diff.Side) error {
	if d.TotalPages < 0 {
		return fmt.Errorf("%s: total_pages must not be negative", side)
	}

	seen := make(map[int]bool, len(d.Pages))
	for i, p := range d.Pages {
		if p.Page < 1 {
			return fmt.Errorf("%s: pages[%d]: page numbers are 1-based, got %d", side, i, p.Page)
		}
		if seen[p.Page] {
			return fmt.Errorf("%s: page %d listed twice", side, p.Page)
		}
		seen[p.Page] = true

		if n := p.sourceCount(); n != 1 {
			return fmt.Errorf("%s: page %d must provide exactly one of tokens, image, image_url (got %d)", side, p.Page, n)
		}
		if d.TotalPages > 0 && p.Page > d.TotalPages {
			return fmt.Errorf("%s: page %d exceeds total_pages %d", side, p.Page, d.TotalPages)
		}
	}
	return nil
}

func (p *PageInput) sourceCount() int {
	n := 0
	if p.Tokens != nil {
		n++
	}
	if p.Image != "" {
		n++
	}
	if p.ImageURL != "" {
		n++
	}
	return n
}

// decodeImage returns the inline page image bytes
func (p *PageInput) decodeImage() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Image)
	if err != nil {
		return nil, fmt.Errorf("page %d: invalid base64 image: %w", p.Page, err)
	}
	return data, nil
}

// detectImageType returns the MIME type of a raster page image from its
// magic bytes, or "" when the data is not an image Tesseract can read.
func detectImageType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}
