/**
 * Diff Types - data model shared by every stage of the comparison pipeline
 *
 * Tokens come from OCR, Lines from the grouper, ChangeBlocks from the line
 * differ, and DiffItems/DiffResult are the externally visible JSON contract.
 */

package diff

import (
	"fmt"
	"strings"
)

// Side identifies which of the two compared documents an entity belongs to
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Operation is the kind of change a block or span represents
type Operation string

const (
	OpEqual   Operation = "equal"
	OpDelete  Operation = "delete"
	OpInsert  Operation = "insert"
	OpReplace Operation = "replace"
)

// BoundingBox is a rectangle in raster pixel space (origin top-left)
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right returns the exclusive right edge
func (b BoundingBox) Right() int { return b.X + b.Width }

// Bottom returns the exclusive bottom edge
func (b BoundingBox) Bottom() int { return b.Y + b.Height }

// CenterY returns the vertical centre as a float to avoid rounding bias
func (b BoundingBox) CenterY() float64 {
	return float64(b.Y) + float64(b.Height)/2
}

// Valid reports whether the box has positive area and a non-negative origin
func (b BoundingBox) Valid() bool {
	return b.Width > 0 && b.Height > 0 && b.X >= 0 && b.Y >= 0
}

// Union returns the smallest box containing both b and o
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x := min(b.X, o.X)
	y := min(b.Y, o.Y)
	return BoundingBox{
		X:      x,
		Y:      y,
		Width:  max(b.Right(), o.Right()) - x,
		Height: max(b.Bottom(), o.Bottom()) - y,
	}
}

// Overlaps reports whether two boxes share any area
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	return b.X < o.Right() && o.X < b.Right() && b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Token is one OCR-recognised word
type Token struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Page        int         `json:"page"`
	Confidence  float64     `json:"confidence,omitempty"`
}

// Line is a cluster of tokens that sit on the same visual text line
type Line struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bounding_box"`
	PageIndex   int         `json:"page_index"`
	Side        Side        `json:"side"`
}

// ChangeBlock is one contiguous run of same-operation alignment output
type ChangeBlock struct {
	Operation Operation
	LinesA    []Line
	LinesB    []Line
}

// TextA joins the A-side line texts with newlines
func (c ChangeBlock) TextA() string { return joinLines(c.LinesA) }

// TextB joins the B-side line texts with newlines
func (c ChangeBlock) TextB() string { return joinLines(c.LinesB) }

func joinLines(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// CharDiff is a character-level span inside a replace block. Offsets are
// half-open and count Unicode code points. Fields for a side that the span
// does not touch are nil and serialize as null.
type CharDiff struct {
	Operation Operation `json:"operation"`
	TextA     *string   `json:"text_a"`
	TextB     *string   `json:"text_b"`
	StartA    *int      `json:"start_a"`
	EndA      *int      `json:"end_a"`
	StartB    *int      `json:"start_b"`
	EndB      *int      `json:"end_b"`
}

// DiffItem is the serialized form of a non-equal ChangeBlock
type DiffItem struct {
	Operation      Operation     `json:"operation"`
	PageA          *int          `json:"page_a"`
	PageB          *int          `json:"page_b"`
	TextA          *string       `json:"text_a"`
	TextB          *string       `json:"text_b"`
	BoundingBoxesA []BoundingBox `json:"bounding_boxes_a"`
	BoundingBoxesB []BoundingBox `json:"bounding_boxes_b"`
	UnifiedDiff    string        `json:"unified_diff"`
	CharDiffs      []CharDiff    `json:"char_diffs,omitempty"`
}

// SortPage is the page the item is ordered by: page_a, or page_b when A is absent
func (d DiffItem) SortPage() int {
	if d.PageA != nil {
		return *d.PageA
	}
	if d.PageB != nil {
		return *d.PageB
	}
	return 0
}

// DiffResult is the complete comparison of two documents
type DiffResult struct {
	PDFAPath         string     `json:"pdf_a_path"`
	PDFBPath         string     `json:"pdf_b_path"`
	TotalPagesA      int        `json:"total_pages_a"`
	TotalPagesB      int        `json:"total_pages_b"`
	TotalDifferences int        `json:"total_differences"`
	DiffItems        []DiffItem `json:"diff_items"`
}

// Counts returns the number of items per operation
func (r *DiffResult) Counts() map[Operation]int {
	counts := map[Operation]int{OpInsert: 0, OpDelete: 0, OpReplace: 0}
	for _, item := range r.DiffItems {
		counts[item.Operation]++
	}
	return counts
}

// Document is the OCR output of one rasterized document
type Document struct {
	Path   string  `json:"path"`
	Pages  int     `json:"total_pages"`
	Tokens []Token `json:"tokens"`
}

// TokensByPage buckets tokens by their 1-based page. Tokens pointing outside
// 1..Pages are structural errors.
func (d Document) TokensByPage(side Side) ([][]Token, error) {
	if d.Pages < 0 {
		return nil, &PageCountMismatchError{Side: side, Declared: d.Pages, Got: 0}
	}
	pages := make([][]Token, d.Pages)
	for i, tok := range d.Tokens {
		if tok.Page < 1 {
			return nil, &InvalidTokenError{Side: side, Page: tok.Page, Index: i, Reason: "page index must be 1-based"}
		}
		if tok.Page > d.Pages {
			return nil, &PageCountMismatchError{Side: side, Declared: d.Pages, Got: tok.Page}
		}
		pages[tok.Page-1] = append(pages[tok.Page-1], tok)
	}
	return pages, nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func (o Operation) String() string { return string(o) }

func (s Side) String() string { return fmt.Sprintf("document %s", string(s)) }
