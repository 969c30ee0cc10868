/**
 * Spatial Mapper - turns a line-level change block into a DiffItem
 *
 * Attaches page numbers, block text and line bounding boxes for every side
 * the block touches, renders a unified diff and, for replaces where both
 * pages exist, the character-level spans.
 */

package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const unifiedContext = 3

// MapBlock converts one change block of a page pair into a DiffItem.
// Equal blocks yield ok == false and must be skipped.
func MapBlock(pair PagePair, block ChangeBlock, opts Options) (item DiffItem, ok bool) {
	if block.Operation == OpEqual {
		return DiffItem{}, false
	}

	item = DiffItem{
		Operation:      block.Operation,
		BoundingBoxesA: lineBoxes(block.LinesA),
		BoundingBoxesB: lineBoxes(block.LinesB),
	}

	var textA, textB string
	if len(block.LinesA) > 0 {
		textA = block.TextA()
		item.PageA = intPtr(pair.PageA)
		item.TextA = strPtr(textA)
	}
	if len(block.LinesB) > 0 {
		textB = block.TextB()
		item.PageB = intPtr(pair.PageB)
		item.TextB = strPtr(textB)
	}

	label := fmt.Sprintf("page_%d", pair.Index)
	item.UnifiedDiff = UnifiedDiff(textA, textB, label, label)

	if block.Operation == OpReplace && pair.HasA() && pair.HasB() {
		item.CharDiffs = DiffChars(textA, textB, opts)
	}
	return item, true
}

// UnifiedDiff renders a line-oriented unified diff of two newline-joined
// texts with the usual three lines of context. An empty text is treated as
// having no lines. The trailing newline is trimmed.
func UnifiedDiff(textA, textB, labelA, labelB string) string {
	ud := difflib.UnifiedDiff{
		A:        splitLines(textA),
		B:        splitLines(textB),
		FromFile: labelA,
		ToFile:   labelB,
		Context:  unifiedContext,
	}
	out, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		// writes go to an in-memory buffer
		return ""
	}
	return strings.TrimRight(out, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}

func lineBoxes(lines []Line) []BoundingBox {
	boxes := make([]BoundingBox, 0, len(lines))
	for _, l := range lines {
		boxes = append(boxes, l.BoundingBox)
	}
	return boxes
}
