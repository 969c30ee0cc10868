package diff

import (
	"math"
	"sort"
	"strings"
)

const defaultToleranceRatio = 0.5

// GroupOptions tunes the vertical clustering that turns words into lines.
type GroupOptions struct {
	// ToleranceRatio is the allowed distance between a token's vertical
	// centre and the line reference, as a fraction of the token's height.
	ToleranceRatio float64

	// TolerancePx replaces the ratio with a fixed pixel distance when > 0.
	TolerancePx int

	// MaxWordGap splits a line wherever the horizontal gap between two
	// neighbouring words exceeds this many pixels. 0 disables splitting.
	MaxWordGap int
}

// DefaultGroupOptions returns half-a-token-height tolerance with no gap splitting
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{ToleranceRatio: defaultToleranceRatio}
}

func (o GroupOptions) tolerance(tok Token) float64 {
	if o.TolerancePx > 0 {
		return float64(o.TolerancePx)
	}
	ratio := o.ToleranceRatio
	if ratio <= 0 {
		ratio = defaultToleranceRatio
	}
	return ratio * float64(tok.BoundingBox.Height)
}

// GroupLines clusters the tokens of one page into ordered lines.
//
// Tokens are visited in (top, left) order. A token joins the current line
// when its vertical centre lies within tolerance of the line's running mean
// centre; otherwise the line is closed. This assumes roughly horizontal,
// single-column text: multi-column pages can interleave.
func GroupLines(tokens []Token, side Side, page int, opts GroupOptions) ([]Line, error) {
	for i, tok := range tokens {
		if err := validateToken(tok, side, page, i); err != nil {
			return nil, err
		}
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	sorted := append([]Token(nil), tokens...)
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := sorted[i].BoundingBox, sorted[j].BoundingBox
		if bi.Y != bj.Y {
			return bi.Y < bj.Y
		}
		return bi.X < bj.X
	})

	var (
		lines   []Line
		current []Token
		refSum  float64
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		lines = append(lines, buildLines(current, side, page, opts.MaxWordGap)...)
		current = nil
		refSum = 0
	}

	for _, tok := range sorted {
		if len(current) > 0 {
			ref := refSum / float64(len(current))
			if math.Abs(tok.BoundingBox.CenterY()-ref) > opts.tolerance(tok) {
				flush()
			}
		}
		current = append(current, tok)
		refSum += tok.BoundingBox.CenterY()
	}
	flush()

	return lines, nil
}

func validateToken(tok Token, side Side, page, index int) error {
	reason := ""
	switch {
	case len(strings.Fields(tok.Text)) == 0:
		reason = "empty text"
	case tok.BoundingBox.Width <= 0 || tok.BoundingBox.Height <= 0:
		reason = "bounding box has zero or negative area"
	case tok.BoundingBox.X < 0 || tok.BoundingBox.Y < 0:
		reason = "bounding box origin is negative"
	}
	if reason == "" {
		return nil
	}
	return &InvalidTokenError{Side: side, Page: page, Index: index, Text: tok.Text, Reason: reason}
}

// buildLines orders a cluster left to right and emits one line, or several
// when gap splitting is enabled.
func buildLines(cluster []Token, side Side, page, maxGap int) []Line {
	words := append([]Token(nil), cluster...)
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].BoundingBox.X < words[j].BoundingBox.X
	})

	var lines []Line
	start := 0
	for i := 1; i <= len(words); i++ {
		if i < len(words) && (maxGap <= 0 || words[i].BoundingBox.X-words[i-1].BoundingBox.Right() <= maxGap) {
			continue
		}
		lines = append(lines, newLine(words[start:i], side, page))
		start = i
	}
	return lines
}

func newLine(words []Token, side Side, page int) Line {
	texts := make([]string, len(words))
	box := words[0].BoundingBox
	for i, w := range words {
		texts[i] = normalizeText(w.Text)
		box = box.Union(w.BoundingBox)
	}
	return Line{
		Text:        strings.Join(texts, " "),
		BoundingBox: box,
		PageIndex:   page,
		Side:        side,
	}
}

// normalizeText collapses every whitespace run, including newlines inside
// a token, to one space so a line's text never spans visual lines.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
