package diff

import "fmt"

// InvalidTokenError is returned by the line grouper for tokens that cannot
// be placed on a page: empty text, zero/negative area or a negative origin.
//
// Index is the token's position in the slice given to GroupLines. Errors
// returned by Compare carry the position in Document.Tokens instead.
type InvalidTokenError struct {
	Side   Side
	Page   int
	Index  int
	Text   string
	Reason string
}

func (e *InvalidTokenError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("invalid token %d on page %d of %s (%q): %s", e.Index, e.Page, e.Side, e.Text, e.Reason)
	}
	return fmt.Sprintf("invalid token %d on page %d of %s: %s", e.Index, e.Page, e.Side, e.Reason)
}

// PageCountMismatchError is returned when page counts are structurally
// invalid: negative, or smaller than the pages actually supplied.
type PageCountMismatchError struct {
	Side     Side
	Declared int
	Got      int
}

func (e *PageCountMismatchError) Error() string {
	if e.Declared < 0 {
		return fmt.Sprintf("page count mismatch for %s: negative page count %d", e.Side, e.Declared)
	}
	return fmt.Sprintf("page count mismatch for %s: declared %d pages, got page %d", e.Side, e.Declared, e.Got)
}
