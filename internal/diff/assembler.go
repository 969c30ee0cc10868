/**
 * Result Assembler - runs the full comparison of two OCR'd documents
 *
 * Groups each page's tokens into lines, pairs pages by index, diffs every
 * page pair and concatenates the resulting items in page order. Page pairs
 * are independent, so they can be spread over a fixed pool of workers; each
 * worker writes only its own slot of an index-ordered slice, which keeps the
 * output identical to a sequential run.
 */

package diff

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Options configures one comparison run
type Options struct {
	Grouping GroupOptions

	// CharCleanup folds coincidental single-character matches inside a
	// replaced region into one replace span.
	CharCleanup bool

	// PageWorkers is the number of page pairs diffed concurrently. Values
	// below 2 run sequentially.
	PageWorkers int
}

// DefaultOptions returns the options used when the caller sets nothing
func DefaultOptions() Options {
	return Options{
		Grouping:    DefaultGroupOptions(),
		CharCleanup: true,
		PageWorkers: 1,
	}
}

// Compare diffs document A against document B.
//
// Only structurally invalid input fails: bad tokens, negative page counts
// or tokens on pages beyond the declared count. Identical documents
// produce an empty item list. If ctx is cancelled the run is abandoned
// and no partial result is returned.
func Compare(ctx context.Context, docA, docB Document, opts Options) (*DiffResult, error) {
	linesA, err := groupDocument(docA, SideA, opts.Grouping)
	if err != nil {
		return nil, err
	}
	linesB, err := groupDocument(docB, SideB, opts.Grouping)
	if err != nil {
		return nil, err
	}

	pairs, err := AlignPages(docA.Pages, docB.Pages, linesA, linesB)
	if err != nil {
		return nil, err
	}

	perPair, err := diffPairs(ctx, pairs, opts)
	if err != nil {
		return nil, err
	}

	items := make([]DiffItem, 0)
	for _, pairItems := range perPair {
		items = append(items, pairItems...)
	}

	return &DiffResult{
		PDFAPath:         docA.Path,
		PDFBPath:         docB.Path,
		TotalPagesA:      docA.Pages,
		TotalPagesB:      docB.Pages,
		TotalDifferences: len(items),
		DiffItems:        items,
	}, nil
}

// DiffPagePair diffs the lines of one page pair and maps every non-equal
// block to a DiffItem, in block order.
func DiffPagePair(pair PagePair, opts Options) []DiffItem {
	var items []DiffItem
	for _, block := range DiffLines(pair.LinesA, pair.LinesB) {
		if item, ok := MapBlock(pair, block, opts); ok {
			items = append(items, item)
		}
	}
	return items
}

func groupDocument(doc Document, side Side, opts GroupOptions) ([][]Line, error) {
	byPage, err := doc.TokensByPage(side)
	if err != nil {
		return nil, err
	}
	pages := make([][]Line, len(byPage))
	for i, tokens := range byPage {
		lines, err := GroupLines(tokens, side, i+1, opts)
		if err != nil {
			var invalid *InvalidTokenError
			if errors.As(err, &invalid) {
				invalid.Index = documentIndex(doc.Tokens, i+1, invalid.Index)
			}
			return nil, err
		}
		pages[i] = lines
	}
	return pages, nil
}

// documentIndex maps the n-th token of a page back to its position in the
// document's token list. TokensByPage keeps document order within a page.
func documentIndex(tokens []Token, page, n int) int {
	seen := 0
	for i, tok := range tokens {
		if tok.Page != page {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	return n
}

func diffPairs(ctx context.Context, pairs []PagePair, opts Options) ([][]DiffItem, error) {
	results := make([][]DiffItem, len(pairs))

	if opts.PageWorkers < 2 || len(pairs) < 2 {
		for i, pair := range pairs {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("comparison cancelled at page %d: %w", pair.Index, err)
			}
			results[i] = DiffPagePair(pair, opts)
		}
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	jobs := make(chan int)

	workers := min(opts.PageWorkers, len(pairs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("comparison cancelled at page %d: %w", pairs[i].Index, err)
						cancel()
					})
					continue
				}
				results[i] = DiffPagePair(pairs[i], opts)
			}
		}()
	}

feed:
	for i := range pairs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("comparison cancelled: %w", err)
	}
	return results, nil
}
