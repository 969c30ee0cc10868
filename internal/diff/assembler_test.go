package diff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// lineTokens lays out each text as one line of space-separated words on the page
func lineTokens(page int, texts ...string) []Token {
	var tokens []Token
	for row, text := range texts {
		x := 20
		for _, w := range bytes.Fields([]byte(text)) {
			width := 12 * len(w)
			tokens = append(tokens, word(string(w), x, 40+row*40, width, 20, page))
			x += width + 8
		}
	}
	return tokens
}

func doc(path string, pages ...[]string) Document {
	d := Document{Path: path, Pages: len(pages)}
	for i, lines := range pages {
		d.Tokens = append(d.Tokens, lineTokens(i+1, lines...)...)
	}
	return d
}

func TestCompareIdenticalDocuments(t *testing.T) {
	a := doc("a.pdf", []string{"Title", "Body text"}, []string{"Page two"})
	res, err := Compare(context.Background(), a, a, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalDifferences != 0 || len(res.DiffItems) != 0 {
		t.Fatalf("identical documents produced %d differences", res.TotalDifferences)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"diff_items":[]`)) {
		t.Fatalf("diff_items should serialize as an empty list: %s", raw)
	}
}

func TestCompareHelloWorldReplace(t *testing.T) {
	a := doc("a.pdf", []string{"Hello world"})
	b := doc("b.pdf", []string{"Hello there"})

	res, err := Compare(context.Background(), a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalDifferences != 1 {
		t.Fatalf("expected 1 difference, got %d", res.TotalDifferences)
	}

	item := res.DiffItems[0]
	if item.Operation != OpReplace || *item.PageA != 1 || *item.PageB != 1 {
		t.Fatalf("unexpected item %+v", item)
	}
	if *item.TextA != "Hello world" || *item.TextB != "Hello there" {
		t.Fatalf("item texts %q / %q", *item.TextA, *item.TextB)
	}
	if len(item.CharDiffs) != 2 {
		t.Fatalf("expected 2 char spans, got %s", describeSpans(item.CharDiffs))
	}
	if item.CharDiffs[0].Operation != OpEqual || *item.CharDiffs[0].TextA != "Hello " {
		t.Fatalf("first span %s", describeSpans(item.CharDiffs))
	}
	if item.CharDiffs[1].Operation != OpReplace || *item.CharDiffs[1].TextA != "world" || *item.CharDiffs[1].TextB != "there" {
		t.Fatalf("second span %s", describeSpans(item.CharDiffs))
	}
	if item.UnifiedDiff != "--- page_1\n+++ page_1\n@@ -1 +1 @@\n-Hello world\n+Hello there" {
		t.Fatalf("unified diff %q", item.UnifiedDiff)
	}
	if res.PDFAPath != "a.pdf" || res.PDFBPath != "b.pdf" {
		t.Fatalf("paths %q %q", res.PDFAPath, res.PDFBPath)
	}
}

func TestCompareExtraPageInA(t *testing.T) {
	a := doc("a.pdf", []string{"Shared first page"}, []string{"Appendix"})
	b := doc("b.pdf", []string{"Shared first page"})

	res, err := Compare(context.Background(), a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalPagesA != 2 || res.TotalPagesB != 1 {
		t.Fatalf("page totals %d/%d", res.TotalPagesA, res.TotalPagesB)
	}
	if res.TotalDifferences != 1 {
		t.Fatalf("expected 1 difference, got %d", res.TotalDifferences)
	}
	item := res.DiffItems[0]
	if item.Operation != OpDelete || item.PageA == nil || *item.PageA != 2 || item.PageB != nil {
		t.Fatalf("expected delete on page 2 only, got %+v", item)
	}
	if item.TextB != nil || len(item.BoundingBoxesB) != 0 {
		t.Fatalf("delete item has B-side data: %+v", item)
	}
}

func TestCompareEmptyPages(t *testing.T) {
	a := Document{Path: "a.pdf", Pages: 2}
	b := Document{Path: "b.pdf", Pages: 2}
	res, err := Compare(context.Background(), a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalDifferences != 0 {
		t.Fatalf("empty pages produced %d differences", res.TotalDifferences)
	}
}

func TestCompareStructuralErrors(t *testing.T) {
	good := doc("a.pdf", []string{"text"})

	_, err := Compare(context.Background(), Document{Pages: -1}, good, DefaultOptions())
	var mismatch *PageCountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("negative page count: expected PageCountMismatchError, got %v", err)
	}

	beyond := Document{Pages: 1, Tokens: []Token{word("late", 0, 0, 10, 10, 2)}}
	_, err = Compare(context.Background(), good, beyond, DefaultOptions())
	if !errors.As(err, &mismatch) || mismatch.Side != SideB {
		t.Fatalf("token beyond page count: expected PageCountMismatchError for B, got %v", err)
	}

	bad := Document{Pages: 1, Tokens: []Token{word("flat", 0, 0, 10, 0, 1)}}
	_, err = Compare(context.Background(), bad, good, DefaultOptions())
	var invalid *InvalidTokenError
	if !errors.As(err, &invalid) {
		t.Fatalf("zero-area token: expected InvalidTokenError, got %v", err)
	}
}

func TestCompareProperties(t *testing.T) {
	a := doc("a.pdf",
		[]string{"Contract", "Party A agrees", "to pay 100 EUR", "Signed"},
		[]string{"Terms", "No refunds"},
		[]string{"Annex"},
	)
	b := doc("b.pdf",
		[]string{"Contract", "Party B agrees", "to pay 120 EUR", "Signed", "Witness"},
		[]string{"Terms"},
	)

	res, err := Compare(context.Background(), a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalDifferences != len(res.DiffItems) {
		t.Fatalf("total_differences %d != %d items", res.TotalDifferences, len(res.DiffItems))
	}

	lastPage := 0
	for i, item := range res.DiffItems {
		if item.Operation == OpEqual {
			t.Fatalf("item %d is an equal block", i)
		}
		if (item.PageA == nil) != (item.TextA == nil) || (item.PageA == nil) != (len(item.BoundingBoxesA) == 0) {
			t.Fatalf("item %d has inconsistent A side: %+v", i, item)
		}
		if (item.PageB == nil) != (item.TextB == nil) || (item.PageB == nil) != (len(item.BoundingBoxesB) == 0) {
			t.Fatalf("item %d has inconsistent B side: %+v", i, item)
		}
		switch item.Operation {
		case OpInsert:
			if item.PageA != nil {
				t.Fatalf("insert item %d has page_a", i)
			}
		case OpDelete:
			if item.PageB != nil {
				t.Fatalf("delete item %d has page_b", i)
			}
		case OpReplace:
			checkCoverage(t, *item.TextA, item.CharDiffs, func(s CharDiff) (*string, *int, *int) { return s.TextA, s.StartA, s.EndA })
			checkCoverage(t, *item.TextB, item.CharDiffs, func(s CharDiff) (*string, *int, *int) { return s.TextB, s.StartB, s.EndB })
		}
		if item.UnifiedDiff == "" {
			t.Fatalf("item %d has no unified diff", i)
		}
		if p := item.SortPage(); p < lastPage {
			t.Fatalf("item %d on page %d after page %d", i, p, lastPage)
		} else {
			lastPage = p
		}
	}

	counts := res.Counts()
	if counts[OpReplace] == 0 || counts[OpDelete] == 0 || counts[OpInsert] == 0 {
		t.Fatalf("expected every kind of change, got %v", counts)
	}
}

func TestCompareParallelMatchesSequential(t *testing.T) {
	var pagesA, pagesB [][]string
	for p := 0; p < 12; p++ {
		pagesA = append(pagesA, []string{fmt.Sprintf("Heading %d", p), "common body", fmt.Sprintf("value %d", p*3)})
		pagesB = append(pagesB, []string{fmt.Sprintf("Heading %d", p), "common body changed", fmt.Sprintf("value %d", p*3+p%2)})
	}
	a := doc("a.pdf", pagesA...)
	b := doc("b.pdf", pagesB...)

	seqOpts := DefaultOptions()
	seq, err := Compare(context.Background(), a, b, seqOpts)
	if err != nil {
		t.Fatalf("sequential Compare failed: %v", err)
	}
	want, _ := json.Marshal(seq)

	for _, workers := range []int{2, 4, 16} {
		opts := DefaultOptions()
		opts.PageWorkers = workers
		par, err := Compare(context.Background(), a, b, opts)
		if err != nil {
			t.Fatalf("parallel Compare (%d workers) failed: %v", workers, err)
		}
		got, _ := json.Marshal(par)
		if !bytes.Equal(got, want) {
			t.Fatalf("parallel run with %d workers differs from sequential run", workers)
		}
	}
}

func TestCompareCancelled(t *testing.T) {
	a := doc("a.pdf", []string{"one"}, []string{"two"}, []string{"three"})
	b := doc("b.pdf", []string{"uno"}, []string{"dos"}, []string{"tres"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 3} {
		opts := DefaultOptions()
		opts.PageWorkers = workers
		res, err := Compare(ctx, a, b, opts)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("workers=%d: expected context.Canceled, got %v", workers, err)
		}
		if res != nil {
			t.Fatalf("workers=%d: cancelled run returned a partial result", workers)
		}
	}
}

func TestCompareTokenWithEmbeddedNewline(t *testing.T) {
	a := Document{Path: "a.pdf", Pages: 1, Tokens: []Token{word("a\nb", 20, 40, 40, 20, 1)}}
	b := doc("b.pdf", []string{"a", "b"})

	res, err := Compare(context.Background(), a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if res.TotalDifferences != 1 {
		t.Fatalf("expected one difference, got %+v", res.DiffItems)
	}
	item := res.DiffItems[0]
	if item.Operation != OpReplace || *item.TextA != "a b" || *item.TextB != "a\nb" {
		t.Fatalf("replace texts must differ: %q vs %q", *item.TextA, *item.TextB)
	}
}

func TestCompareReportsDocumentTokenIndex(t *testing.T) {
	a := Document{Path: "a.pdf", Pages: 2, Tokens: []Token{
		word("one", 10, 10, 30, 12, 2),
		word("two", 10, 10, 30, 12, 1),
		word("three", 50, 10, 30, 12, 2),
		word("bad", 90, 10, 0, 12, 2),
	}}

	_, err := Compare(context.Background(), a, doc("b.pdf", []string{"x"}), DefaultOptions())
	var invalid *InvalidTokenError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTokenError, got %v", err)
	}
	if invalid.Index != 3 || invalid.Page != 2 || invalid.Side != SideA {
		t.Fatalf("expected token 3 on page 2 of A, got %+v", invalid)
	}
}
