package diff

// PagePair is the positional association of page Index in both documents.
// PageA/PageB are 0 when the document has no such page.
type PagePair struct {
	Index  int
	PageA  int
	PageB  int
	LinesA []Line
	LinesB []Line
}

// HasA reports whether document A has this page
func (p PagePair) HasA() bool { return p.PageA > 0 }

// HasB reports whether document B has this page
func (p PagePair) HasB() bool { return p.PageB > 0 }

// AlignPages pairs pages strictly by index for 1..max(totalA, totalB).
// Per-page line lists may be shorter than the page count (trailing pages
// are empty) but never longer.
func AlignPages(totalA, totalB int, linesA, linesB [][]Line) ([]PagePair, error) {
	if err := checkPageCount(SideA, totalA, len(linesA)); err != nil {
		return nil, err
	}
	if err := checkPageCount(SideB, totalB, len(linesB)); err != nil {
		return nil, err
	}

	n := max(totalA, totalB)
	pairs := make([]PagePair, 0, n)
	for idx := 1; idx <= n; idx++ {
		pair := PagePair{Index: idx}
		if idx <= totalA {
			pair.PageA = idx
			if idx <= len(linesA) {
				pair.LinesA = linesA[idx-1]
			}
		}
		if idx <= totalB {
			pair.PageB = idx
			if idx <= len(linesB) {
				pair.LinesB = linesB[idx-1]
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func checkPageCount(side Side, declared, supplied int) error {
	if declared < 0 || supplied > declared {
		return &PageCountMismatchError{Side: side, Declared: declared, Got: supplied}
	}
	return nil
}
