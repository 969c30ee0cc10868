package diff

// DiffChars computes character-level spans between two texts. Offsets count
// code points, so multi-byte characters are never split. With CharCleanup set,
// short coincidental matches between edits are folded so that a changed word
// comes out as one replace instead of scattered single-letter edits.
//
// Spans with operation equal are included: together the spans cover both
// texts contiguously from 0 to their length.
func DiffChars(textA, textB string, opts Options) []CharDiff {
	ra, rb := []rune(textA), []rune(textB)
	ops := Align(ra, rb, func(r rune) rune { return r })
	if opts.CharCleanup {
		ops = CleanupOpcodes(ops)
	}

	spans := make([]CharDiff, 0, len(ops))
	for _, op := range ops {
		span := CharDiff{Operation: op.Tag}
		if op.Tag != OpInsert {
			span.TextA = strPtr(string(ra[op.I1:op.I2]))
			span.StartA = intPtr(op.I1)
			span.EndA = intPtr(op.I2)
		}
		if op.Tag != OpDelete {
			span.TextB = strPtr(string(rb[op.J1:op.J2]))
			span.StartB = intPtr(op.J1)
			span.EndB = intPtr(op.J2)
		}
		spans = append(spans, span)
	}
	return spans
}
