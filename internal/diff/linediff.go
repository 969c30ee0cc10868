package diff

// DiffLines aligns two line sequences by exact text equality and returns
// the change blocks in order. Concatenating the A-side lines of all blocks
// reproduces linesA, and likewise for B.
func DiffLines(linesA, linesB []Line) []ChangeBlock {
	ops := Align(linesA, linesB, func(l Line) string { return l.Text })
	blocks := make([]ChangeBlock, 0, len(ops))
	for _, op := range ops {
		blocks = append(blocks, ChangeBlock{
			Operation: op.Tag,
			LinesA:    linesA[op.I1:op.I2:op.I2],
			LinesB:    linesB[op.J1:op.J2:op.J2],
		})
	}
	return blocks
}
