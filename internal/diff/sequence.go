package diff

import "sort"

// Opcode describes how to turn a[I1:I2] into b[J1:J2]
type Opcode struct {
	Tag Operation
	I1  int
	I2  int
	J1  int
	J2  int
}

// LenA is the number of A-side elements the opcode covers
func (o Opcode) LenA() int { return o.I2 - o.I1 }

// LenB is the number of B-side elements the opcode covers
func (o Opcode) LenB() int { return o.J2 - o.J1 }

type matchBlock struct {
	a, b, size int
}

// Align computes the edit opcodes between a and b. Elements are compared by
// the key function, so the same routine serves lines (keyed by text) and
// characters (keyed by rune). The alignment is the longest-matching-block
// recursion: the longest common run is fixed first, earliest in a and then in
// b on ties, and both sides of it are solved recursively. Output is fully
// deterministic for a given input.
func Align[T any, K comparable](a, b []T, key func(T) K) []Opcode {
	ka := make([]K, len(a))
	for i, v := range a {
		ka[i] = key(v)
	}
	kb := make([]K, len(b))
	for i, v := range b {
		kb[i] = key(v)
	}
	m := newMatcher(ka, kb)
	return m.opcodes()
}

type matcher[K comparable] struct {
	a   []K
	b   []K
	b2j map[K][]int
}

func newMatcher[K comparable](a, b []K) *matcher[K] {
	b2j := make(map[K][]int)
	for j, k := range b {
		b2j[k] = append(b2j[k], j)
	}
	return &matcher[K]{a: a, b: b, b2j: b2j}
}

// longestMatch finds the longest block a[i:i+n] == b[j:j+n] inside the
// given window, preferring the smallest i and then the smallest j.
func (m *matcher[K]) longestMatch(alo, ahi, blo, bhi int) matchBlock {
	best := matchBlock{a: alo, b: blo}
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		next := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > best.size {
				best = matchBlock{a: i - k + 1, b: j - k + 1, size: k}
			}
		}
		j2len = next
	}
	return best
}

func (m *matcher[K]) matchingBlocks() []matchBlock {
	type window struct{ alo, ahi, blo, bhi int }

	la, lb := len(m.a), len(m.b)
	queue := []window{{0, la, 0, lb}}
	var blocks []matchBlock
	for len(queue) > 0 {
		w := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		x := m.longestMatch(w.alo, w.ahi, w.blo, w.bhi)
		if x.size == 0 {
			continue
		}
		blocks = append(blocks, x)
		if w.alo < x.a && w.blo < x.b {
			queue = append(queue, window{w.alo, x.a, w.blo, x.b})
		}
		if x.a+x.size < w.ahi && x.b+x.size < w.bhi {
			queue = append(queue, window{x.a + x.size, w.ahi, x.b + x.size, w.bhi})
		}
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].a != blocks[j].a {
			return blocks[i].a < blocks[j].a
		}
		return blocks[i].b < blocks[j].b
	})

	// Collapse adjacent blocks so every equal run is reported once.
	collapsed := make([]matchBlock, 0, len(blocks)+1)
	for _, blk := range blocks {
		if n := len(collapsed); n > 0 {
			last := &collapsed[n-1]
			if last.a+last.size == blk.a && last.b+last.size == blk.b {
				last.size += blk.size
				continue
			}
		}
		collapsed = append(collapsed, blk)
	}
	return append(collapsed, matchBlock{a: la, b: lb})
}

func (m *matcher[K]) opcodes() []Opcode {
	var ops []Opcode
	i, j := 0, 0
	for _, blk := range m.matchingBlocks() {
		switch {
		case i < blk.a && j < blk.b:
			ops = append(ops, Opcode{Tag: OpReplace, I1: i, I2: blk.a, J1: j, J2: blk.b})
		case i < blk.a:
			ops = append(ops, Opcode{Tag: OpDelete, I1: i, I2: blk.a, J1: j, J2: blk.b})
		case j < blk.b:
			ops = append(ops, Opcode{Tag: OpInsert, I1: i, I2: blk.a, J1: j, J2: blk.b})
		}
		i, j = blk.a+blk.size, blk.b+blk.size
		if blk.size > 0 {
			ops = append(ops, Opcode{Tag: OpEqual, I1: blk.a, I2: i, J1: blk.b, J2: j})
		}
	}
	return ops
}

// CleanupOpcodes folds short equalities that sit between two edits into a
// single replace. An equality is folded when it is no longer than the
// larger side of the edit before it and of the edit after it. Leading and
// trailing equalities are always kept.
func CleanupOpcodes(ops []Opcode) []Opcode {
	out := append([]Opcode(nil), ops...)
	for {
		folded := false
		for k := 1; k < len(out)-1; k++ {
			eq, prev, next := out[k], out[k-1], out[k+1]
			if eq.Tag != OpEqual || prev.Tag == OpEqual || next.Tag == OpEqual {
				continue
			}
			n := eq.LenA()
			if n > max(prev.LenA(), prev.LenB()) || n > max(next.LenA(), next.LenB()) {
				continue
			}
			merged := Opcode{Tag: OpReplace, I1: prev.I1, I2: next.I2, J1: prev.J1, J2: next.J2}
			rest := append([]Opcode{merged}, out[k+2:]...)
			out = append(out[:k-1], rest...)
			folded = true
			break
		}
		if !folded {
			return out
		}
	}
}
