package codegen

import "github.com/gogpu/kiln/ir"

// Slice returns lanes [start, start+n) of v. Lanes past the end of v are
// undefined.
func Slice[V any](b Vectors[V], v V, start, n int) V {
	lanes := b.TypeOf(v).Lanes
	if start == 0 && n == lanes {
		return v
	}
	if n == 1 && start < lanes {
		return b.ExtractElement(v, start)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i
		if idx[i] >= lanes {
			idx[i] = -1
		}
	}
	return b.Shuffle(v, v, idx)
}

// Broadcast replicates the scalar v across lanes lanes.
func Broadcast[V any](b Vectors[V], v V, lanes int) V {
	t := b.TypeOf(v)
	if lanes == 1 {
		return v
	}
	vec := b.InsertElement(b.Undef(t.WithLanes(lanes)), v, 0)
	return b.Shuffle(vec, vec, make([]int, lanes))
}

// Reverse reverses the lanes of v.
func Reverse[V any](b Vectors[V], v V) V {
	n := b.TypeOf(v).Lanes
	if n == 1 {
		return v
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	return b.Shuffle(v, v, idx)
}

// toVector turns a scalar into a one-lane shuffle operand.
func toVector[V any](b Vectors[V], v V) V {
	t := b.TypeOf(v)
	if t.IsVector() {
		return v
	}
	return b.InsertElement(b.Undef(t.WithLanes(2)), v, 0)
}

// widen pads v with undefined lanes up to n lanes.
func widen[V any](b Vectors[V], v V, n int) V {
	t := b.TypeOf(v)
	if t.Lanes == n {
		return v
	}
	if t.IsScalar() {
		return b.InsertElement(b.Undef(t.WithLanes(n)), v, 0)
	}
	return Slice(b, v, 0, n)
}

// Shuffle2 shuffles two vectors of possibly different widths. Indices
// address the concatenation of x's lanes followed by y's lanes.
func Shuffle2[V any](b Vectors[V], x, y V, indices []int) V {
	nx, ny := b.TypeOf(x).Lanes, b.TypeOf(y).Lanes
	if nx == ny && nx > 1 {
		return b.Shuffle(x, y, indices)
	}
	w := max(nx, ny, 2)
	x, y = widen(b, x, w), widen(b, y, w)
	idx := make([]int, len(indices))
	for i, j := range indices {
		switch {
		case j < 0:
			idx[i] = -1
		case j < nx:
			idx[i] = j
		default:
			idx[i] = j - nx + w
		}
	}
	if len(idx) == 1 {
		// One lane is still a vector shuffle; extract it afterwards.
		r := b.Shuffle(x, y, []int{idx[0], -1})
		return b.ExtractElement(r, 0)
	}
	return b.Shuffle(x, y, idx)
}

// Concat joins vs end to end. Inputs are combined pairwise in a balanced
// tree so that each shuffle sees operands of similar width.
func Concat[V any](b Vectors[V], vs []V) V {
	switch len(vs) {
	case 0:
		fail(ErrInternal, "concat", "", "concat of no vectors")
	case 1:
		return vs[0]
	}
	for len(vs) > 1 {
		next := make([]V, 0, (len(vs)+1)/2)
		for i := 0; i+1 < len(vs); i += 2 {
			next = append(next, concat2(b, vs[i], vs[i+1]))
		}
		if len(vs)%2 == 1 {
			next = append(next, vs[len(vs)-1])
		}
		vs = next
	}
	return vs[0]
}

func concat2[V any](b Vectors[V], x, y V) V {
	nx, ny := b.TypeOf(x).Lanes, b.TypeOf(y).Lanes
	idx := make([]int, nx+ny)
	for i := range idx {
		idx[i] = i
	}
	return Shuffle2(b, x, y, idx)
}

// Interleave returns a vector whose lane i*n+j is lane i of vs[j]. All
// inputs have the same width.
func Interleave[V any](b Vectors[V], vs []V) V {
	n := len(vs)
	switch n {
	case 0:
		fail(ErrInternal, "interleave_vectors", "", "interleave of no vectors")
	case 1:
		return vs[0]
	}
	w := b.TypeOf(vs[0]).Lanes
	for _, v := range vs[1:] {
		if b.TypeOf(v).Lanes != w {
			fail(ErrMalformedNode, "interleave_vectors", "", "interleave of vectors with different widths")
		}
	}
	switch {
	case n == 2:
		idx := make([]int, 2*w)
		for i := 0; i < w; i++ {
			idx[2*i] = i
			idx[2*i+1] = w + i
		}
		return Shuffle2(b, vs[0], vs[1], idx)
	case n == 3:
		// Pair the first two, then pick from the padded pair and the third.
		ab := concat2(b, vs[0], vs[1])
		c := widen(b, vs[2], 2*w)
		idx := make([]int, 3*w)
		for i := 0; i < w; i++ {
			idx[3*i] = i
			idx[3*i+1] = w + i
			idx[3*i+2] = 2*w + i
		}
		return Shuffle2(b, ab, c, idx)
	case n == 4:
		// (a,c) and (b,d) interleaved give even and odd lanes of the result.
		ac := Interleave(b, []V{vs[0], vs[2]})
		bd := Interleave(b, []V{vs[1], vs[3]})
		return Interleave(b, []V{ac, bd})
	case n%2 == 0:
		var evens, odds []V
		for i, v := range vs {
			if i%2 == 0 {
				evens = append(evens, v)
			} else {
				odds = append(odds, v)
			}
		}
		// Interleaving the evens and the odds puts lane i of vs[2k] at
		// i*n/2+k; the final 2-way step doubles that position.
		return Interleave(b, []V{Interleave(b, evens), Interleave(b, odds)})
	}
	// Odd count: interleave all but the last, then merge it in with one
	// shuffle.
	head := Interleave(b, vs[:n-1])
	last := vs[n-1]
	m := n - 1
	idx := make([]int, n*w)
	for i := 0; i < w; i++ {
		for j := 0; j < m; j++ {
			idx[i*n+j] = i*m + j
		}
		idx[i*n+m] = m*w + i
	}
	return Shuffle2(b, head, last, idx)
}

// vectorIndices returns the constant lane indices of a shuffle_vector call.
func vectorIndices(args []ir.Expr) ([]int, bool) {
	idx := make([]int, len(args))
	for i, a := range args {
		v, ok := ir.IntValue(a)
		if !ok {
			return nil, false
		}
		idx[i] = int(v)
	}
	return idx, true
}
