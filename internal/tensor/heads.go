package tensor

// SplitHeads reshapes x [seq x width] into n matrices of [seq x width/n].
// Head h holds columns [h*hd, (h+1)*hd) of every row, in row order.
func SplitHeads(x Mat, n int) ([]Mat, error) {
	if n <= 0 || x.C%n != 0 {
		return nil, &ShapeError{Op: "split_heads", A: x.Shape(), B: Shape{n, 0}}
	}
	hd := x.C / n
	heads := make([]Mat, n)
	for h := range heads {
		m := NewMat(x.R, hd)
		for i := 0; i < x.R; i++ {
			copy(m.Row(i), x.Data[i*x.C+h*hd:i*x.C+(h+1)*hd])
		}
		heads[h] = m
	}
	return heads, nil
}

// MergeHeads is the inverse of SplitHeads: n matrices of [seq x hd] become one
// [seq x n*hd] matrix. All heads must share a shape.
func MergeHeads(heads []Mat) (Mat, error) {
	if len(heads) == 0 {
		return Mat{}, &ShapeError{Op: "merge_heads", A: Shape{0, 0}, B: Shape{0, 0}}
	}
	seq, hd := heads[0].R, heads[0].C
	for _, h := range heads[1:] {
		if h.R != seq || h.C != hd {
			return Mat{}, &ShapeError{Op: "merge_heads", A: heads[0].Shape(), B: h.Shape()}
		}
	}
	width := hd * len(heads)
	out := NewMat(seq, width)
	for h, m := range heads {
		for i := 0; i < seq; i++ {
			copy(out.Data[i*width+h*hd:i*width+(h+1)*hd], m.Row(i))
		}
	}
	return out, nil
}
