package tensor

import (
	"runtime"
	"sync"
)

// parallelThreshold is the number of multiply-adds below which a product is
// computed on the calling goroutine.
const parallelThreshold = 1 << 16

// MatMul returns a * b. It fails with ErrShapeMismatch if a.C != b.R.
//
// Each output row is accumulated in the same order regardless of how rows are
// split across goroutines, so results are bit-identical between a full pass
// and a row-at-a-time pass over the same inputs.
func MatMul(a, b Mat) (Mat, error) {
	if a.C != b.R {
		return Mat{}, &ShapeError{Op: "matmul", A: a.Shape(), B: b.Shape()}
	}
	out := NewMat(a.R, b.C)
	parallelRows(a.R, a.R*a.C*b.C, func(rs, re int) {
		for i := rs; i < re; i++ {
			matMulRow(out.Row(i), a.Row(i), b)
		}
	})
	return out, nil
}

// MatMulTransB returns a * b^T. It fails with ErrShapeMismatch if a.C != b.C.
func MatMulTransB(a, b Mat) (Mat, error) {
	if a.C != b.C {
		return Mat{}, &ShapeError{Op: "matmul_trans_b", A: a.Shape(), B: b.Shape()}
	}
	out := NewMat(a.R, b.R)
	parallelRows(a.R, a.R*a.C*b.R, func(rs, re int) {
		for i := rs; i < re; i++ {
			ar := a.Row(i)
			dst := out.Row(i)
			for j := 0; j < b.R; j++ {
				dst[j] = Dot(ar, b.Row(j))
			}
		}
	})
	return out, nil
}

// Linear returns x * w + bias. A nil bias is treated as zero.
func Linear(x, w Mat, bias []float32) (Mat, error) {
	out, err := MatMul(x, w)
	if err != nil {
		return Mat{}, err
	}
	if bias != nil {
		if err := AddBias(out, bias); err != nil {
			return Mat{}, err
		}
	}
	return out, nil
}

func matMulRow(dst, ar []float32, b Mat) {
	for j := range dst {
		dst[j] = 0
	}
	for k, av := range ar {
		if av == 0 {
			continue
		}
		br := b.Data[k*b.C : (k+1)*b.C]
		for j, bv := range br {
			dst[j] += av * bv
		}
	}
}

// parallelRows splits [0, rows) into contiguous chunks and runs fn on each.
// Small workloads run inline.
func parallelRows(rows, work int, fn func(rs, re int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers <= 1 || rows <= 1 || work < parallelThreshold {
		fn(0, rows)
		return
	}
	if workers > rows {
		workers = rows
	}
	chunk := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := 0; rs < rows; rs += chunk {
		re := min(rs+chunk, rows)
		wg.Add(1)
		go func(rs, re int) {
			defer wg.Done()
			fn(rs, re)
		}(rs, re)
	}
	wg.Wait()
}
