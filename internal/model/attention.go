package model

import (
	"math"

	"github.com/samcharles93/kindle/internal/tensor"
)

// attends reports whether row i of nd new positions may look at column j of
// ns total positions (cached followed by new). Cached positions always
// precede new ones, so this is the lower-triangular mask shifted right by the
// number of cached positions: with nd == ns it is j <= i, and with nd == 1
// every column is visible.
func attends(i, j, nd, ns int) bool {
	return i >= j-ns+nd
}

// applyCausalMask writes MaskSentinel into every score a row may not see.
func applyCausalMask(scores tensor.Mat) {
	nd, ns := scores.R, scores.C
	for i := 0; i < nd; i++ {
		row := scores.Row(i)
		for j := range row {
			if !attends(i, j, nd, ns) {
				row[j] = tensor.MaskSentinel
			}
		}
	}
}

// attention runs causal multi-head self-attention for the new rows of x,
// reading earlier positions from past. It returns the projected output and the
// key/value rows for the new positions; past is not modified.
func attention(x tensor.Mat, l *LayerWeights, past layerCache, nHead int) (tensor.Mat, kvRows, error) {
	q, err := tensor.Linear(x, l.Wq, l.Bq)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	k, err := tensor.Linear(x, l.Wk, l.Bk)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	v, err := tensor.Linear(x, l.Wv, l.Bv)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}

	allK, err := concatRows(past.K, k)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	allV, err := concatRows(past.V, v)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}

	qh, err := tensor.SplitHeads(q, nHead)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	kh, err := tensor.SplitHeads(allK, nHead)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	vh, err := tensor.SplitHeads(allV, nHead)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}

	scale := float32(1.0 / math.Sqrt(float64(x.C/nHead)))
	heads := make([]tensor.Mat, nHead)
	for h := range heads {
		scores, err := tensor.MatMulTransB(qh[h], kh[h])
		if err != nil {
			return tensor.Mat{}, kvRows{}, err
		}
		tensor.Scale(scores, scale)
		applyCausalMask(scores)
		tensor.SoftmaxRows(scores)
		heads[h], err = tensor.MatMul(scores, vh[h])
		if err != nil {
			return tensor.Mat{}, kvRows{}, err
		}
	}

	merged, err := tensor.MergeHeads(heads)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	out, err := tensor.Linear(merged, l.Wo, l.Bo)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	return out, kvRows{K: k, V: v}, nil
}

// concatRows returns a new matrix holding the rows of a followed by b.
func concatRows(a, b tensor.Mat) (tensor.Mat, error) {
	if a.R == 0 {
		return b, nil
	}
	out := tensor.WithCapacity(a.R+b.R, b.C)
	out, err := tensor.AppendRows(out, a)
	if err != nil {
		return tensor.Mat{}, err
	}
	return tensor.AppendRows(out, b)
}
