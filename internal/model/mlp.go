package model

import "github.com/samcharles93/kindle/internal/tensor"

// mlp computes gelu(x*W1 + b1)*W2 + b2.
func mlp(x tensor.Mat, l *LayerWeights) (tensor.Mat, error) {
	h, err := tensor.Linear(x, l.Wfc, l.Bfc)
	if err != nil {
		return tensor.Mat{}, err
	}
	tensor.GELUInPlace(h)
	return tensor.Linear(h, l.Wproj, l.Bproj)
}
