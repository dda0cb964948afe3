package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch reports a weight or activation dimension disagreement.
var ErrShapeMismatch = errors.New("shape mismatch")

var errNegativeDim = fmtError("negative dimension for matrix")

// ShapeError describes which operation saw which pair of shapes.
type ShapeError struct {
	Op   string
	A, B Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s vs %s: %v", e.Op, e.A, e.B, ErrShapeMismatch)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

type fmtError string

func (e fmtError) Error() string { return string(e) }
