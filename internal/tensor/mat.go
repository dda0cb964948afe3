package tensor

import (
	"fmt"
	"math/rand"
)

// Mat represents a dense row-major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Data holds
// the flattened matrix values and always has length R*C. A vector is a Mat
// with a single row.
//
// Every operation in this package checks shapes before touching Data and
// reports disagreements as ErrShapeMismatch, so a malformed weight set fails
// before any arithmetic runs.
type Mat struct {
	R, C int
	Data []float32
}

// NewMat allocates a new zero initialised matrix with the given number of
// rows and columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// NewMatFromData creates a matrix over existing data without copying.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, &ShapeError{Op: "from_data", A: Shape{r, c}, B: Shape{1, len(data)}}
	}
	return Mat{R: r, C: c, Data: data}, nil
}

// Vector wraps v as a 1 x len(v) matrix.
func Vector(v []float32) Mat {
	return Mat{R: 1, C: len(v), Data: v}
}

// Shape returns the dimensions of m.
func (m Mat) Shape() Shape {
	return Shape{m.R, m.C}
}

// Row returns a view of the i-th row. Writes through the slice update m.
func (m Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	return m.Data[i*m.C : (i+1)*m.C]
}

// Rows returns a view of rows [lo, hi).
func (m Mat) Rows(lo, hi int) Mat {
	if lo < 0 || hi > m.R || lo > hi {
		panic("row range out of range")
	}
	return Mat{R: hi - lo, C: m.C, Data: m.Data[lo*m.C : hi*m.C]}
}

// Clone returns a deep copy of m.
func (m Mat) Clone() Mat {
	out := Mat{R: m.R, C: m.C, Data: make([]float32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// AppendRows returns dst extended by the rows of src. Rows already in dst keep
// their position; src rows follow in order. The backing array of dst is
// reused when it has room, so callers must treat dst as consumed.
func AppendRows(dst, src Mat) (Mat, error) {
	if dst.R == 0 && dst.C == 0 {
		dst.C = src.C
	}
	if dst.C != src.C {
		return dst, &ShapeError{Op: "append_rows", A: dst.Shape(), B: src.Shape()}
	}
	dst.Data = append(dst.Data, src.Data...)
	dst.R += src.R
	return dst, nil
}

// WithCapacity returns an empty 0 x c matrix whose backing array can hold
// rows rows without reallocating.
func WithCapacity(rows, c int) Mat {
	return Mat{R: 0, C: c, Data: make([]float32, 0, rows*c)}
}

// FillRand fills the matrix with reproducible pseudo-random values in
// (-scale/2, scale/2).
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}

// Fill sets every element of m to v.
func Fill(m *Mat, v float32) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Shape is a (rows, cols) pair used in error reports.
type Shape [2]int

func (s Shape) String() string {
	return fmt.Sprintf("[%d x %d]", s[0], s[1])
}
