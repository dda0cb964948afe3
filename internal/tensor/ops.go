package tensor

import (
	"math"
)

// MaskSentinel is the large negative score written into disallowed positions.
// It survives the max subtraction in Softmax and comes out as exactly zero.
const MaskSentinel float32 = -1e10

// DefaultEpsilon is the layer norm variance floor.
const DefaultEpsilon float32 = 1e-5

var geluCoeff = math.Sqrt(2 / math.Pi)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// AddInPlace adds src to dst element-wise; both must have the same shape.
func AddInPlace(dst, src Mat) error {
	if dst.R != src.R || dst.C != src.C {
		return &ShapeError{Op: "add", A: dst.Shape(), B: src.Shape()}
	}
	Add(dst.Data, src.Data)
	return nil
}

// AddBias adds bias to every row of m.
func AddBias(m Mat, bias []float32) error {
	if len(bias) != m.C {
		return &ShapeError{Op: "add_bias", A: m.Shape(), B: Shape{1, len(bias)}}
	}
	for i := 0; i < m.R; i++ {
		Add(m.Row(i), bias)
	}
	return nil
}

// Scale multiplies every element of m by s.
func Scale(m Mat, s float32) {
	for i := range m.Data {
		m.Data[i] *= s
	}
}

// Softmax applies a numerically stable softmax to x in place: the maximum is
// subtracted before exponentiating and the sum is accumulated in float64.
// Entries holding MaskSentinel come out as zero as long as one entry is not
// masked.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i := range x {
		e := math.Exp(float64(x[i]) - float64(maxv))
		x[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / sum
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
}

// SoftmaxRows applies Softmax to every row of m.
func SoftmaxRows(m Mat) {
	for i := 0; i < m.R; i++ {
		Softmax(m.Row(i))
	}
}

// GELU is the tanh approximation of the Gaussian Error Linear Unit:
// 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715 * x^3))).
func GELU(x float32) float32 {
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(geluCoeff*(xf+0.044715*xf*xf*xf))))
}

// GELUInPlace applies GELU element-wise.
func GELUInPlace(m Mat) {
	for i, v := range m.Data {
		m.Data[i] = GELU(v)
	}
}

// LayerNorm normalises every row of x to zero mean and unit variance, then
// applies the affine transform gamma*x + beta. eps is added to the variance
// before the square root; a non-positive eps is replaced with DefaultEpsilon
// so a constant row can never divide by zero.
func LayerNorm(x Mat, gamma, beta []float32, eps float32) (Mat, error) {
	if len(gamma) != x.C {
		return Mat{}, &ShapeError{Op: "layer_norm.gamma", A: x.Shape(), B: Shape{1, len(gamma)}}
	}
	if len(beta) != x.C {
		return Mat{}, &ShapeError{Op: "layer_norm.beta", A: x.Shape(), B: Shape{1, len(beta)}}
	}
	if !(eps > 0) {
		eps = DefaultEpsilon
	}
	out := NewMat(x.R, x.C)
	n := float64(x.C)
	for i := 0; i < x.R; i++ {
		src := x.Row(i)
		dst := out.Row(i)
		var mean float64
		for _, v := range src {
			mean += float64(v)
		}
		mean /= n
		var variance float64
		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= n
		inv := 1.0 / math.Sqrt(variance+float64(eps))
		for j, v := range src {
			dst[j] = float32((float64(v)-mean)*inv)*gamma[j] + beta[j]
		}
	}
	return out, nil
}

// Transpose returns m^T as a new matrix.
func Transpose(m Mat) Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j, v := range row {
			out.Data[j*m.R+i] = v
		}
	}
	return out
}

// Argmax returns the index of the largest element of x. It panics on empty
// input.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// CountNonFinite returns the number of NaN and Inf values in x.
func CountNonFinite(x []float32) (nans, infs int) {
	for _, v := range x {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			nans++
		case math.IsInf(f, 0):
			infs++
		}
	}
	return nans, infs
}
