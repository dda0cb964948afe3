package logits

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/samcharles93/kindle/internal/tensor"
)

// ErrInvalidSamplingParameter is returned for a temperature, top_k or top_p
// outside its allowed range. It is reported before any computation starts.
var ErrInvalidSamplingParameter = errors.New("invalid sampling parameter")

// Params configures a single Sample call.
type Params struct {
	// Temperature divides the logits. It must be strictly positive; callers
	// wanting near-greedy output pass a small floor such as 1e-5.
	Temperature float32 `json:"temperature" yaml:"temperature"`
	// TopK keeps the k highest logits plus anything tied with the k-th.
	// Zero disables the filter.
	TopK int `json:"top_k" yaml:"top_k"`
	// TopP keeps the shortest prefix of the sorted distribution whose mass
	// exceeds TopP. One disables the filter.
	TopP float32 `json:"top_p" yaml:"top_p"`
}

// DefaultParams returns plain sampling at temperature 1 with both filters
// disabled.
func DefaultParams() Params {
	return Params{Temperature: 1, TopK: 0, TopP: 1}
}

// Validate reports ErrInvalidSamplingParameter for out of range values.
func (p Params) Validate() error {
	t := float64(p.Temperature)
	if !(t > 0) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: temperature %g must be positive and finite", ErrInvalidSamplingParameter, p.Temperature)
	}
	if p.TopK < 0 {
		return fmt.Errorf("%w: top_k %d must be >= 0", ErrInvalidSamplingParameter, p.TopK)
	}
	if !(p.TopP > 0 && p.TopP <= 1) {
		return fmt.Errorf("%w: top_p %g must be in (0, 1]", ErrInvalidSamplingParameter, p.TopP)
	}
	return nil
}

// Sampler draws token ids from logits. It owns a seeded random source and
// scratch buffers, so a Sampler must not be shared between goroutines.
type Sampler struct {
	rng   *rand.Rand
	buf   []float32
	order []int
	prob  []float64
}

// NewSampler returns a sampler whose draws are reproducible for a given seed.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample picks one index from logits. The steps are:
//
//  1. Divide by the temperature.
//  2. If TopK > 0, mask everything below the k-th largest value.
//  3. If TopP < 1, mask everything after the nucleus prefix.
//  4. Softmax and draw from the resulting categorical distribution.
//
// logits is not modified.
func (s *Sampler) Sample(logits []float32, p Params) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("%w: empty logits", ErrInvalidSamplingParameter)
	}

	s.buf = append(s.buf[:0], logits...)
	x := s.buf

	ApplyTemperature(x, p.Temperature)
	if p.TopK > 0 {
		TopK(x, p.TopK)
	}
	if p.TopP < 1 {
		s.order, s.prob = topP(x, p.TopP, s.order, s.prob)
	}
	tensor.Softmax(x)
	return Draw(x, s.rng), nil
}

// ApplyTemperature divides every logit by t.
func ApplyTemperature(logits []float32, t float32) {
	if t == 1 {
		return
	}
	inv := 1 / t
	for i := range logits {
		logits[i] *= inv
	}
}

// TopK writes tensor.MaskSentinel over every logit strictly below the k-th
// largest value. Entries tied with the k-th value are all kept, so more than k
// may survive.
func TopK(logits []float32, k int) {
	if k <= 0 || k >= len(logits) {
		return
	}
	sorted := slices.Clone(logits)
	slices.SortFunc(sorted, func(a, b float32) int { return cmp.Compare(b, a) })
	threshold := sorted[k-1]
	for i, v := range logits {
		if v < threshold {
			logits[i] = tensor.MaskSentinel
		}
	}
}

// TopP masks every logit outside the nucleus: the candidates are sorted by
// probability and kept up to and including the first one at which the running
// total exceeds p. Candidates tied with that last one are kept as well. If
// rounding keeps the total from exceeding p the distribution is left
// unchanged.
func TopP(logits []float32, p float32) {
	topP(logits, p, nil, nil)
}

func topP(logits []float32, p float32, order []int, prob []float64) ([]int, []float64) {
	n := len(logits)
	if n == 0 || p >= 1 {
		return order, prob
	}
	order = slices.Grow(order[:0], n)[:n]
	prob = slices.Grow(prob[:0], n)[:n]

	maxv := logits[tensor.Argmax(logits)]
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - float64(maxv))
		prob[i] = e
		sum += e
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(logits[b], logits[a]) })

	cut := nucleusCut(order, prob, float64(p)*sum)
	if cut < 0 {
		return order, prob
	}
	threshold := logits[order[cut]]
	for i, v := range logits {
		if v < threshold {
			logits[i] = tensor.MaskSentinel
		}
	}
	return order, prob
}

// nucleusCut returns the rank in order at which the running total of prob
// first exceeds target, or -1 if it never does.
func nucleusCut(order []int, prob []float64, target float64) int {
	var cum float64
	for rank, i := range order {
		cum += prob[i]
		if cum > target {
			return rank
		}
	}
	return -1
}

// Draw samples an index from probs, which must sum to one. Zero-probability
// entries are never chosen.
func Draw(probs []float32, rng *rand.Rand) int {
	r := rng.Float64()
	var c float64
	last := -1
	for i, v := range probs {
		if v <= 0 {
			continue
		}
		last = i
		c += float64(v)
		if r < c {
			return i
		}
	}
	if last < 0 {
		return tensor.Argmax(probs)
	}
	return last
}

// Greedy returns the index of the largest logit.
func Greedy(logits []float32) int {
	return tensor.Argmax(logits)
}
