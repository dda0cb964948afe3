package model

import (
	"fmt"

	"github.com/samcharles93/kindle/internal/tensor"
)

// LayerWeights holds one transformer block. Projection matrices are stored
// [in x out] so activations multiply on the left (x * W + b).
type LayerWeights struct {
	AttnNormGamma []float32 // [d]
	AttnNormBeta  []float32 // [d]

	Wq, Wk, Wv tensor.Mat // [d x d]
	Bq, Bk, Bv []float32  // [d]
	Wo         tensor.Mat // [d x d]
	Bo         []float32  // [d]

	FfnNormGamma []float32 // [d]
	FfnNormBeta  []float32 // [d]

	Wfc   tensor.Mat // [d x ffn]
	Bfc   []float32  // [ffn]
	Wproj tensor.Mat // [ffn x d]
	Bproj []float32  // [d]
}

// Weights is the full parameter set. It is never written during inference and
// may be shared by any number of sessions.
type Weights struct {
	TokenEmbedding    tensor.Mat // [vocab x d]
	PositionEmbedding tensor.Mat // [ctx x d]
	Layers            []LayerWeights

	OutputNormGamma []float32 // [d]
	OutputNormBeta  []float32 // [d]

	// Head projects hidden states to logits as [vocab x d]. When nil the
	// token embedding is reused (tied head).
	Head *tensor.Mat
}

// FFNWidth returns the feed-forward expansion width implied by the first
// layer, or zero when there are no layers.
func (w *Weights) FFNWidth() int {
	if len(w.Layers) == 0 {
		return 0
	}
	return w.Layers[0].Wfc.C
}

// HeadMatrix returns the output projection, falling back to the token
// embedding.
func (w *Weights) HeadMatrix() tensor.Mat {
	if w.Head != nil {
		return *w.Head
	}
	return w.TokenEmbedding
}

// Validate checks every tensor against hp and returns ErrShapeMismatch naming
// the first offender.
func (w *Weights) Validate(hp Hyperparameters) error {
	if w == nil {
		return fmt.Errorf("weights are required")
	}
	d := hp.EmbeddingWidth
	if err := checkMat("wte", w.TokenEmbedding, hp.VocabSize, d); err != nil {
		return err
	}
	if w.PositionEmbedding.R < hp.ContextLength || w.PositionEmbedding.C != d {
		return shapeErr("wpe", w.PositionEmbedding.Shape(), tensor.Shape{hp.ContextLength, d})
	}
	if len(w.Layers) == 0 || len(w.Layers) != hp.LayerCount {
		return fmt.Errorf("layer count %d, expected %d: %w", len(w.Layers), hp.LayerCount, tensor.ErrShapeMismatch)
	}
	ffn := w.FFNWidth()
	if ffn <= 0 {
		return shapeErr("h.0.mlp.c_fc", w.Layers[0].Wfc.Shape(), tensor.Shape{d, 4 * d})
	}
	for i := range w.Layers {
		if err := w.Layers[i].validate(fmt.Sprintf("h.%d", i), d, ffn); err != nil {
			return err
		}
	}
	if err := checkVec("ln_f.weight", w.OutputNormGamma, d); err != nil {
		return err
	}
	if err := checkVec("ln_f.bias", w.OutputNormBeta, d); err != nil {
		return err
	}
	if w.Head != nil {
		if err := checkMat("lm_head", *w.Head, hp.VocabSize, d); err != nil {
			return err
		}
	}
	return nil
}

func (l *LayerWeights) validate(prefix string, d, ffn int) error {
	mats := []struct {
		name string
		m    tensor.Mat
		r, c int
	}{
		{"attn.q", l.Wq, d, d},
		{"attn.k", l.Wk, d, d},
		{"attn.v", l.Wv, d, d},
		{"attn.c_proj", l.Wo, d, d},
		{"mlp.c_fc", l.Wfc, d, ffn},
		{"mlp.c_proj", l.Wproj, ffn, d},
	}
	for _, m := range mats {
		if err := checkMat(prefix+"."+m.name, m.m, m.r, m.c); err != nil {
			return err
		}
	}
	vecs := []struct {
		name string
		v    []float32
		n    int
	}{
		{"ln_1.weight", l.AttnNormGamma, d},
		{"ln_1.bias", l.AttnNormBeta, d},
		{"attn.q.bias", l.Bq, d},
		{"attn.k.bias", l.Bk, d},
		{"attn.v.bias", l.Bv, d},
		{"attn.c_proj.bias", l.Bo, d},
		{"ln_2.weight", l.FfnNormGamma, d},
		{"ln_2.bias", l.FfnNormBeta, d},
		{"mlp.c_fc.bias", l.Bfc, ffn},
		{"mlp.c_proj.bias", l.Bproj, d},
	}
	for _, v := range vecs {
		if err := checkVec(prefix+"."+v.name, v.v, v.n); err != nil {
			return err
		}
	}
	return nil
}

func checkMat(name string, m tensor.Mat, r, c int) error {
	if m.R != r || m.C != c || len(m.Data) != r*c {
		return shapeErr(name, m.Shape(), tensor.Shape{r, c})
	}
	return nil
}

func checkVec(name string, v []float32, n int) error {
	if len(v) != n {
		return shapeErr(name, tensor.Shape{1, len(v)}, tensor.Shape{1, n})
	}
	return nil
}

// NewRandomWeights builds a reproducible weight set for hp. Matrices are drawn
// from a narrow uniform distribution, norms start at identity and biases at
// zero. The feed-forward width is 4 * EmbeddingWidth.
func NewRandomWeights(hp Hyperparameters, seed int64) *Weights {
	d := hp.EmbeddingWidth
	ffn := 4 * d
	const scale = 0.04

	seq := seed
	randMat := func(r, c int, s float32) tensor.Mat {
		m := tensor.NewMat(r, c)
		seq++
		tensor.FillRand(&m, seq, s)
		return m
	}
	ones := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}

	w := &Weights{
		TokenEmbedding:    randMat(hp.VocabSize, d, 2*scale),
		PositionEmbedding: randMat(hp.ContextLength, d, scale/2),
		Layers:            make([]LayerWeights, hp.LayerCount),
		OutputNormGamma:   ones(d),
		OutputNormBeta:    make([]float32, d),
	}
	for i := range w.Layers {
		w.Layers[i] = LayerWeights{
			AttnNormGamma: ones(d),
			AttnNormBeta:  make([]float32, d),
			Wq:            randMat(d, d, scale),
			Wk:            randMat(d, d, scale),
			Wv:            randMat(d, d, scale),
			Bq:            make([]float32, d),
			Bk:            make([]float32, d),
			Bv:            make([]float32, d),
			Wo:            randMat(d, d, scale),
			Bo:            make([]float32, d),
			FfnNormGamma:  ones(d),
			FfnNormBeta:   make([]float32, d),
			Wfc:           randMat(d, ffn, scale),
			Bfc:           make([]float32, ffn),
			Wproj:         randMat(ffn, d, scale),
			Bproj:         make([]float32, d),
		}
	}
	return w
}
