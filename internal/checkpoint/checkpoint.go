// Package checkpoint maps a model directory (hparams.json plus
// model.safetensors with GPT-2 tensor names) to and from model.Weights.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/kindle/internal/model"
	"github.com/samcharles93/kindle/internal/safetensors"
	"github.com/samcharles93/kindle/internal/tensor"
)

const (
	HParamsFile = "hparams.json"
	WeightsFile = "model.safetensors"
)

// Load reads hyperparameters and weights from dir and returns a validated
// model.
func Load(dir string) (*model.Model, error) {
	hp, err := model.LoadHyperparameters(filepath.Join(dir, HParamsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", HParamsFile, err)
	}
	f, err := safetensors.Open(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	w, err := ReadWeights(f, hp)
	if err != nil {
		return nil, err
	}
	return model.New(hp, w)
}

// Save writes hp and w to dir, creating it if needed. The q/k/v projections
// are fused back into c_attn.
func Save(dir string, hp model.Hyperparameters, w *model.Weights) error {
	if err := w.Validate(hp.WithDefaults()); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := model.MarshalHyperparameters(hp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, HParamsFile), data, 0o644); err != nil {
		return err
	}
	meta := map[string]string{"format": "pt", "producer": "kindle"}
	return safetensors.WriteFile(filepath.Join(dir, WeightsFile), tensorsOf(w), meta)
}

// ReadWeights assembles a weight set from GPT-2 named tensors. Names may carry
// a "transformer." prefix as in Hugging Face exports.
func ReadWeights(f *safetensors.File, hp model.Hyperparameters) (*model.Weights, error) {
	r := reader{f: f}
	if _, ok := f.Tensor("wte.weight"); !ok {
		if _, ok := f.Tensor("transformer.wte.weight"); ok {
			r.prefix = "transformer."
		}
	}

	d := hp.EmbeddingWidth
	w := &model.Weights{
		TokenEmbedding:    r.mat("wte.weight", hp.VocabSize, d),
		PositionEmbedding: r.mat("wpe.weight", -1, d),
		OutputNormGamma:   r.vec("ln_f.weight", d),
		OutputNormBeta:    r.vec("ln_f.bias", d),
		Layers:            make([]model.LayerWeights, hp.LayerCount),
	}
	if _, ok := f.Tensor("lm_head.weight"); ok {
		head := r.matAbs("lm_head.weight", hp.VocabSize, d)
		w.Head = &head
	}

	for i := range w.Layers {
		p := fmt.Sprintf("h.%d.", i)
		fc := r.mat(p+"mlp.c_fc.weight", d, -1)
		ffn := fc.C

		l := model.LayerWeights{
			AttnNormGamma: r.vec(p+"ln_1.weight", d),
			AttnNormBeta:  r.vec(p+"ln_1.bias", d),
			Wo:            r.mat(p+"attn.c_proj.weight", d, d),
			Bo:            r.vec(p+"attn.c_proj.bias", d),
			FfnNormGamma:  r.vec(p+"ln_2.weight", d),
			FfnNormBeta:   r.vec(p+"ln_2.bias", d),
			Wfc:           fc,
			Bfc:           r.vec(p+"mlp.c_fc.bias", ffn),
			Wproj:         r.mat(p+"mlp.c_proj.weight", ffn, d),
			Bproj:         r.vec(p+"mlp.c_proj.bias", d),
		}
		qkv := r.mat(p+"attn.c_attn.weight", d, 3*d)
		qkvBias := r.vec(p+"attn.c_attn.bias", 3*d)
		if r.err == nil {
			l.Wq, l.Wk, l.Wv = splitColumns(qkv, d)
			l.Bq, l.Bk, l.Bv = qkvBias[:d], qkvBias[d:2*d], qkvBias[2*d:]
		}
		w.Layers[i] = l
	}
	if r.err != nil {
		return nil, r.err
	}
	return w, nil
}

// reader records the first failure so ReadWeights can stay linear.
type reader struct {
	f      *safetensors.File
	prefix string
	err    error
}

func (r *reader) mat(name string, rows, cols int) tensor.Mat {
	return r.matAbs(r.prefix+name, rows, cols)
}

// matAbs reads a 2-D tensor. A negative rows or cols accepts any size.
func (r *reader) matAbs(name string, rows, cols int) tensor.Mat {
	if r.err != nil {
		return tensor.Mat{}
	}
	data, info, err := r.f.ReadTensorF32(name)
	if err != nil {
		r.err = err
		return tensor.Mat{}
	}
	if len(info.Shape) != 2 ||
		(rows >= 0 && info.Shape[0] != rows) ||
		(cols >= 0 && info.Shape[1] != cols) {
		r.err = fmt.Errorf("tensor %s: %w", name, &tensor.ShapeError{
			Op: "load", A: shapeOf(info.Shape), B: tensor.Shape{rows, cols},
		})
		return tensor.Mat{}
	}
	m, err := tensor.NewMatFromData(info.Shape[0], info.Shape[1], data)
	if err != nil {
		r.err = fmt.Errorf("tensor %s: %w", name, err)
	}
	return m
}

func (r *reader) vec(name string, n int) []float32 {
	if r.err != nil {
		return nil
	}
	name = r.prefix + name
	data, info, err := r.f.ReadTensorF32(name)
	if err != nil {
		r.err = err
		return nil
	}
	if len(info.Shape) != 1 || info.Shape[0] != n {
		r.err = fmt.Errorf("tensor %s: %w", name, &tensor.ShapeError{
			Op: "load", A: shapeOf(info.Shape), B: tensor.Shape{1, n},
		})
		return nil
	}
	return data
}

func shapeOf(dims []int) tensor.Shape {
	switch len(dims) {
	case 0:
		return tensor.Shape{}
	case 1:
		return tensor.Shape{1, dims[0]}
	default:
		return tensor.Shape{dims[0], dims[len(dims)-1]}
	}
}

// splitColumns cuts a [d x 3d] fused projection into three [d x d] matrices.
func splitColumns(m tensor.Mat, d int) (q, k, v tensor.Mat) {
	parts := [3]tensor.Mat{tensor.NewMat(m.R, d), tensor.NewMat(m.R, d), tensor.NewMat(m.R, d)}
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for p := range parts {
			copy(parts[p].Row(i), row[p*d:(p+1)*d])
		}
	}
	return parts[0], parts[1], parts[2]
}

func fuseColumns(q, k, v tensor.Mat) tensor.Mat {
	d := q.C
	out := tensor.NewMat(q.R, 3*d)
	for i := 0; i < q.R; i++ {
		row := out.Row(i)
		copy(row[:d], q.Row(i))
		copy(row[d:2*d], k.Row(i))
		copy(row[2*d:], v.Row(i))
	}
	return out
}

func tensorsOf(w *model.Weights) []safetensors.Tensor {
	mat := func(name string, m tensor.Mat) safetensors.Tensor {
		return safetensors.Tensor{Name: name, Shape: []int{m.R, m.C}, Data: m.Data}
	}
	vec := func(name string, v []float32) safetensors.Tensor {
		return safetensors.Tensor{Name: name, Shape: []int{len(v)}, Data: v}
	}

	out := []safetensors.Tensor{
		mat("wte.weight", w.TokenEmbedding),
		mat("wpe.weight", w.PositionEmbedding),
		vec("ln_f.weight", w.OutputNormGamma),
		vec("ln_f.bias", w.OutputNormBeta),
	}
	if w.Head != nil {
		out = append(out, mat("lm_head.weight", *w.Head))
	}
	for i := range w.Layers {
		l := &w.Layers[i]
		p := fmt.Sprintf("h.%d.", i)
		bias := make([]float32, 0, 3*len(l.Bq))
		bias = append(append(append(bias, l.Bq...), l.Bk...), l.Bv...)
		out = append(out,
			vec(p+"ln_1.weight", l.AttnNormGamma),
			vec(p+"ln_1.bias", l.AttnNormBeta),
			mat(p+"attn.c_attn.weight", fuseColumns(l.Wq, l.Wk, l.Wv)),
			vec(p+"attn.c_attn.bias", bias),
			mat(p+"attn.c_proj.weight", l.Wo),
			vec(p+"attn.c_proj.bias", l.Bo),
			vec(p+"ln_2.weight", l.FfnNormGamma),
			vec(p+"ln_2.bias", l.FfnNormBeta),
			mat(p+"mlp.c_fc.weight", l.Wfc),
			vec(p+"mlp.c_fc.bias", l.Bfc),
			mat(p+"mlp.c_proj.weight", l.Wproj),
			vec(p+"mlp.c_proj.bias", l.Bproj),
		)
	}
	return out
}

// IsModelDir reports whether dir looks like a checkpoint directory.
func IsModelDir(dir string) bool {
	for _, name := range []string{HParamsFile, WeightsFile} {
		if st, err := os.Stat(filepath.Join(dir, name)); err != nil || st.IsDir() {
			return false
		}
	}
	return true
}

// TrimPrefix strips the optional Hugging Face "transformer." namespace.
func TrimPrefix(name string) string {
	return strings.TrimPrefix(name, "transformer.")
}
