package model

import (
	"fmt"

	"github.com/samcharles93/kindle/internal/tensor"
)

// Model is a GPT-2 style decoder: token and position embeddings, LayerCount
// pre-norm residual blocks, a final layer norm and a vocabulary projection.
//
// A Model holds no per-sequence state. Its weights are read-only, so one Model
// may serve any number of concurrent sessions, each with its own KVCache.
type Model struct {
	hp      Hyperparameters
	weights *Weights
}

// New validates hp and w and returns a model over them. Any tensor whose shape
// disagrees with hp fails with tensor.ErrShapeMismatch.
func New(hp Hyperparameters, w *Weights) (*Model, error) {
	hp = hp.WithDefaults()
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(hp); err != nil {
		return nil, err
	}
	return &Model{hp: hp, weights: w}, nil
}

// Hyperparameters returns the architecture constants.
func (m *Model) Hyperparameters() Hyperparameters {
	return m.hp
}

// Weights returns the parameter set. Callers must not modify it.
func (m *Model) Weights() *Weights {
	return m.weights
}

// NewCache returns an empty KV cache for this model.
func (m *Model) NewCache() *KVCache {
	return NewKVCache(m.hp)
}

// Forward runs tokens through the stack and returns logits [len(tokens) x
// vocab]. Positions continue after the cached ones; with a nil cache the
// tokens start at position 0 and nothing is retained.
//
// On success the new key/value rows are appended to cache. On failure cache is
// left untouched.
func (m *Model) Forward(tokens []int, cache *KVCache) (tensor.Mat, error) {
	if len(tokens) == 0 {
		return tensor.Mat{}, fmt.Errorf("empty input: %w", ErrDimension)
	}
	if cache != nil && cache.Layers() != m.hp.LayerCount {
		return tensor.Mat{}, fmt.Errorf("cache has %d layers, model has %d: %w", cache.Layers(), m.hp.LayerCount, tensor.ErrShapeMismatch)
	}
	past := cache.Len()
	if past+len(tokens) > m.hp.ContextLength {
		return tensor.Mat{}, fmt.Errorf("sequence length %d exceeds context length %d: %w", past+len(tokens), m.hp.ContextLength, ErrDimension)
	}
	for _, id := range tokens {
		if id < 0 || id >= m.hp.VocabSize {
			return tensor.Mat{}, fmt.Errorf("%w: %d (vocab %d)", ErrTokenOutOfRange, id, m.hp.VocabSize)
		}
	}

	x := m.embed(tokens, past)
	presents := make([]kvRows, m.hp.LayerCount)
	for i := range m.weights.Layers {
		var err error
		x, presents[i], err = m.block(x, &m.weights.Layers[i], cache.layer(i))
		if err != nil {
			return tensor.Mat{}, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	h, err := tensor.LayerNorm(x, m.weights.OutputNormGamma, m.weights.OutputNormBeta, m.hp.Epsilon)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("ln_f: %w", err)
	}
	logits, err := tensor.MatMulTransB(h, m.weights.HeadMatrix())
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("head: %w", err)
	}

	if cache != nil {
		if err := cache.commit(presents); err != nil {
			return tensor.Mat{}, err
		}
	}
	return logits, nil
}

// embed returns wte[token] + wpe[position] for every token.
func (m *Model) embed(tokens []int, past int) tensor.Mat {
	d := m.hp.EmbeddingWidth
	x := tensor.NewMat(len(tokens), d)
	for i, id := range tokens {
		row := x.Row(i)
		copy(row, m.weights.TokenEmbedding.Row(id))
		tensor.Add(row, m.weights.PositionEmbedding.Row(past+i))
	}
	return x
}

// block is one residual unit: x + attn(ln1(x)), then + mlp(ln2(.)).
func (m *Model) block(x tensor.Mat, l *LayerWeights, past layerCache) (tensor.Mat, kvRows, error) {
	h, err := tensor.LayerNorm(x, l.AttnNormGamma, l.AttnNormBeta, m.hp.Epsilon)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	a, present, err := attention(h, l, past, m.hp.HeadCount)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	if err := tensor.AddInPlace(x, a); err != nil {
		return tensor.Mat{}, kvRows{}, err
	}

	h, err = tensor.LayerNorm(x, l.FfnNormGamma, l.FfnNormBeta, m.hp.Epsilon)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	f, err := mlp(h, l)
	if err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	if err := tensor.AddInPlace(x, f); err != nil {
		return tensor.Mat{}, kvRows{}, err
	}
	return x, present, nil
}
