package model

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kindle/internal/tensor"
)

// Hyperparameters fixes the architecture of a decoder. It is created once
// when an engine is built and never mutated afterwards.
type Hyperparameters struct {
	VocabSize      int     `json:"n_vocab" yaml:"vocab_size"`
	ContextLength  int     `json:"n_ctx" yaml:"context_length"`
	EmbeddingWidth int     `json:"n_embd" yaml:"embedding_width"`
	HeadCount      int     `json:"n_head" yaml:"head_count"`
	LayerCount     int     `json:"n_layer" yaml:"layer_count"`
	Epsilon        float32 `json:"layer_norm_epsilon,omitempty" yaml:"epsilon,omitempty"`
}

// DefaultHyperparameters returns the 124M GPT-2 layout.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		VocabSize:      50257,
		ContextLength:  1024,
		EmbeddingWidth: 768,
		HeadCount:      12,
		LayerCount:     12,
		Epsilon:        tensor.DefaultEpsilon,
	}
}

// WithDefaults fills unset optional fields.
func (h Hyperparameters) WithDefaults() Hyperparameters {
	if h.Epsilon == 0 {
		h.Epsilon = tensor.DefaultEpsilon
	}
	return h
}

// Validate checks counts are positive and the embedding width splits evenly
// across heads.
func (h Hyperparameters) Validate() error {
	if h.VocabSize <= 0 {
		return fmt.Errorf("%w: vocab_size %d must be positive", ErrInvalidHyperparameters, h.VocabSize)
	}
	if h.ContextLength <= 0 {
		return fmt.Errorf("%w: context_length %d must be positive", ErrInvalidHyperparameters, h.ContextLength)
	}
	if h.EmbeddingWidth <= 0 {
		return fmt.Errorf("%w: embedding_width %d must be positive", ErrInvalidHyperparameters, h.EmbeddingWidth)
	}
	if h.HeadCount <= 0 {
		return fmt.Errorf("%w: head_count %d must be positive", ErrInvalidHyperparameters, h.HeadCount)
	}
	if h.LayerCount <= 0 {
		return fmt.Errorf("%w: layer_count %d must be positive", ErrInvalidHyperparameters, h.LayerCount)
	}
	if h.EmbeddingWidth%h.HeadCount != 0 {
		return fmt.Errorf("%w: embedding_width %d not divisible by head_count %d: %w",
			ErrInvalidHyperparameters, h.EmbeddingWidth, h.HeadCount, tensor.ErrShapeMismatch)
	}
	if !(h.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon %g must be positive", ErrInvalidHyperparameters, h.Epsilon)
	}
	return nil
}

// HeadDim is the per-head width.
func (h Hyperparameters) HeadDim() int {
	return h.EmbeddingWidth / h.HeadCount
}

// ParseHyperparameters decodes a GPT-2 style hparams.json document.
func ParseHyperparameters(data []byte) (Hyperparameters, error) {
	var h Hyperparameters
	if err := json.Unmarshal(data, &h); err != nil {
		return Hyperparameters{}, fmt.Errorf("parse hparams: %w", err)
	}
	h = h.WithDefaults()
	if err := h.Validate(); err != nil {
		return Hyperparameters{}, err
	}
	return h, nil
}

// LoadHyperparameters reads and validates an hparams.json file.
func LoadHyperparameters(path string) (Hyperparameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Hyperparameters{}, err
	}
	return ParseHyperparameters(data)
}

// MarshalHyperparameters encodes h in the hparams.json layout.
func MarshalHyperparameters(h Hyperparameters) ([]byte, error) {
	return json.MarshalIndent(h, "", "  ")
}
