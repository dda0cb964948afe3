package model

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kindle/internal/tensor"
)

var (
	// ErrDimension reports an input sequence that does not fit the context
	// window, or an empty input.
	ErrDimension = errors.New("dimension error")
	// ErrTokenOutOfRange reports a token id outside [0, vocab_size).
	ErrTokenOutOfRange = errors.New("token id out of range")
	// ErrInvalidHyperparameters reports a Hyperparameters value that fails
	// Validate.
	ErrInvalidHyperparameters = errors.New("invalid hyperparameters")
)

func shapeErr(name string, got, want tensor.Shape) error {
	return fmt.Errorf("weight %s: %w", name, &tensor.ShapeError{Op: "validate", A: got, B: want})
}
