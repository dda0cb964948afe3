package inference

import (
	"errors"
	"time"

	"github.com/samcharles93/kindle/internal/logits"
)

// ErrContextOverflow is returned when the seed plus the requested number of
// tokens does not fit the context window. No state is touched when it is
// returned.
var ErrContextOverflow = errors.New("context overflow")

// StreamFunc receives every sampled token in order. A non-nil error stops
// generation and is returned to the caller.
type StreamFunc func(token int) error

// Finish reasons reported in Result.
const (
	FinishLength = "length"
	FinishStop   = "stop"
)

// Request is a fully resolved generation request.
type Request struct {
	Tokens    []int
	MaxTokens int
	Seed      int64
	Params    logits.Params

	// StopTokens end generation early when sampled. The stop token is not
	// included in the result.
	StopTokens []int
}

type Result struct {
	Tokens       []int
	FinishReason string
	Stats        Stats
}

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	PrefillDuration time.Duration
	Duration        time.Duration
	TPS             float64
}
