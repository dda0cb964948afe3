package inference

import (
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/kindle/internal/logits"
	"github.com/samcharles93/kindle/internal/metrics"
	"github.com/samcharles93/kindle/internal/model"
	"github.com/samcharles93/kindle/internal/tensor"
)

// Session is one token sequence with its KV cache. Tokens are only ever
// appended. A Session must be used from a single goroutine; run independent
// sessions concurrently instead.
type Session struct {
	engine  *Engine
	sampler *logits.Sampler
	tokens  []int
	cache   *model.KVCache
	// last holds the logits after the final processed token.
	last []float32
}

// NewSession starts an empty session whose sampler is seeded with seed.
func (e *Engine) NewSession(seed int64) *Session {
	return &Session{
		engine:  e,
		sampler: logits.NewSampler(seed),
		cache:   e.model.NewCache(),
	}
}

// Tokens returns a copy of the sequence so far.
func (s *Session) Tokens() []int {
	return slices.Clone(s.tokens)
}

// Len is the number of tokens in the sequence, including a sampled token
// that has not been run through the model yet.
func (s *Session) Len() int {
	return len(s.tokens)
}

// Remaining is how many more tokens fit in the context window.
func (s *Session) Remaining() int {
	return s.engine.model.Hyperparameters().ContextLength - len(s.tokens)
}

// Reset discards the sequence and the cache.
func (s *Session) Reset() {
	s.tokens = s.tokens[:0]
	s.cache.Reset()
	s.last = nil
}

// Prefill appends tokens and runs them through the model in one pass. On
// error the session is unchanged.
func (s *Session) Prefill(tokens []int) error {
	if len(tokens) == 0 {
		return fmt.Errorf("prefill: empty input: %w", model.ErrDimension)
	}
	if len(s.tokens)+len(tokens) > s.engine.model.Hyperparameters().ContextLength {
		return fmt.Errorf("prefill %d tokens after %d: %w", len(tokens), len(s.tokens), ErrContextOverflow)
	}
	pending := append(slices.Clone(s.tokens[s.cache.Len():]), tokens...)

	start := time.Now()
	if err := s.forward(pending); err != nil {
		return err
	}
	metrics.RecordForward("prefill", time.Since(start))
	s.tokens = append(s.tokens, tokens...)
	return nil
}

// Step samples the next token from the current logits and appends it. The
// sampled token is run through the model lazily, at the start of the next
// Step or Prefill, so the last token of a generation costs no forward pass.
func (s *Session) Step(p logits.Params) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if s.Remaining() < 1 {
		return 0, fmt.Errorf("step at length %d: %w", len(s.tokens), ErrContextOverflow)
	}
	if pending := s.tokens[s.cache.Len():]; len(pending) > 0 {
		start := time.Now()
		if err := s.forward(pending); err != nil {
			return 0, err
		}
		metrics.RecordForward("decode", time.Since(start))
	}
	if s.last == nil {
		return 0, fmt.Errorf("step before prefill: %w", model.ErrDimension)
	}

	next, err := s.sampler.Sample(s.last, p)
	if err != nil {
		return 0, err
	}
	s.tokens = append(s.tokens, next)
	return next, nil
}

// forward runs tokens through the model, commits them to the cache and keeps
// the last row of logits. A panic inside the model is reported as an error.
func (s *Session) forward(tokens []int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	out, err := s.engine.model.Forward(tokens, s.cache)
	if err != nil {
		return err
	}
	row := out.Row(out.R - 1)
	if nans, infs := tensor.CountNonFinite(row); nans+infs > 0 {
		metrics.RecordNumericalInstability("logits", nans, infs)
		s.engine.log.Warn("non-finite logits", "nan", nans, "inf", infs, "position", s.cache.Len()-1)
	}
	s.last = row
	return nil
}

// cacheBytes reports the memory held by the session cache.
func (s *Session) cacheBytes() int64 {
	return s.cache.Bytes()
}
