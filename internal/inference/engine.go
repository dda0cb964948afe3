package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/kindle/internal/logger"
	"github.com/samcharles93/kindle/internal/logits"
	"github.com/samcharles93/kindle/internal/metrics"
	"github.com/samcharles93/kindle/internal/model"
)

// Engine owns a read-only model and hands out sessions. It is safe for
// concurrent use; every call works on its own Session.
type Engine struct {
	model    *model.Model
	log      logger.Logger
	seed     int64
	defaults GenDefaults
}

type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSeed sets the sampler seed used by Generate.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithDefaults sets the per-model generation defaults.
func WithDefaults(d GenDefaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// NewEngine validates hp and w and builds an engine over them. Weight shapes
// that disagree with hp fail with tensor.ErrShapeMismatch.
func NewEngine(hp model.Hyperparameters, w *model.Weights, opts ...Option) (*Engine, error) {
	m, err := model.New(hp, w)
	if err != nil {
		return nil, err
	}
	return FromModel(m, opts...), nil
}

// FromModel wraps an already validated model.
func FromModel(m *model.Model, opts ...Option) *Engine {
	e := &Engine{model: m, log: logger.Discard(), seed: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Model() *model.Model {
	return e.model
}

func (e *Engine) Defaults() GenDefaults {
	return e.defaults
}

// Generate samples exactly targetLength tokens after seed and returns them.
// seed is never modified. Sampling is reproducible for a given engine seed.
func (e *Engine) Generate(ctx context.Context, seed []int, targetLength int, params logits.Params, stream StreamFunc) ([]int, Stats, error) {
	res, err := e.Run(ctx, Request{
		Tokens:    seed,
		MaxTokens: targetLength,
		Seed:      e.seed,
		Params:    params,
	}, stream)
	if err != nil {
		if res != nil {
			return res.Tokens, res.Stats, err
		}
		return nil, Stats{}, err
	}
	return res.Tokens, res.Stats, nil
}

// Run executes req. All validation happens before the first forward pass:
// sampling parameters, then the seed tokens, then the context budget.
//
// On cancellation or a stream error Run returns the tokens produced so far
// along with the error.
func (e *Engine) Run(ctx context.Context, req Request, stream StreamFunc) (*Result, error) {
	if reason, err := e.validate(req); err != nil {
		metrics.RecordValidationError("generate", reason)
		metrics.RecordGeneration("rejected", 0, 0, 0)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := metrics.SessionStarted()
	defer done()

	log := e.log.With("prompt_tokens", len(req.Tokens), "max_tokens", req.MaxTokens)
	start := time.Now()
	res := &Result{Tokens: make([]int, 0, req.MaxTokens), FinishReason: FinishLength}
	res.Stats.PromptTokens = len(req.Tokens)

	finish := func(status string, err error) (*Result, error) {
		res.Stats.TokensGenerated = len(res.Tokens)
		res.Stats.Duration = time.Since(start)
		decode := res.Stats.Duration - res.Stats.PrefillDuration
		if decode > 0 && len(res.Tokens) > 0 {
			res.Stats.TPS = float64(len(res.Tokens)) / decode.Seconds()
		}
		metrics.RecordGeneration(status, res.Stats.PromptTokens, res.Stats.TokensGenerated, res.Stats.Duration)
		metrics.RecordContextLength(res.Stats.PromptTokens + res.Stats.TokensGenerated)
		if err != nil {
			log.Warn("generation stopped", "status", status, "generated", len(res.Tokens), "error", err)
			return res, err
		}
		log.Debug("generation finished",
			"generated", res.Stats.TokensGenerated,
			"finish_reason", res.FinishReason,
			"duration", res.Stats.Duration,
			"tps", res.Stats.TPS,
		)
		return res, nil
	}

	if req.MaxTokens == 0 {
		return finish("ok", nil)
	}

	sess := e.NewSession(req.Seed)
	defer func() { metrics.RecordKVCache(sess.cacheBytes()) }()

	if err := sess.Prefill(req.Tokens); err != nil {
		return finish("error", fmt.Errorf("prefill: %w", err))
	}
	res.Stats.PrefillDuration = time.Since(start)

	for len(res.Tokens) < req.MaxTokens {
		if err := ctx.Err(); err != nil {
			return finish("canceled", err)
		}
		next, err := sess.Step(req.Params)
		if err != nil {
			return finish("error", fmt.Errorf("step %d: %w", len(res.Tokens), err))
		}
		if slices.Contains(req.StopTokens, next) {
			res.FinishReason = FinishStop
			break
		}
		res.Tokens = append(res.Tokens, next)
		if stream != nil {
			if err := stream(next); err != nil {
				return finish("canceled", fmt.Errorf("stream: %w", err))
			}
		}
	}
	return finish("ok", nil)
}

// Validate reports whether Run would accept req, without running anything.
func (e *Engine) Validate(req Request) error {
	_, err := e.validate(req)
	return err
}

// validate returns the first problem with req and a short label for it.
func (e *Engine) validate(req Request) (string, error) {
	if err := req.Params.Validate(); err != nil {
		return "sampling_parameter", err
	}
	if req.MaxTokens < 0 {
		return "max_tokens", fmt.Errorf("max_tokens %d must be >= 0: %w", req.MaxTokens, model.ErrDimension)
	}
	hp := e.model.Hyperparameters()
	if len(req.Tokens) == 0 {
		return "empty_seed", fmt.Errorf("seed sequence is empty: %w", model.ErrDimension)
	}
	for i, id := range req.Tokens {
		if id < 0 || id >= hp.VocabSize {
			return "token_range", fmt.Errorf("seed[%d]: %w: %d (vocab %d)", i, model.ErrTokenOutOfRange, id, hp.VocabSize)
		}
	}
	// Both sides are non-negative here, so the subtraction cannot wrap.
	if req.MaxTokens > hp.ContextLength-len(req.Tokens) {
		return "context_overflow", fmt.Errorf("%d seed + %d new tokens exceeds context length %d: %w",
			len(req.Tokens), req.MaxTokens, hp.ContextLength, ErrContextOverflow)
	}
	return "", nil
}

// IsRequestError reports whether err was caused by the request rather than
// the engine.
func IsRequestError(err error) bool {
	return errors.Is(err, logits.ErrInvalidSamplingParameter) ||
		errors.Is(err, ErrContextOverflow) ||
		errors.Is(err, model.ErrTokenOutOfRange) ||
		errors.Is(err, model.ErrDimension)
}
