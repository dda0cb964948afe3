package api

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/kindle/internal/inference"
)

// StreamWriter receives generation events as they happen.
type StreamWriter interface {
	Begin(gen Generation) error
	EmitToken(token int) error
	Complete(gen Generation) error
	Failed(gen Generation) error
	Incomplete(gen Generation) error
}

type GenerationService struct {
	provider EngineProvider
}

func NewGenerationService(provider EngineProvider) *GenerationService {
	return &GenerationService{provider: provider}
}

// CreateGeneration resolves req against the selected model's defaults and
// runs it. Requests are validated before the stream is begun, so a stream
// never starts for a request that is rejected.
//
// When generation fails after it started, the partial generation is
// returned together with the error.
func (s *GenerationService) CreateGeneration(ctx context.Context, req *GenerateRequest, stream StreamWriter) (*Generation, error) {
	if len(req.Tokens) == 0 {
		return nil, newInvalidRequest("tokens: at least one token is required")
	}

	var gen *Generation
	err := s.provider.WithEngine(ctx, req.Model, func(id string, engine *inference.Engine) error {
		r := inference.ResolveRequest(toRequestOptions(req), engine.Defaults())
		if err := engine.Validate(r); err != nil {
			return err
		}

		gen = &Generation{
			ID:        newGenerationID(),
			Object:    "generation",
			CreatedAt: s.clockNow(),
			Status:    "in_progress",
			Model:     id,
			Prompt:    req.Tokens,
			Tokens:    []int{},
			Seed:      r.Seed,
			Sampling: &SamplingOptions{
				Temperature: r.Params.Temperature,
				TopK:        r.Params.TopK,
				TopP:        r.Params.TopP,
			},
		}
		if stream != nil {
			if err := stream.Begin(*gen); err != nil {
				return err
			}
		}

		var emit inference.StreamFunc
		if stream != nil {
			emit = stream.EmitToken
		}
		res, runErr := engine.Run(ctx, r, emit)
		if res != nil {
			gen.Tokens = res.Tokens
			gen.FinishReason = res.FinishReason
			gen.Usage = usageOf(res.Stats)
		}
		return runErr
	})

	if gen == nil {
		return nil, err
	}

	now := s.clockNow()
	gen.CompletedAt = &now
	if err != nil {
		_, errType := classify(err)
		gen.Error = &ResponseError{Message: err.Error(), Type: errType}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			gen.Status = "incomplete"
			if stream != nil {
				_ = stream.Incomplete(*gen)
			}
		} else {
			gen.Status = "failed"
			if stream != nil {
				_ = stream.Failed(*gen)
			}
		}
		return gen, err
	}

	gen.Status = "completed"
	if stream != nil {
		if err := stream.Complete(*gen); err != nil {
			return gen, err
		}
	}
	return gen, nil
}

func toRequestOptions(req *GenerateRequest) inference.RequestOptions {
	return inference.RequestOptions{
		Tokens:      req.Tokens,
		StopTokens:  req.Stop,
		MaxTokens:   req.MaxTokens,
		Seed:        req.Seed,
		Temperature: req.Temperature,
		TopK:        req.TopK,
		TopP:        req.TopP,
	}
}

func usageOf(st inference.Stats) *Usage {
	return &Usage{
		PromptTokens:     st.PromptTokens,
		CompletionTokens: st.TokensGenerated,
		TotalTokens:      st.PromptTokens + st.TokensGenerated,
		DurationMS:       st.Duration.Milliseconds(),
		TokensPerSecond:  st.TPS,
	}
}

func (s *GenerationService) clockNow() int64 {
	return timeNow().Unix()
}

var timeNow = func() time.Time {
	return time.Now()
}
