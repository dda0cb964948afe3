package inference

import (
	"time"

	"github.com/samcharles93/kindle/internal/logits"
)

// RequestOptions carries caller supplied values; nil means "use the default".
type RequestOptions struct {
	Tokens     []int
	StopTokens []int

	MaxTokens *int
	Seed      *int64

	Temperature *float64
	TopK        *int
	TopP        *float64
}

// GenDefaults are per-model defaults, usually read from
// generation_config.json or the CLI config file.
type GenDefaults struct {
	MaxTokens   *int     `json:"max_new_tokens" yaml:"max_tokens"`
	Temperature *float64 `json:"temperature" yaml:"temperature"`
	TopK        *int     `json:"top_k" yaml:"top_k"`
	TopP        *float64 `json:"top_p" yaml:"top_p"`
}

// DefaultMaxTokens is used when neither the request nor the model says how
// many tokens to generate.
const DefaultMaxTokens = 16

// ResolveRequest merges opts over defaults over the built-in values. A
// negative seed means "pick one from the clock". The result is not
// validated; Run does that.
func ResolveRequest(opts RequestOptions, defaults GenDefaults) Request {
	p := logits.DefaultParams()
	req := Request{
		Tokens:     opts.Tokens,
		StopTokens: opts.StopTokens,
		MaxTokens:  DefaultMaxTokens,
		Seed:       -1,
	}

	if defaults.MaxTokens != nil && *defaults.MaxTokens > 0 {
		req.MaxTokens = *defaults.MaxTokens
	}
	if defaults.Temperature != nil && *defaults.Temperature > 0 {
		p.Temperature = float32(*defaults.Temperature)
	}
	if defaults.TopK != nil && *defaults.TopK >= 0 {
		p.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		p.TopP = float32(*defaults.TopP)
	}

	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		p.Temperature = float32(*opts.Temperature)
	}
	if opts.TopK != nil {
		p.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		p.TopP = float32(*opts.TopP)
	}

	if req.Seed < 0 {
		req.Seed = time.Now().UnixNano()
	}
	req.Params = p
	return req
}
