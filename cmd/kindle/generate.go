package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kindle/internal/api"
	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/logger"
)

type generateOutput struct {
	Model        string  `json:"model"`
	Prompt       []int   `json:"prompt"`
	Tokens       []int   `json:"tokens"`
	FinishReason string  `json:"finish_reason"`
	Seed         int64   `json:"seed"`
	Temperature  float32 `json:"temperature"`
	TopK         int     `json:"top_k"`
	TopP         float32 `json:"top_p"`
	DurationMS   int64   `json:"duration_ms"`
	TPS          float64 `json:"tokens_per_second"`
}

func generateCmd() *cli.Command {
	var (
		tokens    string
		stop      string
		maxTokens int64
		temp      float64
		topK      int64
		topP      float64
		seed      int64
		jsonOut   bool
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Sample tokens after a seed sequence",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "tokens",
				Aliases:     []string{"t"},
				Usage:       "seed token ids, e.g. \"5,17,42\"",
				Required:    true,
				Destination: &tokens,
			},
			&cli.Int64Flag{
				Name:        "max-tokens",
				Aliases:     []string{"n", "steps"},
				Usage:       "number of tokens to generate",
				Value:       inference.DefaultMaxTokens,
				Destination: &maxTokens,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature"},
				Usage:       "sampling temperature (> 0)",
				Value:       1,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"top_k", "topk"},
				Usage:       "keep the k most likely tokens (0 = disabled)",
				Destination: &topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Aliases:     []string{"top_p", "topp"},
				Usage:       "nucleus sampling threshold in (0, 1]",
				Value:       1,
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (default -1 = random)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "stop",
				Usage:       "token ids that end generation early",
				Destination: &stop,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the result as JSON",
				Destination: &jsonOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			set := applyGenerateConfig(cmd, LoadConfig(), generateSettings{
				temp:      &temp,
				topK:      &topK,
				topP:      &topP,
				maxTokens: &maxTokens,
				seed:      &seed,
			})

			seedTokens, err := parseTokenList(tokens)
			if err != nil {
				return cli.Exit(fmt.Sprintf("--tokens: %v", err), 2)
			}
			var stopTokens []int
			if strings.TrimSpace(stop) != "" {
				if stopTokens, err = parseTokenList(stop); err != nil {
					return cli.Exit(fmt.Sprintf("--stop: %v", err), 2)
				}
			}

			opts := inference.RequestOptions{Tokens: seedTokens, StopTokens: stopTokens}
			if set["max"] {
				n := int(maxTokens)
				opts.MaxTokens = &n
			}
			if set["temp"] {
				opts.Temperature = &temp
			}
			if set["top-k"] {
				k := int(topK)
				opts.TopK = &k
			}
			if set["top-p"] {
				opts.TopP = &topP
			}
			opts.Seed = &seed

			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Loader: func(dir string) (*inference.Engine, error) {
					log.Debug("loading model", "path", dir)
					return inference.Load(dir, inference.WithLogger(log))
				},
			})

			out := cmd.Root().Writer
			if out == nil {
				out = os.Stdout
			}
			return provider.WithEngine(ctx, "", func(id string, engine *inference.Engine) error {
				req := inference.ResolveRequest(opts, engine.Defaults())
				return runGenerate(ctx, out, id, engine, req, jsonOut, log)
			})
		},
	}
}

func runGenerate(ctx context.Context, w io.Writer, id string, engine *inference.Engine, req inference.Request, jsonOut bool, log logger.Logger) error {
	var stream inference.StreamFunc
	if !jsonOut {
		first := true
		stream = func(tok int) error {
			sep := " "
			if first {
				sep = ""
				first = false
			}
			_, err := fmt.Fprintf(w, "%s%d", sep, tok)
			return err
		}
	}

	res, err := engine.Run(ctx, req, stream)
	if err != nil {
		if inference.IsRequestError(err) {
			return cli.Exit(err.Error(), 2)
		}
		if res == nil || !errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn("generation interrupted", "generated", len(res.Tokens))
	}

	log.Info("generation finished",
		"model", id,
		"prompt_tokens", res.Stats.PromptTokens,
		"generated", res.Stats.TokensGenerated,
		"finish_reason", res.FinishReason,
		"seed", req.Seed,
		"duration", res.Stats.Duration,
		"tps", fmt.Sprintf("%.2f", res.Stats.TPS),
	)

	log.Debug("generated tokens", "prompt", formatTokens(req.Tokens), "tokens", formatTokens(res.Tokens))

	if !jsonOut {
		_, err := fmt.Fprintln(w)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(generateOutput{
		Model:        id,
		Prompt:       req.Tokens,
		Tokens:       res.Tokens,
		FinishReason: res.FinishReason,
		Seed:         req.Seed,
		Temperature:  req.Params.Temperature,
		TopK:         req.Params.TopK,
		TopP:         req.Params.TopP,
		DurationMS:   res.Stats.Duration.Milliseconds(),
		TPS:          res.Stats.TPS,
	})
}
