package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kindle/internal/checkpoint"
	"github.com/samcharles93/kindle/internal/logger"
	"github.com/samcharles93/kindle/internal/model"
)

func initCmd() *cli.Command {
	var (
		out    string
		vocab  int64
		ctxLen int64
		embd   int64
		heads  int64
		layers int64
		seed   int64
		force  bool
	)
	def := model.DefaultHyperparameters()

	return &cli.Command{
		Name:  "init",
		Usage: "Write a checkpoint with random weights",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output checkpoint directory",
				Required:    true,
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "vocab",
				Usage:       "vocabulary size",
				Value:       int64(def.VocabSize),
				Destination: &vocab,
			},
			&cli.Int64Flag{
				Name:        "ctx",
				Usage:       "context length",
				Value:       int64(def.ContextLength),
				Destination: &ctxLen,
			},
			&cli.Int64Flag{
				Name:        "embd",
				Usage:       "embedding width",
				Value:       int64(def.EmbeddingWidth),
				Destination: &embd,
			},
			&cli.Int64Flag{
				Name:        "heads",
				Usage:       "attention heads per layer",
				Value:       int64(def.HeadCount),
				Destination: &heads,
			},
			&cli.Int64Flag{
				Name:        "layers",
				Usage:       "number of transformer blocks",
				Value:       int64(def.LayerCount),
				Destination: &layers,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight initialisation seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "overwrite an existing checkpoint",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			hp := model.Hyperparameters{
				VocabSize:      int(vocab),
				ContextLength:  int(ctxLen),
				EmbeddingWidth: int(embd),
				HeadCount:      int(heads),
				LayerCount:     int(layers),
			}.WithDefaults()
			if err := hp.Validate(); err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if checkpoint.IsModelDir(out) && !force {
				return cli.Exit(fmt.Sprintf("%s already holds a checkpoint; use --force to overwrite", out), 1)
			}

			if err := checkpoint.Save(out, hp, model.NewRandomWeights(hp, seed)); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			log.Info("checkpoint written",
				"path", out,
				"n_vocab", hp.VocabSize,
				"n_ctx", hp.ContextLength,
				"n_embd", hp.EmbeddingWidth,
				"n_head", hp.HeadCount,
				"n_layer", hp.LayerCount,
			)
			return nil
		},
	}
}
