package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kindle/internal/checkpoint"
	"github.com/samcharles93/kindle/internal/model"
	"github.com/samcharles93/kindle/internal/safetensors"
)

type tensorSummary struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Bytes int64  `json:"bytes"`
}

type inspectOutput struct {
	Path            string                `json:"path"`
	Hyperparameters model.Hyperparameters `json:"hyperparameters"`
	HeadDim         int                   `json:"head_dim"`
	Parameters      int64                 `json:"parameters"`
	Metadata        map[string]string     `json:"metadata,omitempty"`
	Tensors         []tensorSummary       `json:"tensors,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		path        string
		showTensors bool
		jsonOut     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the hyperparameters and tensor inventory of a checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to a checkpoint directory",
				Destination: &path,
			},
			&cli.BoolFlag{
				Name:        "tensors",
				Usage:       "list every tensor",
				Destination: &showTensors,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &jsonOut,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if path == "" {
				path = cmd.Args().First()
			}
			if path == "" {
				return cli.Exit("--model is required", 2)
			}
			info, err := inspectCheckpoint(path)
			if err != nil {
				return err
			}
			if !showTensors && !jsonOut {
				info.Tensors = nil
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return printInspect(os.Stdout, info)
		},
	}
}

func inspectCheckpoint(dir string) (inspectOutput, error) {
	hp, err := model.LoadHyperparameters(filepath.Join(dir, checkpoint.HParamsFile))
	if err != nil {
		return inspectOutput{}, err
	}
	f, err := safetensors.Open(filepath.Join(dir, checkpoint.WeightsFile))
	if err != nil {
		return inspectOutput{}, err
	}
	defer f.Close()

	out := inspectOutput{
		Path:            dir,
		Hyperparameters: hp,
		HeadDim:         hp.HeadDim(),
		Metadata:        f.Metadata,
	}
	for _, name := range f.Names() {
		ti, _ := f.Tensor(name)
		n := int64(1)
		for _, d := range ti.Shape {
			n *= int64(d)
		}
		out.Parameters += n
		out.Tensors = append(out.Tensors, tensorSummary{
			Name:  checkpoint.TrimPrefix(name),
			DType: ti.DType,
			Shape: ti.Shape,
			Bytes: ti.End - ti.Start,
		})
	}
	return out, nil
}

func printInspect(w io.Writer, info inspectOutput) error {
	hp := info.Hyperparameters
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "path\t%s\n", info.Path)
	fmt.Fprintf(tw, "n_vocab\t%d\n", hp.VocabSize)
	fmt.Fprintf(tw, "n_ctx\t%d\n", hp.ContextLength)
	fmt.Fprintf(tw, "n_embd\t%d\n", hp.EmbeddingWidth)
	fmt.Fprintf(tw, "n_head\t%d (head dim %d)\n", hp.HeadCount, info.HeadDim)
	fmt.Fprintf(tw, "n_layer\t%d\n", hp.LayerCount)
	fmt.Fprintf(tw, "layer_norm_epsilon\t%g\n", hp.Epsilon)
	fmt.Fprintf(tw, "parameters\t%s\n", humanCount(info.Parameters))
	for _, k := range slices.Sorted(maps.Keys(info.Metadata)) {
		fmt.Fprintf(tw, "meta.%s\t%s\n", k, info.Metadata[k])
	}
	if len(info.Tensors) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "TENSOR\tDTYPE\tSHAPE\tBYTES")
		for _, t := range info.Tensors {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.Name, t.DType, formatShape(t.Shape), t.Bytes)
		}
	}
	return tw.Flush()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func humanCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.2fK", float64(n)/1e3)
	default:
		return fmt.Sprint(n)
	}
}
