package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kindle/internal/checkpoint"
	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/logger"
	"github.com/samcharles93/kindle/internal/model"
)

func tinyCheckpoint(t *testing.T) (string, model.Hyperparameters) {
	t.Helper()
	hp := model.Hyperparameters{
		VocabSize:      20,
		ContextLength:  16,
		EmbeddingWidth: 8,
		HeadCount:      2,
		LayerCount:     2,
	}.WithDefaults()
	dir := filepath.Join(t.TempDir(), "tiny")
	if err := checkpoint.Save(dir, hp, model.NewRandomWeights(hp, 4)); err != nil {
		t.Fatalf("save: %v", err)
	}
	return dir, hp
}

func TestInspectCheckpoint(t *testing.T) {
	t.Parallel()

	dir, hp := tinyCheckpoint(t)
	info, err := inspectCheckpoint(dir)
	if err != nil {
		t.Fatalf("inspectCheckpoint: %v", err)
	}
	if info.Hyperparameters != hp || info.HeadDim != 4 {
		t.Fatalf("unexpected header %+v", info)
	}
	// wte, wpe, ln_f (2) plus 12 tensors per block.
	if want := 4 + 12*hp.LayerCount; len(info.Tensors) != want {
		t.Fatalf("got %d tensors, want %d", len(info.Tensors), want)
	}
	if info.Metadata["producer"] != "kindle" {
		t.Fatalf("metadata = %v", info.Metadata)
	}

	var buf bytes.Buffer
	if err := printInspect(&buf, info); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"n_vocab", "20", "wte.weight", "[20, 8]", "meta.producer"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("inspect output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestInspectCheckpointMissing(t *testing.T) {
	t.Parallel()

	if _, err := inspectCheckpoint(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestRunGenerateOutputs(t *testing.T) {
	t.Parallel()

	dir, _ := tinyCheckpoint(t)
	engine, err := inference.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	maxTokens, seed := 5, int64(12)
	req := inference.ResolveRequest(inference.RequestOptions{
		Tokens:    []int{1, 2, 3},
		MaxTokens: &maxTokens,
		Seed:      &seed,
	}, engine.Defaults())

	var plain bytes.Buffer
	if err := runGenerate(context.Background(), &plain, "tiny", engine, req, false, logger.Discard()); err != nil {
		t.Fatalf("runGenerate: %v", err)
	}
	streamed, err := parseTokenList(plain.String())
	if err != nil || len(streamed) != 5 {
		t.Fatalf("plain output %q: %v", plain.String(), err)
	}

	var js bytes.Buffer
	if err := runGenerate(context.Background(), &js, "tiny", engine, req, true, logger.Discard()); err != nil {
		t.Fatalf("runGenerate json: %v", err)
	}
	var out generateOutput
	if err := json.Unmarshal(js.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", js.String(), err)
	}
	if out.Model != "tiny" || out.Seed != 12 || out.FinishReason != inference.FinishLength {
		t.Fatalf("unexpected output %+v", out)
	}
	if formatTokens(out.Tokens) != formatTokens(streamed) {
		t.Fatalf("same seed gave %v and %v", out.Tokens, streamed)
	}
}

func TestRunGenerateRequestErrorExitCode(t *testing.T) {
	t.Parallel()

	dir, _ := tinyCheckpoint(t)
	engine, err := inference.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	maxTokens := 100
	req := inference.ResolveRequest(inference.RequestOptions{Tokens: []int{1}, MaxTokens: &maxTokens}, engine.Defaults())

	var buf bytes.Buffer
	err = runGenerate(context.Background(), &buf, "tiny", engine, req, false, logger.Discard())
	if err == nil || !strings.Contains(err.Error(), "context length") {
		t.Fatalf("expected context overflow, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written on rejection, got %q", buf.String())
	}
}
