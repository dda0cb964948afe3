package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
models_dir: /srv/models
temperature: 0.7
top_k: 40
seed: 9
log_format: json
server_address: 0.0.0.0:9000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envKindleConfig, path)

	cfg := LoadConfig()
	if cfg.ModelsDir != "/srv/models" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("temperature = %v", cfg.Temperature)
	}
	if cfg.TopK == nil || *cfg.TopK != 40 || cfg.Seed == nil || *cfg.Seed != 9 {
		t.Fatalf("top_k=%v seed=%v", cfg.TopK, cfg.Seed)
	}
	if cfg.TopP != nil || cfg.MaxTokens != nil {
		t.Fatalf("unset fields should stay nil: %+v", cfg)
	}
}

func TestLoadConfigMissingOrInvalid(t *testing.T) {
	t.Setenv(envKindleConfig, filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg := LoadConfig(); cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("temperature: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFile(bad); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv(envKindleConfig, bad)
	if cfg := LoadConfig(); cfg != (Config{}) {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestApplyGenerateConfigFlagsWin(t *testing.T) {
	temp, topK, topP := 1.0, int64(0), 1.0
	maxTokens, seed := int64(16), int64(-1)
	cfgTemp, cfgTopK, cfgSeed := 0.5, int64(8), int64(3)
	cfg := Config{ModelsDir: "/cfg/models", Temperature: &cfgTemp, TopK: &cfgTopK, Seed: &cfgSeed}

	prevModels := modelsPath
	t.Cleanup(func() { modelsPath = prevModels })

	var set map[string]bool
	cmd := &cli.Command{
		Name: "generate",
		Flags: append(commonModelFlags(),
			&cli.Float64Flag{Name: "temp", Destination: &temp},
			&cli.Int64Flag{Name: "top-k", Destination: &topK},
			&cli.Float64Flag{Name: "top-p", Destination: &topP},
			&cli.Int64Flag{Name: "max-tokens", Destination: &maxTokens},
			&cli.Int64Flag{Name: "seed", Destination: &seed},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			set = applyGenerateConfig(c, cfg, generateSettings{
				temp: &temp, topK: &topK, topP: &topP, maxTokens: &maxTokens, seed: &seed,
			})
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"generate", "--temp", "0.9", "--models-path", "/flag/models"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if temp != 0.9 {
		t.Fatalf("flag temperature overridden by config: %v", temp)
	}
	if topK != 8 || seed != 3 {
		t.Fatalf("config values not applied: top_k=%d seed=%d", topK, seed)
	}
	if modelsPath != "/flag/models" {
		t.Fatalf("models path = %q", modelsPath)
	}
	if !set["temp"] || !set["top-k"] || !set["seed"] || set["top-p"] || set["max"] {
		t.Fatalf("unexpected set map %v", set)
	}
}
