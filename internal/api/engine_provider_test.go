package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/kindle/internal/checkpoint"
	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/model"
)

func writeCheckpoint(t *testing.T, dir string) {
	t.Helper()
	hp := testHP()
	if err := checkpoint.Save(dir, hp, model.NewRandomWeights(hp, 1)); err != nil {
		t.Fatalf("save %s: %v", dir, err)
	}
}

func TestCachedEngineProviderListModelsFromDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCheckpoint(t, filepath.Join(dir, "beta"))
	writeCheckpoint(t, filepath.Join(dir, "alpha"))
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "x")
	mustMkdir(t, filepath.Join(dir, "empty"))

	provider := NewCachedEngineProvider(EngineProviderConfig{ModelsPath: dir})
	models, err := provider.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(models, want) {
		t.Fatalf("ListModels() = %v, want %v", models, want)
	}
}

func TestCachedEngineProviderListModelsIncludesDefaultModel(t *testing.T) {
	t.Parallel()

	provider := NewCachedEngineProvider(EngineProviderConfig{DefaultModelPath: "/models/custom-model"})
	models, err := provider.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	want := []string{"custom-model"}
	if !reflect.DeepEqual(models, want) {
		t.Fatalf("ListModels() = %v, want %v", models, want)
	}
}

func TestCachedEngineProviderLoadsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeCheckpoint(t, filepath.Join(dir, "tiny"))

	var loads atomic.Int32
	provider := NewCachedEngineProvider(EngineProviderConfig{
		ModelsPath: dir,
		Loader: func(path string) (*inference.Engine, error) {
			loads.Add(1)
			return inference.Load(path)
		},
	})

	for range 3 {
		err := provider.WithEngine(context.Background(), "tiny", func(id string, engine *inference.Engine) error {
			if id != "tiny" {
				t.Fatalf("id = %q", id)
			}
			if engine.Model().Hyperparameters() != testHP() {
				t.Fatalf("unexpected hyperparameters %+v", engine.Model().Hyperparameters())
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithEngine: %v", err)
		}
	}
	if n := loads.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
}

func TestCachedEngineProviderResolve(t *testing.T) {
	t.Parallel()

	one := t.TempDir()
	writeCheckpoint(t, filepath.Join(one, "only"))

	two := t.TempDir()
	writeCheckpoint(t, filepath.Join(two, "a"))
	writeCheckpoint(t, filepath.Join(two, "b"))

	tests := []struct {
		name    string
		cfg     EngineProviderConfig
		model   string
		want    string
		wantErr error
	}{
		{name: "single model is the default", cfg: EngineProviderConfig{ModelsPath: one}, want: filepath.Join(one, "only")},
		{name: "named model", cfg: EngineProviderConfig{ModelsPath: two}, model: "b", want: filepath.Join(two, "b")},
		{name: "explicit path", cfg: EngineProviderConfig{}, model: filepath.Join(two, "a"), want: filepath.Join(two, "a")},
		{name: "default by name", cfg: EngineProviderConfig{DefaultModelPath: "/x/tiny"}, model: "tiny", want: "/x/tiny"},
		{name: "ambiguous", cfg: EngineProviderConfig{ModelsPath: two}, wantErr: ErrInvalidRequest},
		{name: "unknown", cfg: EngineProviderConfig{ModelsPath: two}, model: "c", wantErr: ErrModelNotFound},
		{name: "no models path", cfg: EngineProviderConfig{DefaultModelPath: "/x/tiny"}, model: "other", wantErr: ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewCachedEngineProvider(tt.cfg)
			got, err := p.resolveModelPath(tt.model)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got path=%q err=%v", tt.wantErr, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveModelPath: %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolveModelPath(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestStaticEngineProvider(t *testing.T) {
	t.Parallel()

	p := StaticEngineProvider{ID: "tiny", Engine: newTestEngine(t)}
	called := false
	if err := p.WithEngine(context.Background(), "", func(id string, _ *inference.Engine) error {
		called = id == "tiny"
		return nil
	}); err != nil || !called {
		t.Fatalf("default lookup: called=%v err=%v", called, err)
	}
	err := p.WithEngine(context.Background(), "nope", func(string, *inference.Engine) error { return nil })
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}
