package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/kindle/internal/checkpoint"
	"github.com/samcharles93/kindle/internal/inference"
)

// EngineProvider resolves a model name to a ready engine. An empty name
// selects the default model.
type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(id string, engine *inference.Engine) error) error
	ListModels() ([]string, error)
}

// LoaderFunc builds an engine from a checkpoint directory.
type LoaderFunc func(dir string) (*inference.Engine, error)

type EngineProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	Loader           LoaderFunc
}

// CachedEngineProvider loads checkpoints on first use and keeps them for
// the life of the process. Engines are safe for concurrent use, so requests
// for the same model share one engine.
type CachedEngineProvider struct {
	cfg   EngineProviderConfig
	mu    sync.Mutex
	cache map[string]*inference.Engine
}

const envKindleModelsDir = "KINDLE_MODELS_DIR"

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	if cfg.Loader == nil {
		cfg.Loader = func(dir string) (*inference.Engine, error) {
			return inference.Load(dir)
		}
	}
	return &CachedEngineProvider{
		cfg:   cfg,
		cache: make(map[string]*inference.Engine),
	}
}

func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(id string, engine *inference.Engine) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	engine, err := p.getOrLoad(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(modelName(path), engine)
}

func (p *CachedEngineProvider) getOrLoad(path string) (*inference.Engine, error) {
	p.mu.Lock()
	engine, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return engine, nil
	}

	loaded, err := p.cfg.Loader(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		return existing, nil
	}
	p.cache[path] = loaded
	return loaded, nil
}

// ListModels returns the names of the checkpoints under the models path
// plus the default model, sorted.
func (p *CachedEngineProvider) ListModels() ([]string, error) {
	var names []string
	if p.cfg.DefaultModelPath != "" {
		names = append(names, modelName(p.cfg.DefaultModelPath))
	}
	if dir := p.modelsDir(); dir != "" {
		found, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, path := range found {
			names = append(names, modelName(path))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (p *CachedEngineProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if looksLikePath(modelID) {
			return filepath.Clean(modelID), nil
		}
		if p.cfg.DefaultModelPath != "" && modelName(p.cfg.DefaultModelPath) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", fmt.Errorf("%w: %q (no models path configured)", ErrModelNotFound, modelID)
		}
		if resolved := resolveInDir(modelsDir, modelID); resolved != "" {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: %q in %s", ErrModelNotFound, modelID, modelsDir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newInvalidRequest("model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no checkpoints in %s", ErrModelNotFound, modelsDir)
	default:
		return "", newInvalidRequest(fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
	}
}

func (p *CachedEngineProvider) modelsDir() string {
	if dir := strings.TrimSpace(p.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envKindleModelsDir))
}

func looksLikePath(v string) bool {
	return strings.ContainsRune(v, filepath.Separator) || strings.HasPrefix(v, ".")
}

func resolveInDir(dir, name string) string {
	cand := filepath.Join(dir, name)
	if filepath.Dir(cand) != filepath.Clean(dir) {
		return ""
	}
	if checkpoint.IsModelDir(cand) {
		return cand
	}
	return ""
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if checkpoint.IsModelDir(path) {
			models = append(models, path)
		}
	}
	return models, nil
}

func modelName(path string) string {
	return filepath.Base(filepath.Clean(path))
}

// StaticEngineProvider serves a single engine under a fixed name.
type StaticEngineProvider struct {
	ID     string
	Engine *inference.Engine
}

func (p StaticEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(id string, engine *inference.Engine) error) error {
	if p.Engine == nil {
		return fmt.Errorf("no engine configured")
	}
	if modelID != "" && modelID != p.ID {
		return fmt.Errorf("%w: %q", ErrModelNotFound, modelID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(p.ID, p.Engine)
}

func (p StaticEngineProvider) ListModels() ([]string, error) {
	return []string{p.ID}, nil
}
