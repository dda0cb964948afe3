package inference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kindle/internal/checkpoint"
)

// GenerationConfigFile optionally sits next to the weights and supplies
// sampling defaults in the Hugging Face generation_config.json layout.
const GenerationConfigFile = "generation_config.json"

// Load reads a checkpoint directory and returns an engine over it. Options
// are applied after the generation defaults found on disk, so WithDefaults
// overrides them.
func Load(dir string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("model path is required")
	}
	m, err := checkpoint.Load(dir)
	if err != nil {
		return nil, err
	}
	defaults, err := loadGenDefaults(filepath.Join(dir, GenerationConfigFile))
	if err != nil {
		return nil, err
	}
	return FromModel(m, append([]Option{WithDefaults(defaults)}, opts...)...), nil
}

func loadGenDefaults(path string) (GenDefaults, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return GenDefaults{}, nil
	}
	if err != nil {
		return GenDefaults{}, err
	}
	return parseGenDefaults(data)
}

func parseGenDefaults(data []byte) (GenDefaults, error) {
	if len(data) == 0 {
		return GenDefaults{}, nil
	}
	var d GenDefaults
	if err := json.Unmarshal(data, &d); err != nil {
		return GenDefaults{}, fmt.Errorf("parse %s: %w", GenerationConfigFile, err)
	}
	return d, nil
}
