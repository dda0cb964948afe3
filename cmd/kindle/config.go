package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envKindleConfig = "KINDLE_CONFIG"

// Config represents the kindle configuration file (~/.config/kindle/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`

	// Sampling defaults
	Temperature *float64 `yaml:"temperature"`
	TopK        *int64   `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   *int64   `yaml:"max_tokens"`
	Seed        *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if p := strings.TrimSpace(os.Getenv(envKindleConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kindle", "config.yaml")
}

// generateSettings are the generate command values a config file may supply.
type generateSettings struct {
	temp      *float64
	topK      *int64
	topP      *float64
	maxTokens *int64
	seed      *int64
}

// applyModelConfig fills model locations from the config file when the
// corresponding flag was not given.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
}

// applyGenerateConfig applies config file defaults to generate command
// variables when the corresponding CLI flag was not explicitly set. It
// reports which sampling values ended up set by either source.
func applyGenerateConfig(c *cli.Command, cfg Config, s generateSettings) (set map[string]bool) {
	applyModelConfig(c, cfg)
	set = map[string]bool{
		"temp":  c.IsSet("temp"),
		"top-k": c.IsSet("top-k"),
		"top-p": c.IsSet("top-p"),
		"max":   c.IsSet("max-tokens"),
		"seed":  c.IsSet("seed"),
	}
	if cfg.Temperature != nil && !set["temp"] {
		*s.temp = *cfg.Temperature
		set["temp"] = true
	}
	if cfg.TopK != nil && !set["top-k"] {
		*s.topK = *cfg.TopK
		set["top-k"] = true
	}
	if cfg.TopP != nil && !set["top-p"] {
		*s.topP = *cfg.TopP
		set["top-p"] = true
	}
	if cfg.MaxTokens != nil && !set["max"] {
		*s.maxTokens = *cfg.MaxTokens
		set["max"] = true
	}
	if cfg.Seed != nil && !set["seed"] {
		*s.seed = *cfg.Seed
		set["seed"] = true
	}
	return set
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
