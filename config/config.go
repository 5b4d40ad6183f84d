// Package config loads the marine-detect configuration from YAML, .env files
// and the environment.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/marine-detect/inference/providers"
	"github.com/nvr-ai/marine-detect/logger"
	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
)

// Environment variables overriding the file configuration.
const (
	EnvConfig    = "MARINE_CONFIG"
	EnvAddr      = "MARINE_ADDR"
	EnvLogMode   = "MARINE_LOG_MODE"
	EnvORTLib    = "MARINE_ORT_LIB"
	EnvProvider  = "MARINE_PROVIDER"
	EnvModelsDir = "MARINE_MODELS_DIR"
)

const (
	// DefaultPath is read when no path is given and the file exists.
	DefaultPath = "marine-detect.yaml"
	// DefaultAddr is the HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultModelsDir caches downloaded weights.
	DefaultModelsDir = "models"
	// DefaultDisplayConfidence hides low scoring detections from presentation.
	DefaultDisplayConfidence float32 = 0.5
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// MaxUploadBytes bounds multipart uploads; 0 means gin's default memory limit.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Config is the application configuration.
type Config struct {
	LogMode   logger.Mode      `yaml:"log_mode"`
	ModelsDir string           `yaml:"models_dir"`
	Server    ServerConfig     `yaml:"server"`
	Provider  providers.Config `yaml:"provider"`
	// DisplayConfidence filters what is drawn and returned, never what is decoded.
	DisplayConfidence float32        `yaml:"display_confidence"`
	Models            []model.Config `yaml:"models"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogMode:           logger.ModeProduction,
		ModelsDir:         DefaultModelsDir,
		Server:            ServerConfig{Addr: DefaultAddr},
		Provider:          providers.Config{Backend: providers.CPUProviderBackend},
		DisplayConfidence: DefaultDisplayConfidence,
		Models:            models.DefaultModels(),
	}
}

// Load builds the configuration.
//
// Values come from the defaults, then the YAML file, then the environment.
// A .env file in the working directory is loaded first when present. The
// file is path, else $MARINE_CONFIG, else DefaultPath if it exists.
//
// Arguments:
//   - path: The YAML file; may be empty.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read or the result is invalid.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := cfg.Unmarshal(data); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyModelDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Unmarshal overlays YAML onto c. A models list replaces the defaults.
func (c *Config) Unmarshal(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// ApplyEnv overlays the MARINE_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogMode); v != "" {
		mode, err := logger.ParseMode(v)
		if err != nil {
			return errors.Wrap(err, EnvLogMode)
		}
		c.LogMode = mode
	}
	if v := os.Getenv(EnvORTLib); v != "" {
		c.Provider.LibraryPath = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		backend, err := providers.ParseBackend(v)
		if err != nil {
			return errors.Wrap(err, EnvProvider)
		}
		c.Provider.Backend = backend
	}
	if v := os.Getenv(EnvModelsDir); v != "" {
		c.ModelsDir = v
	}
	return nil
}

func (c *Config) applyModelDefaults() {
	for i := range c.Models {
		c.Models[i] = c.Models[i].WithDefaults()
	}
}

// Validate rejects thresholds outside [0, 1], non-positive input sizes,
// unknown log modes or backends and duplicate models.
func (c *Config) Validate() error {
	if _, err := logger.ParseMode(string(c.LogMode)); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.DisplayConfidence < 0 || c.DisplayConfidence > 1 {
		return errors.Errorf("display confidence %v outside [0, 1]", c.DisplayConfidence)
	}
	if len(c.Models) == 0 {
		return errors.New("no models configured")
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry registers the configured models.
func (c *Config) Registry() (*models.Registry, error) {
	return models.NewRegistry(c.Models...)
}
