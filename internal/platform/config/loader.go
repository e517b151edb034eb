package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "velofood-client-go/internal/platform/errors"
)

const defaultConfigFile = ".config.yaml"

// Loader reads configuration from a yaml file, with environment expansion.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader reading the default config file in the working
// directory.
func NewLoader() *Loader {
	return &Loader{
		path:      defaultConfigFile,
		useDotEnv: true,
	}
}

// WithPath overrides the config file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Load reads the config file, falling back to defaults when it is missing.
// ${VAR} references in the file are expanded from the environment.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "loader.read", "failed to read config file", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "loader.parse", "failed to parse config file", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (l *Loader) Validate(cfg *Config) error {
	if cfg.Server.BaseURL == "" {
		return platformerrors.New(platformerrors.KindConfig, "loader.validate", "server base_url is required")
	}
	if cfg.Server.Timeout < 0 {
		return platformerrors.New(platformerrors.KindConfig, "loader.validate", "server timeout must not be negative")
	}
	switch cfg.Credentials.Driver {
	case "", "memory", "redis", "sqlite":
	default:
		return platformerrors.New(platformerrors.KindConfig, "loader.validate",
			fmt.Sprintf("unsupported credentials driver: %s", cfg.Credentials.Driver))
	}
	if cfg.Checkout.QuantityDebounce < 0 || cfg.Checkout.ValidationThrottle < 0 {
		return platformerrors.New(platformerrors.KindConfig, "loader.validate", "checkout windows must not be negative")
	}
	return nil
}
