package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "350ms"
// as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Checkout    CheckoutConfig    `yaml:"checkout"`
}

// ServerConfig points the client at a marketplace backend.
type ServerConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// CredentialsConfig selects where the token pair is persisted.
type CredentialsConfig struct {
	Driver string                 `yaml:"driver"`
	Redis  CredentialsRedisStore  `yaml:"redis,omitempty"`
	SQLite CredentialsSQLiteStore `yaml:"sqlite,omitempty"`
}

type CredentialsRedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type CredentialsSQLiteStore struct {
	DSN string `yaml:"dsn,omitempty"`
}

// CheckoutConfig tunes the cart synchronisation behaviour.
type CheckoutConfig struct {
	// QuantityDebounce is the quiet period before a quantity change is
	// synced to the server.
	QuantityDebounce Duration `yaml:"quantity_debounce"`
	// ValidationThrottle is the minimum interval between cart validation
	// round-trips.
	ValidationThrottle Duration `yaml:"validation_throttle"`
}
