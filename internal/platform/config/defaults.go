package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "https://demo.velofood.example",
			Timeout: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "client.log",
		},
		Credentials: CredentialsConfig{
			Driver: "memory",
		},
		Checkout: CheckoutConfig{
			QuantityDebounce:   Duration(350 * time.Millisecond),
			ValidationThrottle: Duration(500 * time.Millisecond),
		},
	}
}
