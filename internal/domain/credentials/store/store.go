package store

import (
	"context"
	"errors"

	"velofood-client-go/internal/domain/credentials"
)

// ErrNotFound is returned by Load when no credentials have been saved.
var ErrNotFound = errors.New("credentials not found")

// ErrPartialTokenPair is returned by Save when exactly one of the two tokens
// is set. The pair must be written together or not at all.
var ErrPartialTokenPair = errors.New("access and refresh token must be saved together")

// Store persists the single signed-in user's credentials across restarts.
type Store interface {
	Save(ctx context.Context, creds credentials.Credentials) error
	Load(ctx context.Context) (credentials.Credentials, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// SQLiteConfig provides the database dependency.
type SQLiteConfig struct {
	DSN string
}

// validatePair rejects half-set token pairs before they reach a driver.
func validatePair(creds credentials.Credentials) error {
	if (creds.AccessToken == "") != (creds.RefreshToken == "") {
		return ErrPartialTokenPair
	}
	return nil
}
