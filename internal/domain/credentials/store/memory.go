package store

import (
	"context"
	"sync"

	"velofood-client-go/internal/domain/credentials"
)

type memoryStore struct {
	mutex sync.RWMutex
	creds credentials.Credentials
	set   bool
}

// NewMemory builds an in-memory credential store. Contents do not survive a
// process restart; it is the default for tests and ephemeral sessions.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Save(_ context.Context, creds credentials.Credentials) error {
	if err := validatePair(creds); err != nil {
		return err
	}
	s.mutex.Lock()
	s.creds = creds
	s.set = true
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Load(_ context.Context) (credentials.Credentials, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.set {
		return credentials.Credentials{}, ErrNotFound
	}
	return s.creds, nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mutex.Lock()
	s.creds = credentials.Credentials{}
	s.set = false
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
