package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"velofood-client-go/internal/domain/credentials"
	"velofood-client-go/internal/platform/storage"
)

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed credential store.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, creds credentials.Credentials) error {
	if err := validatePair(creds); err != nil {
		return err
	}
	roles, err := json.Marshal(creds.Roles)
	if err != nil {
		return err
	}

	record := &storage.CredentialRecord{
		ID:           1,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Username:     creds.Username,
		Email:        creds.Email,
		Roles:        roles,
		Enabled:      creds.Enabled,
	}

	// Delete-then-create inside one transaction keeps the pair atomic.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", record.ID).Delete(&storage.CredentialRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (s *sqliteStore) Load(ctx context.Context) (credentials.Credentials, error) {
	var record storage.CredentialRecord
	if err := s.db.WithContext(ctx).First(&record, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credentials.Credentials{}, ErrNotFound
		}
		return credentials.Credentials{}, err
	}

	creds := credentials.Credentials{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		Username:     record.Username,
		Email:        record.Email,
		Enabled:      record.Enabled,
	}
	if len(record.Roles) > 0 {
		if err := json.Unmarshal(record.Roles, &creds.Roles); err != nil {
			return credentials.Credentials{}, err
		}
	}
	return creds, nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("id = ?", 1).Delete(&storage.CredentialRecord{}).Error
}

func (s *sqliteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
