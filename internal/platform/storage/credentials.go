package storage

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"velofood-client-go/internal/platform/errors"
)

// CredentialRecord is the single-row table backing the sqlite credential
// store. ID is forced to 1 so the token pair is always replaced in place.
type CredentialRecord struct {
	ID           uint           `gorm:"primaryKey"`
	AccessToken  string         `gorm:"column:access_token"`
	RefreshToken string         `gorm:"column:refresh_token"`
	Username     string         `gorm:"column:username"`
	Email        string         `gorm:"column:email"`
	Roles        datatypes.JSON `gorm:"column:roles"`
	Enabled      bool           `gorm:"column:enabled"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (CredentialRecord) TableName() string {
	return "credentials"
}

// Open opens (and migrates) the sqlite database at the given DSN.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "sqlite dsn required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", fmt.Sprintf("open sqlite at %s", dsn), err)
	}
	if err := db.AutoMigrate(&CredentialRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrate", "migrate credentials table", err)
	}
	return db, nil
}
