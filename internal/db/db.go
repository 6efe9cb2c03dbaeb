package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mailmetrics/internal/config"
)

// SchemaVersionError reports a database whose recorded schema version
// does not match what this binary writes. Ingestion must not proceed.
type SchemaVersionError struct {
	Stored   int
	Expected int
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("schema version mismatch: database has v%d, expected v%d", e.Stored, e.Expected)
}

// Connect opens a GORM database connection using APP_DATABASE_URL.
// A postgres:// URL selects the Postgres driver; anything else is
// treated as a SQLite file path (the default deployment).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (SQLite path or postgres:// URL)")
	}

	var db *gorm.DB
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		return nil, err
	}

	// Refuse a database written by a different schema generation before
	// AutoMigrate gets a chance to alter its tables. A missing metadata
	// table (or row) means a fresh database, which migrates below.
	if db.Migrator().HasTable(&Metadata{}) {
		var meta Metadata
		err := db.First(&meta, 1).Error
		if err == nil && meta.SchemaVersion != CurrentSchemaVersion {
			return nil, &SchemaVersionError{Stored: meta.SchemaVersion, Expected: CurrentSchemaVersion}
		}
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	// Auto-migrate the core tables.
	if err := db.AutoMigrate(
		&Metadata{}, &Day{}, &HourlyRecord{}, &AgentMetricsRecord{},
		&Aggregates{}, &ProcessedKey{}, &ChampionModel{},
		&User{}, &APIKey{},
	); err != nil {
		return nil, err
	}

	if err := ensureMetadata(db); err != nil {
		return nil, err
	}

	return db, nil
}

// ensureMetadata creates the singleton metadata row on a fresh database
// and rejects databases written by a different schema generation.
func ensureMetadata(db *gorm.DB) error {
	var meta Metadata
	err := db.First(&meta, 1).Error
	if err == gorm.ErrRecordNotFound {
		return db.Create(&Metadata{ID: 1, SchemaVersion: CurrentSchemaVersion}).Error
	}
	if err != nil {
		return err
	}
	if meta.SchemaVersion != CurrentSchemaVersion {
		return &SchemaVersionError{Stored: meta.SchemaVersion, Expected: CurrentSchemaVersion}
	}
	return nil
}

// CheckSchemaVersion re-reads the metadata row and fails with a
// SchemaVersionError on mismatch. Called at the start of every
// ingestion run so a database swapped underneath a live process is
// still caught before any write.
func CheckSchemaVersion(db *gorm.DB) error {
	var meta Metadata
	if err := db.First(&meta, 1).Error; err != nil {
		return err
	}
	if meta.SchemaVersion != CurrentSchemaVersion {
		return &SchemaVersionError{Stored: meta.SchemaVersion, Expected: CurrentSchemaVersion}
	}
	return nil
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}

	return db.Create(admin).Error
}

// EnsureBootstrapAPIKey ensures the bootstrap admin user has an API key
// matching APP_INGEST_API_KEY. This is the key export jobs push CSVs with.
// If the key already exists but is owned by a different user, it is
// reassigned to admin.
func EnsureBootstrapAPIKey(db *gorm.DB, cfg *config.Config) error {
	if cfg.IngestAPIKey == "" {
		return nil
	}

	var admin User
	if err := db.Where("username = ?", cfg.AdminUser).First(&admin).Error; err != nil {
		return err
	}

	// Check if API key already exists (use Find so "not found" doesn't log as error).
	var existingKey APIKey
	if err := db.Where("key = ?", cfg.IngestAPIKey).Limit(1).Find(&existingKey).Error; err == nil && existingKey.ID != 0 {
		if existingKey.UserID != admin.ID {
			existingKey.UserID = admin.ID
			existingKey.Name = "mailmetrics"
			existingKey.Environment = "internal"
			existingKey.Active = true
			return db.Save(&existingKey).Error
		}
		return nil
	}

	apiKey := &APIKey{
		UserID:      admin.ID,
		Name:        "mailmetrics",
		Environment: "internal",
		Key:         cfg.IngestAPIKey,
		Active:      true,
	}

	return db.Create(apiKey).Error
}
