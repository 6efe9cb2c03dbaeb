package db

import (
	"time"
)

// APIKey represents an API key for pushing CSV exports into the store.
// Each key belongs to a user; the key name doubles as the data-source
// label recorded in metadata for runs authenticated with it.
type APIKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// UserID links this key to the user who owns it.
	UserID uint `gorm:"index;not null"`

	// Name is a friendly identifier for this key (e.g. "helpdesk-export").
	Name string `gorm:"size:128;not null"`

	// Environment indicates where the exports come from (prod, staging, dev).
	Environment string `gorm:"size:32;not null"`

	// Key is the actual bearer token value (stored as-is, should be unique).
	Key string `gorm:"uniqueIndex;size:255;not null"`

	// Active indicates whether this key is currently enabled.
	Active bool `gorm:"default:true"`

	// User is the owner of this API key.
	User User `gorm:"foreignKey:UserID"`
}
