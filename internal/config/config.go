package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	// DatabaseURL is a SQLite file path (the default deployment) or a
	// postgres:// URL.
	DatabaseURL string

	ListenAddr string

	// IngestAPIKey is the bootstrap bearer token export jobs push CSVs
	// with. If empty, no key is bootstrapped and one must be created
	// directly in the api_keys table.
	IngestAPIKey string

	// SLATargetMinutes is the response-time threshold a reply must meet
	// to count toward SLA compliance.
	SLATargetMinutes float64

	// LegacyKeysPath, when set, points at the pre-migration external
	// dedup-key file to import into processed_keys at startup.
	LegacyKeysPath string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:        getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:    getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:      getenv("APP_DATABASE_URL", "email_database.db"),
		ListenAddr:       getenv("APP_LISTEN_ADDR", ":8080"),
		IngestAPIKey:     getenv("APP_INGEST_API_KEY", ""),
		SLATargetMinutes: 60,
		LegacyKeysPath:   getenv("APP_LEGACY_KEYS_PATH", ""),
	}

	if v := os.Getenv("APP_SLA_TARGET_MINUTES"); v != "" {
		if m, err := strconv.ParseFloat(v, 64); err == nil && m > 0 {
			cfg.SLATargetMinutes = m
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
