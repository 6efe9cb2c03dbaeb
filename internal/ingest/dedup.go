package ingest

import (
	"gorm.io/gorm"

	dbpkg "mailmetrics/internal/db"
)

// KeyStore answers whether a (date, event type, dedup key) triple has
// already been counted. Previously committed keys are loaded from
// processed_keys per date; keys accepted during the current run are
// tracked in memory so a file that repeats a row dedups against itself.
// Persisting accepted keys is the runner's job: they commit inside the
// same transaction as the date's aggregates.
type KeyStore struct {
	db   *gorm.DB
	seen map[string]map[string]struct{} // date -> event_type\x1fdedup_key
}

func NewKeyStore(db *gorm.DB) *KeyStore {
	return &KeyStore{db: db, seen: make(map[string]map[string]struct{})}
}

func (k *KeyStore) load(date string) (map[string]struct{}, error) {
	if m, ok := k.seen[date]; ok {
		return m, nil
	}
	m, err := dbpkg.LoadProcessedKeys(k.db, date)
	if err != nil {
		return nil, err
	}
	k.seen[date] = m
	return m, nil
}

// Seen reports whether the triple was already counted, either in a
// prior committed run or earlier in this one.
func (k *KeyStore) Seen(date string, et EventType, key string) (bool, error) {
	m, err := k.load(date)
	if err != nil {
		return false, err
	}
	_, ok := m[string(et)+"\x1f"+key]
	return ok, nil
}

// Record marks the triple as counted for the remainder of this run and
// returns the row the runner must commit with the date's aggregates.
// Recording an already-seen triple is a no-op.
func (k *KeyStore) Record(date string, et EventType, key string) (dbpkg.ProcessedKey, error) {
	m, err := k.load(date)
	if err != nil {
		return dbpkg.ProcessedKey{}, err
	}
	m[string(et)+"\x1f"+key] = struct{}{}
	return dbpkg.ProcessedKey{Date: date, EventType: string(et), DedupKey: key}, nil
}
