package db

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LegacyKeyReport summarises a legacy dedup-file import. Verified is
// only true when every distinct key from the file is present in
// processed_keys afterwards, which is the caller's signal that the old
// file can be retired.
type LegacyKeyReport struct {
	RowsRead   int  `json:"rows_read"`
	UniqueKeys int  `json:"unique_keys"`
	Imported   int  `json:"imported"`
	Verified   bool `json:"verified"`
}

// MigrateLegacyKeys imports a legacy external dedup-key file (CSV of
// date,event_type,dedup_key, header optional) into processed_keys.
// The import is idempotent: rows already present are skipped. After
// inserting, a per-date count parity check confirms the store holds
// every key the file held.
func MigrateLegacyKeys(gdb *gorm.DB, path string) (*LegacyKeyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	report := &LegacyKeyReport{}
	unique := make(map[ProcessedKey]struct{})

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("legacy key file %s: %w", path, err)
		}
		if rec[0] == "date" && rec[1] == "event_type" {
			continue
		}
		report.RowsRead++
		unique[ProcessedKey{Date: rec[0], EventType: rec[1], DedupKey: rec[2]}] = struct{}{}
	}
	report.UniqueKeys = len(unique)
	if report.UniqueKeys == 0 {
		report.Verified = true
		return report, nil
	}

	var before int64
	if err := gdb.Model(&ProcessedKey{}).Count(&before).Error; err != nil {
		return nil, err
	}

	rows := make([]ProcessedKey, 0, len(unique))
	byDate := make(map[string]int)
	for k := range unique {
		rows = append(rows, k)
		byDate[k.Date]++
	}
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500).Error; err != nil {
		return nil, err
	}

	var after int64
	if err := gdb.Model(&ProcessedKey{}).Count(&after).Error; err != nil {
		return nil, err
	}
	report.Imported = int(after - before)

	// Parity check: every date from the file must now hold at least as
	// many keys as the file contributed for it.
	for date, want := range byDate {
		var got int64
		if err := gdb.Model(&ProcessedKey{}).Where("date = ?", date).Count(&got).Error; err != nil {
			return nil, err
		}
		if got < int64(want) {
			return report, fmt.Errorf("legacy key parity check failed for %s: file has %d keys, store has %d", date, want, got)
		}
	}
	report.Verified = true
	return report, nil
}
