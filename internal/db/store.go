package db

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DateBatch is everything an ingestion run produced for one calendar
// date. It commits as a single transaction: a failure rolls back the
// whole date, never leaving a half-written day.
type DateBatch struct {
	Date   string
	Day    *Day
	Hours  []HourlyRecord
	Agents *AgentMetricsRecord
	Keys   []ProcessedKey
}

// CommitDate upserts a date's day row, hourly rows, agent metrics and
// processed keys atomically. Hourly rows conflict on (date, hour) and
// are fully rewritten; processed keys conflict on their composite
// primary key and are left untouched, which is what makes replayed
// events a silent no-op.
func CommitDate(gdb *gorm.DB, batch *DateBatch) error {
	if batch.Day == nil {
		return fmt.Errorf("date batch %s has no day row", batch.Date)
	}
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(batch.Day).Error; err != nil {
			return err
		}
		if len(batch.Hours) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "date"}, {Name: "hour"}},
				UpdateAll: true,
			}).Create(&batch.Hours).Error; err != nil {
				return err
			}
		}
		if batch.Agents != nil {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(batch.Agents).Error; err != nil {
				return err
			}
		}
		if len(batch.Keys) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch.Keys).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadProcessedKeys returns the dedup keys already recorded for a date,
// keyed by "event_type\x1fdedup_key".
func LoadProcessedKeys(gdb *gorm.DB, date string) (map[string]struct{}, error) {
	var rows []ProcessedKey
	if err := gdb.Where("date = ?", date).Find(&rows).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.EventType+"\x1f"+r.DedupKey] = struct{}{}
	}
	return seen, nil
}

// TouchMetadata refreshes the singleton metadata row after a successful
// run: coverage bounds and day count are recomputed from the days table,
// and the run's data source label is appended if new.
func TouchMetadata(gdb *gorm.DB, source string) error {
	var meta Metadata
	if err := gdb.First(&meta, 1).Error; err != nil {
		return err
	}

	type bounds struct {
		Earliest string
		Latest   string
		Total    int64
	}
	var b bounds
	if err := gdb.Model(&Day{}).
		Select("COALESCE(MIN(date), '') AS earliest, COALESCE(MAX(date), '') AS latest, COUNT(*) AS total").
		Scan(&b).Error; err != nil {
		return err
	}

	meta.LastUpdated = time.Now().UTC()
	meta.TotalDaysProcessed = b.Total
	meta.EarliestDate = b.Earliest
	meta.LatestDate = b.Latest

	if source != "" {
		found := false
		for _, s := range meta.DataSources {
			if s == source {
				found = true
				break
			}
		}
		if !found {
			meta.DataSources = append(meta.DataSources, source)
			sort.Strings(meta.DataSources)
		}
	}

	return gdb.Save(&meta).Error
}

// RebuildGlobalAggregates recomputes aggregates.global_hourly_worked by
// summing emails_worked per hour-of-day across all hourly rows.
func RebuildGlobalAggregates(gdb *gorm.DB) error {
	type hourSum struct {
		Hour   int
		Worked int64
	}
	var sums []hourSum
	if err := gdb.Model(&HourlyRecord{}).
		Select("hour AS hour, COALESCE(SUM(emails_worked), 0) AS worked").
		Group("hour").
		Scan(&sums).Error; err != nil {
		return err
	}

	worked := make([]int64, 24)
	for _, s := range sums {
		if s.Hour >= 0 && s.Hour < 24 {
			worked[s.Hour] = s.Worked
		}
	}

	agg := Aggregates{ID: 1, GlobalHourlyWorked: worked}
	return gdb.Clauses(clause.OnConflict{UpdateAll: true}).Create(&agg).Error
}
