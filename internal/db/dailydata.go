package db

import (
	"fmt"

	"gorm.io/gorm"
)

// dailyTargets is the allowlist of days columns the daily loader may
// serve as a forecast target. Never interpolate column names outside
// this set.
var dailyTargets = map[string]bool{
	"total_emails":    true,
	"inbox_total":     true,
	"sent_total":      true,
	"replied_count":   true,
	"completed_count": true,
	"worked_count":    true,
}

// DailyPoint is one row of forecasting training data.
type DailyPoint struct {
	Date         string  `json:"date"`
	Target       float64 `json:"target"`
	HasEmailData int     `json:"has_email_data"`
	HasSLAData   int     `json:"has_sla_data"`
}

// LoadDailyData serves the forecasting loaders: days with email data,
// ordered by date, with optional inclusive date bounds. Rows whose
// target is NULL are dropped and counted so callers can surface the
// gap instead of training on fabricated zeros.
func LoadDailyData(gdb *gorm.DB, target, start, end string) ([]DailyPoint, int, error) {
	if target == "" {
		target = "total_emails"
	}
	if !dailyTargets[target] {
		return nil, 0, fmt.Errorf("unsupported target column %q", target)
	}

	query := fmt.Sprintf(
		"SELECT date, %s AS target, has_email_data, has_sla_data FROM days WHERE has_email_data = 1",
		target,
	)
	args := []any{}
	if start != "" {
		query += " AND date >= ?"
		args = append(args, start)
	}
	if end != "" {
		query += " AND date <= ?"
		args = append(args, end)
	}
	query += " ORDER BY date"

	type rawPoint struct {
		Date         string
		Target       *float64
		HasEmailData int
		HasSLAData   int
	}
	var raw []rawPoint
	if err := gdb.Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, 0, err
	}

	points := make([]DailyPoint, 0, len(raw))
	nulls := 0
	for _, r := range raw {
		if r.Target == nil {
			nulls++
			continue
		}
		points = append(points, DailyPoint{
			Date:         r.Date,
			Target:       *r.Target,
			HasEmailData: r.HasEmailData,
			HasSLAData:   r.HasSLAData,
		})
	}
	return points, nulls, nil
}
