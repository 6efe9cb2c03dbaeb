package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// QAReport is the data-quality summary served to analysts before a
// modeling run: coverage bounds, completeness tiers, calendar gaps and
// hourly/daily reconciliation breaks.
type QAReport struct {
	EarliestDate string `json:"earliest_date"`
	LatestDate   string `json:"latest_date"`
	DayRows      int64  `json:"day_rows"`
	EmailDays    int64  `json:"email_days"`
	SLADays      int64  `json:"sla_days"`
	EmptyDays    int64  `json:"empty_days"`

	// CalendarGaps lists dates missing between the coverage bounds.
	CalendarGaps []string `json:"calendar_gaps"`

	// HourlyRowIssues lists full-data dates without exactly 24 hourly rows.
	HourlyRowIssues []string `json:"hourly_row_issues"`

	// ReconciliationIssues lists full-data dates whose hourly sums do
	// not match the day totals.
	ReconciliationIssues []string `json:"reconciliation_issues"`
}

// BuildQAReport walks the days and hourly_data tables and verifies the
// structural invariants the forecasting consumers rely on.
func BuildQAReport(gdb *gorm.DB) (*QAReport, error) {
	report := &QAReport{
		CalendarGaps:         []string{},
		HourlyRowIssues:      []string{},
		ReconciliationIssues: []string{},
	}

	var dates []string
	if err := gdb.Model(&Day{}).Order("date").Pluck("date", &dates).Error; err != nil {
		return nil, err
	}
	report.DayRows = int64(len(dates))
	if len(dates) == 0 {
		return report, nil
	}
	report.EarliestDate = dates[0]
	report.LatestDate = dates[len(dates)-1]

	if err := gdb.Model(&Day{}).Where("has_email_data = 1").Count(&report.EmailDays).Error; err != nil {
		return nil, err
	}
	if err := gdb.Model(&Day{}).Where("has_sla_data = 1").Count(&report.SLADays).Error; err != nil {
		return nil, err
	}
	report.EmptyDays = report.DayRows - report.EmailDays

	gaps, err := calendarGaps(dates)
	if err != nil {
		return nil, err
	}
	report.CalendarGaps = gaps

	// Hourly row-count invariant: 24 rows when has_sla_data=1, else 0.
	type hourCount struct {
		Date       string
		HasSLAData int
		N          int64
	}
	var counts []hourCount
	if err := gdb.Raw(`
		SELECT d.date AS date, d.has_sla_data AS has_sla_data, COUNT(h.id) AS n
		FROM days d LEFT JOIN hourly_data h ON h.date = d.date
		GROUP BY d.date, d.has_sla_data
		ORDER BY d.date`).Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		want := int64(0)
		if c.HasSLAData == 1 {
			want = 24
		}
		if c.N != want {
			report.HourlyRowIssues = append(report.HourlyRowIssues,
				fmt.Sprintf("%s: %d hourly rows, want %d", c.Date, c.N, want))
		}
	}

	// Reconciliation: hourly sums against day totals for full-data days.
	type recon struct {
		Date     string
		Total    int64
		Received int64
		Replied  int64
		DayRepl  int64
	}
	var rows []recon
	if err := gdb.Raw(`
		SELECT d.date AS date,
		       d.total_emails AS total,
		       COALESCE(SUM(h.emails_received), 0) AS received,
		       COALESCE(SUM(h.emails_replied), 0) AS replied,
		       d.replied_count AS day_repl
		FROM days d JOIN hourly_data h ON h.date = d.date
		WHERE d.has_sla_data = 1
		GROUP BY d.date, d.total_emails, d.replied_count
		ORDER BY d.date`).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Received != r.Total {
			report.ReconciliationIssues = append(report.ReconciliationIssues,
				fmt.Sprintf("%s: hourly received sum %d != total_emails %d", r.Date, r.Received, r.Total))
		}
		if r.Replied != r.DayRepl {
			report.ReconciliationIssues = append(report.ReconciliationIssues,
				fmt.Sprintf("%s: hourly replied sum %d != replied_count %d", r.Date, r.Replied, r.DayRepl))
		}
	}

	return report, nil
}

func calendarGaps(sorted []string) ([]string, error) {
	gaps := []string{}
	if len(sorted) < 2 {
		return gaps, nil
	}
	prev, err := time.Parse("2006-01-02", sorted[0])
	if err != nil {
		return nil, err
	}
	for _, s := range sorted[1:] {
		cur, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
		for d := prev.AddDate(0, 0, 1); d.Before(cur); d = d.AddDate(0, 0, 1) {
			gaps = append(gaps, d.Format("2006-01-02"))
		}
		prev = cur
	}
	return gaps, nil
}
