package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"log"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	dbpkg "mailmetrics/internal/db"
)

var (
	rowsIngestedTotal  *prometheus.CounterVec
	rowsMalformedTotal prometheus.Counter
	rowsDuplicateTotal prometheus.Counter
	reconWarningsTotal prometheus.Counter
)

// InitPrometheusMetrics registers the ingestion counters. Call once
// from main; the runner works without it (tests).
func InitPrometheusMetrics() {
	rowsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailmetrics",
			Name:      "rows_ingested_total",
			Help:      "Total number of accepted export rows.",
		},
		[]string{"event_type"},
	)
	rowsMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mailmetrics",
		Name:      "rows_malformed_total",
		Help:      "Total number of export rows skipped as malformed.",
	})
	rowsDuplicateTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mailmetrics",
		Name:      "rows_duplicate_total",
		Help:      "Total number of export rows skipped as already processed.",
	})
	reconWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mailmetrics",
		Name:      "reconciliation_warnings_total",
		Help:      "Total number of hourly/daily reconciliation mismatches observed.",
	})
	prometheus.MustRegister(rowsIngestedTotal, rowsMalformedTotal, rowsDuplicateTotal, reconWarningsTotal)
}

// Summary reports one ingestion run.
type Summary struct {
	RowsRead      int      `json:"rows_read"`
	RowsMalformed int      `json:"rows_malformed"`
	RowsDuplicate int      `json:"rows_duplicate"`
	RowsWritten   int      `json:"rows_written"`
	DatesTouched  []string `json:"dates_touched"`
	Warnings      []string `json:"warnings"`
}

// Runner executes one ingestion batch end to end: normalize, dedup,
// aggregate per date, commit per date. Runs are sequential single-writer;
// nothing here is safe for concurrent writers against the same store.
type Runner struct {
	DB *gorm.DB

	// SLATargetMinutes is the response-time threshold for SLA metrics.
	SLATargetMinutes float64

	// Source labels this run in metadata.data_sources (typically the
	// API key name the export was pushed with).
	Source string
}

// Run ingests one CSV export. Malformed rows are logged, counted and
// skipped; already-processed events count as duplicates. Each touched
// date commits atomically in date order, so an error mid-run leaves
// earlier dates fully written and the failing date untouched.
func (r *Runner) Run(reader io.Reader) (*Summary, error) {
	summary := &Summary{DatesTouched: []string{}, Warnings: []string{}}

	// Fail fast before any write if the store was written by a
	// different schema generation.
	if err := dbpkg.CheckSchemaVersion(r.DB); err != nil {
		return summary, err
	}

	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return summary, errors.New("empty export")
	}
	if err != nil {
		return summary, err
	}
	schema, err := NewRowSchema(header)
	if err != nil {
		return summary, err
	}

	keys := NewKeyStore(r.DB)
	eventsByDate := make(map[string][]Event)
	keysByDate := make(map[string][]dbpkg.ProcessedKey)

	line := 1
	for {
		line++
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				log.Printf("ingest: skipping unparseable row at line %d: %v", line, err)
				summary.RowsRead++
				summary.RowsMalformed++
				inc(rowsMalformedTotal)
				continue
			}
			return summary, err
		}
		summary.RowsRead++

		ev, err := schema.Normalize(line, rec)
		if err != nil {
			log.Printf("ingest: %v", err)
			summary.RowsMalformed++
			inc(rowsMalformedTotal)
			continue
		}

		key := ev.DedupKey()
		seen, err := keys.Seen(ev.Date, ev.Type, key)
		if err != nil {
			return summary, err
		}
		if seen {
			summary.RowsDuplicate++
			inc(rowsDuplicateTotal)
			continue
		}
		row, err := keys.Record(ev.Date, ev.Type, key)
		if err != nil {
			return summary, err
		}

		eventsByDate[ev.Date] = append(eventsByDate[ev.Date], ev)
		keysByDate[ev.Date] = append(keysByDate[ev.Date], row)
	}

	dates := make([]string, 0, len(eventsByDate))
	for d := range eventsByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		state, err := LoadDayState(r.DB, date)
		if err != nil {
			return summary, err
		}
		state.Apply(eventsByDate[date], r.SLATargetMinutes)

		for _, w := range state.Reconcile() {
			log.Printf("ingest: reconciliation warning: %s", w)
			summary.Warnings = append(summary.Warnings, w)
			inc(reconWarningsTotal)
		}

		if err := dbpkg.CommitDate(r.DB, state.Batch(keysByDate[date])); err != nil {
			return summary, err
		}
		summary.DatesTouched = append(summary.DatesTouched, date)

		// Rows count as written only once their date committed; a failed
		// date rolled back and its rows were never persisted.
		summary.RowsWritten += len(eventsByDate[date])
		if rowsIngestedTotal != nil {
			for _, ev := range eventsByDate[date] {
				rowsIngestedTotal.WithLabelValues(string(ev.Type)).Inc()
			}
		}
	}

	if len(dates) > 0 {
		if err := dbpkg.TouchMetadata(r.DB, r.Source); err != nil {
			return summary, err
		}
		if err := dbpkg.RebuildGlobalAggregates(r.DB); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
