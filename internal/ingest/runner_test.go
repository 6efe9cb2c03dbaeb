package ingest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailmetrics/internal/config"
	dbpkg "mailmetrics/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{DatabaseURL: filepath.Join(t.TempDir(), "test.db")}
	gdb, err := dbpkg.Connect(cfg)
	require.NoError(t, err)
	return gdb
}

func newRunner(gdb *gorm.DB) *Runner {
	return &Runner{DB: gdb, SLATargetMinutes: 60, Source: "test-export"}
}

const fullExportHeader = "message_id,event_type,timestamp,agent,response_minutes\n"

func tenInboxRows() string {
	var b strings.Builder
	b.WriteString(fullExportHeader)
	hours := []string{"08", "08", "09", "10", "10", "11", "13", "14", "14", "16"}
	for i, h := range hours {
		b.WriteString("msg-")
		b.WriteByte(byte('0' + i))
		b.WriteString(",Inbox,2025-10-15T" + h + ":30:00Z,,\n")
	}
	return b.String()
}

func TestRunReportsRowCountsAndWritesDay(t *testing.T) {
	gdb := newTestDB(t)

	summary, err := newRunner(gdb).Run(strings.NewReader(tenInboxRows()))
	require.NoError(t, err)
	require.Equal(t, 10, summary.RowsRead)
	require.Equal(t, 10, summary.RowsWritten)
	require.Equal(t, 0, summary.RowsMalformed)
	require.Equal(t, 0, summary.RowsDuplicate)
	require.Equal(t, []string{"2025-10-15"}, summary.DatesTouched)
	require.Empty(t, summary.Warnings)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-15").Error)
	require.Equal(t, 1, day.HasEmailData)
	require.Equal(t, 1, day.HasSLAData)
	require.EqualValues(t, 10, day.TotalEmails)
	require.EqualValues(t, 10, day.InboxTotal)
	require.EqualValues(t, 10, day.PendingCount)

	var hours []dbpkg.HourlyRecord
	require.NoError(t, gdb.Where("date = ?", "2025-10-15").Order("hour").Find(&hours).Error)
	require.Len(t, hours, 24)
	var received int64
	for _, h := range hours {
		received += h.EmailsReceived
	}
	require.EqualValues(t, 10, received)
	require.EqualValues(t, 2, hours[8].EmailsReceived)

	var keyCount int64
	require.NoError(t, gdb.Model(&dbpkg.ProcessedKey{}).Count(&keyCount).Error)
	require.EqualValues(t, 10, keyCount)
}

func TestRunIsIdempotent(t *testing.T) {
	gdb := newTestDB(t)
	runner := newRunner(gdb)

	_, err := runner.Run(strings.NewReader(tenInboxRows()))
	require.NoError(t, err)

	var before dbpkg.Day
	require.NoError(t, gdb.First(&before, "date = ?", "2025-10-15").Error)

	second, err := runner.Run(strings.NewReader(tenInboxRows()))
	require.NoError(t, err)
	require.Equal(t, 10, second.RowsRead)
	require.Equal(t, 10, second.RowsDuplicate)
	require.Equal(t, 0, second.RowsWritten)
	require.Empty(t, second.DatesTouched)

	var after dbpkg.Day
	require.NoError(t, gdb.First(&after, "date = ?", "2025-10-15").Error)
	require.Equal(t, before, after)

	var keyCount int64
	require.NoError(t, gdb.Model(&dbpkg.ProcessedKey{}).Count(&keyCount).Error)
	require.EqualValues(t, 10, keyCount)
}

func TestRunSkipsMalformedRowsWithoutAborting(t *testing.T) {
	gdb := newTestDB(t)

	csv := fullExportHeader +
		"msg-a,Inbox,2025-10-15T08:30:00Z,,\n" +
		",Inbox,2025-10-15T09:00:00Z,,\n" + // missing message id
		"msg-b,Archived,2025-10-15T09:30:00Z,,\n" + // unknown event type
		"msg-c,Inbox,2025-10-15T10:00:00Z,,\n"

	summary, err := newRunner(gdb).Run(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 4, summary.RowsRead)
	require.Equal(t, 2, summary.RowsMalformed)
	require.Equal(t, 2, summary.RowsWritten)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-15").Error)
	require.EqualValues(t, 2, day.TotalEmails)
}

func TestRunHistoricalRowsStayDailyOnly(t *testing.T) {
	gdb := newTestDB(t)

	csv := "message_id,event_type,date\n" +
		"old-1,Inbox,2024-03-01\n" +
		"old-2,Inbox,2024-03-01\n" +
		"old-3,Replied,2024-03-01\n"

	summary, err := newRunner(gdb).Run(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 3, summary.RowsWritten)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2024-03-01").Error)
	require.Equal(t, 1, day.HasEmailData)
	require.Equal(t, 0, day.HasSLAData)
	require.EqualValues(t, 2, day.TotalEmails)
	require.EqualValues(t, 1, day.RepliedCount)
	require.EqualValues(t, 50, day.ReplyRatePercent)

	var hourCount int64
	require.NoError(t, gdb.Model(&dbpkg.HourlyRecord{}).Where("date = ?", "2024-03-01").Count(&hourCount).Error)
	require.EqualValues(t, 0, hourCount)
}

func TestRunRepliedRowsDriveAgentAndSLAMetrics(t *testing.T) {
	gdb := newTestDB(t)

	csv := fullExportHeader +
		"m1,Inbox,2025-10-16T09:05:00Z,,\n" +
		"m2,Inbox,2025-10-16T09:10:00Z,,\n" +
		"m1,Replied,2025-10-16T09:45:00Z,support.alice,40\n" +
		"m2,Replied,2025-10-16T11:10:00Z,billing.bob,120\n" +
		"m3,Replied,2025-10-16T12:00:00Z,,30\n" +
		"m1,Completed,2025-10-16T13:00:00Z,support.alice,\n"

	summary, err := newRunner(gdb).Run(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 6, summary.RowsWritten)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-16").Error)
	require.EqualValues(t, 3, day.RepliedCount)
	require.EqualValues(t, 1, day.CompletedCount)
	require.EqualValues(t, 4, day.WorkedCount)
	require.InDelta(t, (40.0+120.0+30.0)/3.0, day.AvgResponseTimeMinutes, 0.001)
	require.InDelta(t, 40.0, day.MedianResponseTimeMinutes, 0.001)
	require.InDelta(t, 2.0/3.0*100, day.SLAComplianceRate, 0.001)

	var agents dbpkg.AgentMetricsRecord
	require.NoError(t, gdb.First(&agents, "date = ?", "2025-10-16").Error)
	require.EqualValues(t, 3, agents.TotalRepliedResponses)
	require.EqualValues(t, 2, agents.ResponsesWithAgent)
	require.EqualValues(t, 1, agents.UnmatchedRepliedResponses)
	counts := agents.AgentCounts.Data()
	require.EqualValues(t, 1, counts["support.alice"])
	require.EqualValues(t, 1, counts["billing.bob"])
	groups := agents.AgentGroupCounts.Data()
	require.EqualValues(t, 1, groups["support"])
	require.EqualValues(t, 1, groups["billing"])

	var nine dbpkg.HourlyRecord
	require.NoError(t, gdb.First(&nine, "date = ? AND hour = ?", "2025-10-16", 9).Error)
	require.EqualValues(t, 2, nine.EmailsReceived)
	require.EqualValues(t, 1, nine.EmailsReplied)
	require.EqualValues(t, 1, nine.SLAMet)
	require.Equal(t, []string{"support.alice"}, []string(nine.ActiveAgents))
	require.EqualValues(t, 1, nine.AgentReplies.Data()["support.alice"])
}

func TestRunWarnsWhenHourlySumsDriftFromDailyTotals(t *testing.T) {
	gdb := newTestDB(t)
	runner := newRunner(gdb)

	// Historical rows first: daily totals without hourly backing.
	historical := "message_id,event_type,date\n" +
		"h1,Inbox,2025-10-17\n" +
		"h2,Inbox,2025-10-17\n"
	_, err := runner.Run(strings.NewReader(historical))
	require.NoError(t, err)

	// The same date later gains hourly granularity; the hourly sum can
	// no longer reach the daily total and the run must warn, not fail.
	full := fullExportHeader + "f1,Inbox,2025-10-17T10:00:00Z,,\n"
	summary, err := runner.Run(strings.NewReader(full))
	require.NoError(t, err)
	require.NotEmpty(t, summary.Warnings)
	require.Contains(t, summary.Warnings[0], "2025-10-17")

	// The batch still commits.
	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-17").Error)
	require.Equal(t, 1, day.HasSLAData)
	require.EqualValues(t, 3, day.TotalEmails)
}

func TestRunUpdatesMetadataAndGlobalAggregates(t *testing.T) {
	gdb := newTestDB(t)

	csv := fullExportHeader +
		"a1,Inbox,2025-10-14T08:00:00Z,,\n" +
		"a1,Replied,2025-10-14T08:30:00Z,support.alice,30\n" +
		"b1,Inbox,2025-10-15T09:00:00Z,,\n"
	_, err := newRunner(gdb).Run(strings.NewReader(csv))
	require.NoError(t, err)

	var meta dbpkg.Metadata
	require.NoError(t, gdb.First(&meta, 1).Error)
	require.Equal(t, "2025-10-14", meta.EarliestDate)
	require.Equal(t, "2025-10-15", meta.LatestDate)
	require.EqualValues(t, 2, meta.TotalDaysProcessed)
	require.Contains(t, []string(meta.DataSources), "test-export")

	var agg dbpkg.Aggregates
	require.NoError(t, gdb.First(&agg, 1).Error)
	require.Len(t, []int64(agg.GlobalHourlyWorked), 24)
	require.EqualValues(t, 1, agg.GlobalHourlyWorked[8])
}

func TestRunFailsFastOnSchemaMismatch(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Model(&dbpkg.Metadata{}).Where("id = 1").Update("schema_version", 99).Error)

	summary, err := newRunner(gdb).Run(strings.NewReader(tenInboxRows()))
	require.Error(t, err)
	var verr *dbpkg.SchemaVersionError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 99, verr.Stored)
	require.Equal(t, 0, summary.RowsWritten)

	var dayCount int64
	require.NoError(t, gdb.Model(&dbpkg.Day{}).Count(&dayCount).Error)
	require.EqualValues(t, 0, dayCount)
}

func TestRunResponseStatsIgnoreRepliesWithoutSamples(t *testing.T) {
	gdb := newTestDB(t)
	runner := newRunner(gdb)

	// A replied row with no response_minutes must not dilute the stats
	// a later run computes from real samples.
	first := fullExportHeader + "r1,Replied,2025-10-20T09:00:00Z,support.alice,\n"
	_, err := runner.Run(strings.NewReader(first))
	require.NoError(t, err)

	second := fullExportHeader + "r2,Replied,2025-10-20T10:00:00Z,support.alice,40\n"
	_, err = runner.Run(strings.NewReader(second))
	require.NoError(t, err)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-20").Error)
	require.InDelta(t, 40.0, day.AvgResponseTimeMinutes, 0.001)
	require.InDelta(t, 40.0, day.MedianResponseTimeMinutes, 0.001)
	require.InDelta(t, 100.0, day.SLAComplianceRate, 0.001)
}

func TestRunResponseStatsSpanIncrementalRuns(t *testing.T) {
	gdb := newTestDB(t)
	runner := newRunner(gdb)

	first := fullExportHeader +
		"m1,Replied,2025-10-21T09:00:00Z,,10\n" +
		"m2,Replied,2025-10-21T09:30:00Z,,20\n"
	_, err := runner.Run(strings.NewReader(first))
	require.NoError(t, err)

	second := fullExportHeader + "m3,Replied,2025-10-21T11:00:00Z,,100\n"
	_, err = runner.Run(strings.NewReader(second))
	require.NoError(t, err)

	// Average and median cover all three samples, not just the second
	// run's, matching a recompute over the full population.
	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-21").Error)
	require.InDelta(t, (10.0+20.0+100.0)/3.0, day.AvgResponseTimeMinutes, 0.001)
	require.InDelta(t, 20.0, day.MedianResponseTimeMinutes, 0.001)
	require.InDelta(t, 2.0/3.0*100, day.SLAComplianceRate, 0.001)
}

func TestRunSummaryCountsOnlyCommittedRows(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Migrator().DropTable(&dbpkg.AgentMetricsRecord{}))

	summary, err := newRunner(gdb).Run(strings.NewReader(tenInboxRows()))
	require.Error(t, err)
	require.Equal(t, 10, summary.RowsRead)
	require.Equal(t, 0, summary.RowsWritten)
	require.Empty(t, summary.DatesTouched)
}

func TestRunDedupsRepeatedRowsWithinOneFile(t *testing.T) {
	gdb := newTestDB(t)

	csv := fullExportHeader +
		"dup-1,Inbox,2025-10-18T08:00:00Z,,\n" +
		"dup-1,Inbox,2025-10-18T08:00:00Z,,\n"
	summary, err := newRunner(gdb).Run(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, summary.RowsWritten)
	require.Equal(t, 1, summary.RowsDuplicate)

	var day dbpkg.Day
	require.NoError(t, gdb.First(&day, "date = ?", "2025-10-18").Error)
	require.EqualValues(t, 1, day.TotalEmails)
}
