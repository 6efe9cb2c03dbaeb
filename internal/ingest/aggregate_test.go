package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"

	dbpkg "mailmetrics/internal/db"
)

func hourPtr(h int) *int { return &h }

func TestApplyFillsAllTwentyFourHoursForFullDataDays(t *testing.T) {
	state := &DayState{
		Day:    dbpkg.Day{Date: "2025-10-15"},
		Agents: dbpkg.AgentMetricsRecord{Date: "2025-10-15"},
	}

	state.Apply([]Event{
		{Date: "2025-10-15", Hour: hourPtr(7), Type: EventInbox, MessageID: "a"},
	}, 60)

	require.Len(t, state.Hours, 24)
	require.Equal(t, 1, state.Day.HasSLAData)
	for i, h := range state.Hours {
		require.Equal(t, i, h.Hour)
		require.Equal(t, "2025-10-15", h.Date)
	}
	require.EqualValues(t, 1, state.Hours[7].EmailsReceived)
}

func TestApplyWithoutHoursLeavesHistoricalTier(t *testing.T) {
	state := &DayState{
		Day:    dbpkg.Day{Date: "2024-03-01"},
		Agents: dbpkg.AgentMetricsRecord{Date: "2024-03-01"},
	}

	state.Apply([]Event{
		{Date: "2024-03-01", Type: EventInbox, MessageID: "a"},
		{Date: "2024-03-01", Type: EventDeleted, MessageID: "b"},
	}, 60)

	require.Empty(t, state.Hours)
	require.Equal(t, 0, state.Day.HasSLAData)
	require.Equal(t, 1, state.Day.HasEmailData)
	require.EqualValues(t, 1, state.Day.DeletedCount)
	require.EqualValues(t, 1, state.Day.WorkedCount)
}

func TestApplyFoldsIntoExistingCounters(t *testing.T) {
	state := &DayState{
		Day: dbpkg.Day{
			Date:         "2025-10-15",
			HasEmailData: 1,
			TotalEmails:  5,
			InboxTotal:   5,
			RepliedCount: 2,
		},
		Agents: dbpkg.AgentMetricsRecord{Date: "2025-10-15", TotalRepliedResponses: 2},
	}

	state.Apply([]Event{
		{Date: "2025-10-15", Type: EventInbox, MessageID: "n1"},
		{Date: "2025-10-15", Type: EventReplied, MessageID: "n2"},
	}, 60)

	require.EqualValues(t, 6, state.Day.TotalEmails)
	require.EqualValues(t, 3, state.Day.RepliedCount)
	require.EqualValues(t, 3, state.Day.WorkedCount)
	require.InDelta(t, 50.0, state.Day.ReplyRatePercent, 0.001)
	require.EqualValues(t, 3, state.Agents.TotalRepliedResponses)
}

func TestReconcileFlagsDriftOnFullDataDays(t *testing.T) {
	state := &DayState{
		Day:    dbpkg.Day{Date: "2025-10-17", HasSLAData: 1, TotalEmails: 3},
		Agents: dbpkg.AgentMetricsRecord{Date: "2025-10-17"},
	}
	state.ensureHours()
	state.Hours[10].EmailsReceived = 1

	warnings := state.Reconcile()
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "received")
	require.Contains(t, warnings[0], "2025-10-17")
}

func TestReconcileIgnoresHistoricalDays(t *testing.T) {
	state := &DayState{
		Day:    dbpkg.Day{Date: "2024-03-01", TotalEmails: 3},
		Agents: dbpkg.AgentMetricsRecord{Date: "2024-03-01"},
	}
	require.Empty(t, state.Reconcile())
}

func TestAgentGroupTakesSegmentBeforeDot(t *testing.T) {
	require.Equal(t, "support", agentGroup("support.alice"))
	require.Equal(t, "billing", agentGroup("billing.bob.jr"))
	require.Equal(t, "solo", agentGroup("solo"))
}

func TestCombineMeanWeighsPriorCount(t *testing.T) {
	// Prior mean 10 over 2 samples, new samples 40: (20+40)/3.
	require.InDelta(t, 20.0, combineMean(10, 2, []float64{40}), 0.001)
	require.InDelta(t, 40.0, combineMean(0, 0, []float64{40}), 0.001)
	require.Zero(t, combineMean(0, 0, nil))
}

func TestMedianHandlesOddAndEvenSamples(t *testing.T) {
	require.InDelta(t, 40.0, median([]float64{120, 30, 40}), 0.001)
	require.InDelta(t, 35.0, median([]float64{30, 40}), 0.001)
	require.Zero(t, median(nil))
}
