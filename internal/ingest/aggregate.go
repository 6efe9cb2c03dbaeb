package ingest

import (
	"fmt"
	"sort"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "mailmetrics/internal/db"
)

// DayState is the in-memory working copy of one date's rows. The
// aggregator folds newly accepted events into it and recomputes every
// derived field from the counters and the retained response-time
// samples, then the whole set is written back in one transaction.
// Because deduplication guarantees each event is folded exactly once,
// this stays correct across out-of-order and partial re-ingestion.
type DayState struct {
	Day    dbpkg.Day
	Hours  []dbpkg.HourlyRecord
	Agents dbpkg.AgentMetricsRecord
}

// LoadDayState reads the date's current rows, or zero-value state for a
// date never seen before.
func LoadDayState(gdb *gorm.DB, date string) (*DayState, error) {
	state := &DayState{
		Day:    dbpkg.Day{Date: date},
		Agents: dbpkg.AgentMetricsRecord{Date: date},
	}

	var day dbpkg.Day
	err := gdb.First(&day, "date = ?", date).Error
	if err == nil {
		state.Day = day
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	if err := gdb.Where("date = ?", date).Order("hour").Find(&state.Hours).Error; err != nil {
		return nil, err
	}

	var agents dbpkg.AgentMetricsRecord
	err = gdb.First(&agents, "date = ?", date).Error
	if err == nil {
		state.Agents = agents
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	return state, nil
}

// Apply folds accepted events into the state and recomputes all derived
// fields. slaTarget is the response-time threshold in minutes.
func (s *DayState) Apply(events []Event, slaTarget float64) {
	if len(events) == 0 {
		return
	}

	hasHourly := len(s.Hours) > 0 || s.Day.HasSLAData == 1
	for _, ev := range events {
		if ev.Hour != nil {
			hasHourly = true
			break
		}
	}
	if hasHourly {
		s.ensureHours()
	}

	var newSamples []float64

	agentCounts := orInit(s.Agents.AgentCounts.Data())
	groupCounts := orInit(s.Agents.AgentGroupCounts.Data())

	for _, ev := range events {
		switch ev.Type {
		case EventInbox:
			s.Day.InboxTotal++
			s.Day.TotalEmails++
		case EventReplied:
			s.Day.RepliedCount++
			s.Day.SentTotal++
			s.Agents.TotalRepliedResponses++
			if ev.Agent != "" {
				s.Agents.ResponsesWithAgent++
				agentCounts[ev.Agent]++
				groupCounts[agentGroup(ev.Agent)]++
			} else {
				s.Agents.UnmatchedRepliedResponses++
			}
			if ev.ResponseMinutes != nil {
				newSamples = append(newSamples, *ev.ResponseMinutes)
			}
		case EventCompleted:
			s.Day.CompletedCount++
		case EventDeleted:
			s.Day.DeletedCount++
		}

		if ev.Hour != nil {
			s.applyHour(ev, slaTarget)
		}
	}

	s.Agents.AgentCounts = datatypes.NewJSONType(agentCounts)
	s.Agents.AgentGroupCounts = datatypes.NewJSONType(groupCounts)

	// Derived daily fields, recomputed from scratch.
	s.Day.HasEmailData = 1
	if hasHourly {
		s.Day.HasSLAData = 1
	}
	s.Day.WorkedCount = s.Day.RepliedCount + s.Day.CompletedCount + s.Day.DeletedCount
	s.Day.PendingCount = s.Day.TotalEmails - s.Day.WorkedCount
	if s.Day.PendingCount < 0 {
		s.Day.PendingCount = 0
	}
	if s.Day.TotalEmails > 0 {
		s.Day.ReplyRatePercent = float64(s.Day.RepliedCount) / float64(s.Day.TotalEmails) * 100
	}
	s.Day.CategoryInbox = s.Day.InboxTotal
	s.Day.CategoryReplied = s.Day.RepliedCount
	s.Day.CategoryCompleted = s.Day.CompletedCount
	s.Day.CategoryDeleted = s.Day.DeletedCount
	s.Day.CategoryWorked = s.Day.WorkedCount

	// Response-time stats recompute over the full retained sample
	// population, not just this run's rows. Replied rows without a
	// sample contribute nothing, so partial re-ingestion cannot skew
	// the average, median or SLA rate.
	if len(newSamples) > 0 {
		s.Day.ResponseTimeSamples = append(s.Day.ResponseTimeSamples, newSamples...)
		samples := []float64(s.Day.ResponseTimeSamples)
		s.Day.AvgResponseTimeMinutes = mean(samples)
		s.Day.MedianResponseTimeMinutes = median(samples)
		var met int
		for _, v := range samples {
			if v <= slaTarget {
				met++
			}
		}
		s.Day.SLAComplianceRate = float64(met) / float64(len(samples)) * 100
	}

	s.rebuildHourlyAgentSummary()
}

func (s *DayState) applyHour(ev Event, slaTarget float64) {
	h := &s.Hours[*ev.Hour]

	switch ev.Type {
	case EventInbox:
		h.EmailsReceived++
	case EventReplied:
		h.EmailsReplied++
		if ev.ResponseMinutes != nil {
			h.AvgResponseTime = combineMean(h.AvgResponseTime, h.ResponseSampleCount, []float64{*ev.ResponseMinutes})
			h.ResponseSampleCount++
			if *ev.ResponseMinutes <= slaTarget {
				h.SLAMet++
			}
		}
		if ev.Agent != "" {
			replies := orInit(h.AgentReplies.Data())
			replies[ev.Agent]++
			h.AgentReplies = datatypes.NewJSONType(replies)
		}
	case EventCompleted:
		h.EmailsCompleted++
	case EventDeleted:
		h.EmailsDeleted++
	}
	h.EmailsWorked = h.EmailsReplied + h.EmailsCompleted + h.EmailsDeleted

	if ev.Agent != "" {
		h.ActiveAgents = addAgent(h.ActiveAgents, ev.Agent)
		h.ActiveAgentCount = len(h.ActiveAgents)
	}
}

// ensureHours pads the hourly slice out to the full 24 rows, keeping
// whatever counters the existing rows already carry.
func (s *DayState) ensureHours() {
	if len(s.Hours) == 24 {
		return
	}
	full := make([]dbpkg.HourlyRecord, 24)
	for i := range full {
		full[i] = dbpkg.HourlyRecord{Date: s.Day.Date, Hour: i}
	}
	for _, h := range s.Hours {
		if h.Hour >= 0 && h.Hour < 24 {
			full[h.Hour] = h
		}
	}
	s.Hours = full
}

func (s *DayState) rebuildHourlyAgentSummary() {
	if len(s.Hours) == 0 {
		return
	}
	summary := make([]dbpkg.HourlyAgentSummary, 0, 24)
	for _, h := range s.Hours {
		replies := h.AgentReplies.Data()
		if len(replies) == 0 {
			continue
		}
		summary = append(summary, dbpkg.HourlyAgentSummary{Hour: h.Hour, AgentReplies: replies})
	}
	s.Agents.HourlyAgentSummary = summary
}

// Reconcile checks that hourly sums match the day totals on full-data
// days. Mismatches are data-quality warnings, not errors: a date that
// first arrived as historical rows and later gained hourly granularity
// legitimately trips this.
func (s *DayState) Reconcile() []string {
	if s.Day.HasSLAData != 1 || len(s.Hours) == 0 {
		return nil
	}
	var received, replied, completed, deleted int64
	for _, h := range s.Hours {
		received += h.EmailsReceived
		replied += h.EmailsReplied
		completed += h.EmailsCompleted
		deleted += h.EmailsDeleted
	}

	var warnings []string
	check := func(name string, hourly, daily int64) {
		if hourly != daily {
			warnings = append(warnings,
				fmt.Sprintf("%s: hourly %s sum %d != daily total %d", s.Day.Date, name, hourly, daily))
		}
	}
	check("received", received, s.Day.TotalEmails)
	check("replied", replied, s.Day.RepliedCount)
	check("completed", completed, s.Day.CompletedCount)
	check("deleted", deleted, s.Day.DeletedCount)
	return warnings
}

// Batch materializes the state into the transactional write unit.
func (s *DayState) Batch(keys []dbpkg.ProcessedKey) *dbpkg.DateBatch {
	day := s.Day
	agents := s.Agents
	return &dbpkg.DateBatch{
		Date:   s.Day.Date,
		Day:    &day,
		Hours:  s.Hours,
		Agents: &agents,
		Keys:   keys,
	}
}

// agentGroup buckets an agent login into its team: the segment before
// the first dot ("support.alice" -> "support"), or the login itself.
func agentGroup(agent string) string {
	for i := 0; i < len(agent); i++ {
		if agent[i] == '.' {
			return agent[:i]
		}
	}
	return agent
}

func orInit(m map[string]int64) map[string]int64 {
	if m == nil {
		return make(map[string]int64)
	}
	return m
}

func addAgent(list datatypes.JSONSlice[string], agent string) datatypes.JSONSlice[string] {
	for _, a := range list {
		if a == agent {
			return list
		}
	}
	list = append(list, agent)
	sort.Strings(list)
	return list
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// combineMean folds new samples into a running mean whose prior weight
// is the stored sample count. Priors with zero count contribute
// nothing.
func combineMean(priorMean float64, priorN int64, samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	total := float64(priorN) + float64(len(samples))
	if total == 0 {
		return 0
	}
	return (priorMean*float64(priorN) + sum) / total
}

func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
