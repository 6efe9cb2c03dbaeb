package db

import (
	"time"

	"gorm.io/datatypes"
)

// CurrentSchemaVersion is the schema generation this binary writes.
// Ingestion refuses to run against a database recorded with any other
// version (see CheckSchemaVersion).
const CurrentSchemaVersion = 3

// Day holds one calendar date's aggregate email counters and derived
// rates. Historical dates carry only daily totals (has_sla_data=0);
// full-data dates additionally have response-time and SLA metrics,
// backed by exactly 24 hourly_data rows.
//
// Column names are an external contract: downstream report and
// forecasting tooling queries them by name, so every field pins its
// column explicitly.
type Day struct {
	Date string `gorm:"column:date;primaryKey;size:10" json:"date"`

	HasEmailData int `gorm:"column:has_email_data;not null;default:0" json:"has_email_data"`
	HasSLAData   int `gorm:"column:has_sla_data;not null;default:0" json:"has_sla_data"`

	TotalEmails    int64 `gorm:"column:total_emails;not null;default:0" json:"total_emails"`
	RepliedCount   int64 `gorm:"column:replied_count;not null;default:0" json:"replied_count"`
	CompletedCount int64 `gorm:"column:completed_count;not null;default:0" json:"completed_count"`
	DeletedCount   int64 `gorm:"column:deleted_count;not null;default:0" json:"deleted_count"`
	WorkedCount    int64 `gorm:"column:worked_count;not null;default:0" json:"worked_count"`
	PendingCount   int64 `gorm:"column:pending_count;not null;default:0" json:"pending_count"`
	InboxTotal     int64 `gorm:"column:inbox_total;not null;default:0" json:"inbox_total"`
	SentTotal      int64 `gorm:"column:sent_total;not null;default:0" json:"sent_total"`

	ReplyRatePercent          float64 `gorm:"column:reply_rate_percent;not null;default:0" json:"reply_rate_percent"`
	AvgResponseTimeMinutes    float64 `gorm:"column:avg_response_time_minutes;not null;default:0" json:"avg_response_time_minutes"`
	MedianResponseTimeMinutes float64 `gorm:"column:median_response_time_minutes;not null;default:0" json:"median_response_time_minutes"`
	SLAComplianceRate         float64 `gorm:"column:sla_compliance_rate;not null;default:0" json:"sla_compliance_rate"`
	AvgUnreadCount            float64 `gorm:"column:avg_unread_count;not null;default:0" json:"avg_unread_count"`

	// ResponseTimeSamples retains every response-time sample folded into
	// this date, so that later runs recompute the average, median and SLA
	// rate over the full population instead of approximating from the
	// stored aggregates.
	ResponseTimeSamples datatypes.JSONSlice[float64] `gorm:"column:response_time_samples" json:"-"`

	CategoryInbox     int64 `gorm:"column:category_inbox;not null;default:0" json:"category_inbox"`
	CategoryReplied   int64 `gorm:"column:category_replied;not null;default:0" json:"category_replied"`
	CategoryCompleted int64 `gorm:"column:category_completed;not null;default:0" json:"category_completed"`
	CategoryDeleted   int64 `gorm:"column:category_deleted;not null;default:0" json:"category_deleted"`
	CategoryWorked    int64 `gorm:"column:category_worked;not null;default:0" json:"category_worked"`
}

func (Day) TableName() string { return "days" }

// HourlyRecord is one (date, hour) slice of a full-data day. A day
// with has_sla_data=1 has exactly 24 of these, hour 0 through 23,
// zero-filled where nothing happened.
type HourlyRecord struct {
	ID uint `gorm:"column:id;primaryKey" json:"id"`

	Date string `gorm:"column:date;size:10;not null;uniqueIndex:idx_hourly_date_hour,priority:1" json:"date"`
	Hour int    `gorm:"column:hour;not null;uniqueIndex:idx_hourly_date_hour,priority:2" json:"hour"`

	EmailsReceived  int64 `gorm:"column:emails_received;not null;default:0" json:"emails_received"`
	EmailsReplied   int64 `gorm:"column:emails_replied;not null;default:0" json:"emails_replied"`
	EmailsCompleted int64 `gorm:"column:emails_completed;not null;default:0" json:"emails_completed"`
	EmailsDeleted   int64 `gorm:"column:emails_deleted;not null;default:0" json:"emails_deleted"`
	EmailsWorked    int64 `gorm:"column:emails_worked;not null;default:0" json:"emails_worked"`

	AvgResponseTime float64 `gorm:"column:avg_response_time;not null;default:0" json:"avg_response_time"`
	UnreadCount     int64   `gorm:"column:unread_count;not null;default:0" json:"unread_count"`
	SLAMet          int64   `gorm:"column:sla_met;not null;default:0" json:"sla_met"`

	// ResponseSampleCount is the weight behind AvgResponseTime: the number
	// of response-time samples folded into this hour so far.
	ResponseSampleCount int64 `gorm:"column:response_sample_count;not null;default:0" json:"response_sample_count"`

	ActiveAgentCount int                                  `gorm:"column:active_agent_count;not null;default:0" json:"active_agent_count"`
	ActiveAgents     datatypes.JSONSlice[string]          `gorm:"column:active_agents" json:"active_agents"`
	AgentReplies     datatypes.JSONType[map[string]int64] `gorm:"column:agent_replies" json:"agent_replies"`
}

func (HourlyRecord) TableName() string { return "hourly_data" }

// HourlyAgentSummary is one entry of agent_metrics.hourly_agent_summary.
type HourlyAgentSummary struct {
	Hour         int              `json:"hour"`
	AgentReplies map[string]int64 `json:"agent_replies"`
}

// AgentMetricsRecord aggregates per-agent reply attribution for one date.
type AgentMetricsRecord struct {
	Date string `gorm:"column:date;primaryKey;size:10" json:"date"`

	AgentCounts      datatypes.JSONType[map[string]int64] `gorm:"column:agent_counts" json:"agent_counts"`
	AgentGroupCounts datatypes.JSONType[map[string]int64] `gorm:"column:agent_group_counts" json:"agent_group_counts"`

	ResponsesWithAgent        int64 `gorm:"column:responses_with_agent;not null;default:0" json:"responses_with_agent"`
	TotalRepliedResponses     int64 `gorm:"column:total_replied_responses;not null;default:0" json:"total_replied_responses"`
	UnmatchedRepliedResponses int64 `gorm:"column:unmatched_replied_responses;not null;default:0" json:"unmatched_replied_responses"`

	HourlyAgentSummary datatypes.JSONSlice[HourlyAgentSummary] `gorm:"column:hourly_agent_summary" json:"hourly_agent_summary"`
}

func (AgentMetricsRecord) TableName() string { return "agent_metrics" }

// Metadata is the single global row (id=1) tracking schema version and
// date coverage. Updated after every successful ingestion run.
type Metadata struct {
	ID int `gorm:"column:id;primaryKey" json:"id"`

	SchemaVersion      int                         `gorm:"column:schema_version;not null" json:"schema_version"`
	LastUpdated        time.Time                   `gorm:"column:last_updated" json:"last_updated"`
	TotalDaysProcessed int64                       `gorm:"column:total_days_processed;not null;default:0" json:"total_days_processed"`
	EarliestDate       string                      `gorm:"column:earliest_date;size:10" json:"earliest_date"`
	LatestDate         string                      `gorm:"column:latest_date;size:10" json:"latest_date"`
	DataSources        datatypes.JSONSlice[string] `gorm:"column:data_sources" json:"data_sources"`
}

func (Metadata) TableName() string { return "metadata" }

// Aggregates is the single global row (id=1) of cross-date rollups.
type Aggregates struct {
	ID int `gorm:"column:id;primaryKey" json:"id"`

	// GlobalHourlyWorked holds 24 entries: total emails worked per
	// hour-of-day across every full-data date.
	GlobalHourlyWorked datatypes.JSONSlice[int64] `gorm:"column:global_hourly_worked" json:"global_hourly_worked"`
}

func (Aggregates) TableName() string { return "aggregates" }

// ProcessedKey marks one message event as already counted. The composite
// primary key is what makes re-ingestion of overlapping exports a no-op.
type ProcessedKey struct {
	Date      string `gorm:"column:date;primaryKey;size:10" json:"date"`
	EventType string `gorm:"column:event_type;primaryKey;size:16" json:"event_type"`
	DedupKey  string `gorm:"column:dedup_key;primaryKey;size:64" json:"dedup_key"`
}

func (ProcessedKey) TableName() string { return "processed_keys" }

// ChampionModel is one promotion record of the forecasting champion.
// Promotions append rows rather than mutating a pointer, so comparison
// runs never race on a shared current-best slot and history is kept.
type ChampionModel struct {
	ID uint `gorm:"column:id;primaryKey" json:"id"`

	ModelID    string            `gorm:"column:model_id;size:128;not null" json:"model_id"`
	Metrics    datatypes.JSONMap `gorm:"column:metrics" json:"metrics"`
	PromotedAt time.Time         `gorm:"column:promoted_at;not null" json:"promoted_at"`
	Active     bool              `gorm:"column:active;not null;default:false;index" json:"active"`
}

func (ChampionModel) TableName() string { return "champion_models" }
