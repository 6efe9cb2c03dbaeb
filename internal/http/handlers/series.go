package handlers

import (
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "mailmetrics/internal/db"
)

func parseDateArg(ctx *fasthttp.RequestCtx, name string) (string, bool) {
	v := string(ctx.QueryArgs().Peek(name))
	if v == "" {
		return "", true
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", false
	}
	return v, true
}

// Days lists day rows, optionally bounded by start/end (inclusive).
func Days(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start, ok := parseDateArg(ctx, "start")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
			return
		}
		end, ok := parseDateArg(ctx, "end")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
			return
		}

		q := db.Model(&dbpkg.Day{}).Order("date")
		if start != "" {
			q = q.Where("date >= ?", start)
		}
		if end != "" {
			q = q.Where("date <= ?", end)
		}

		var days []dbpkg.Day
		if err := q.Find(&days).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query days")
			return
		}
		jsonResponse(ctx, map[string]any{"days": days})
	}
}

// DayHours lists a date's hourly rows: 24 for full-data dates, none for
// historical ones.
func DayHours(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		dateVal, _ := ctx.UserValue("date").(string)
		if _, err := time.Parse("2006-01-02", dateVal); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}

		var hours []dbpkg.HourlyRecord
		if err := db.Where("date = ?", dateVal).Order("hour").Find(&hours).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query hourly data")
			return
		}

		var agents dbpkg.AgentMetricsRecord
		resp := map[string]any{"date": dateVal, "hours": hours}
		if err := db.First(&agents, "date = ?", dateVal).Error; err == nil {
			resp["agent_metrics"] = agents
		}
		jsonResponse(ctx, resp)
	}
}

// DailyData serves forecasting training rows: email-data days ordered
// by date, nulls filtered and counted.
func DailyData(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start, ok := parseDateArg(ctx, "start")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
			return
		}
		end, ok := parseDateArg(ctx, "end")
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
			return
		}
		target := string(ctx.QueryArgs().Peek("target"))

		points, nulls, err := dbpkg.LoadDailyData(db, target, start, end)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		jsonResponse(ctx, map[string]any{"points": points, "filtered_nulls": nulls})
	}
}

// QAReport serves the data-quality summary.
func QAReport(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		report, err := dbpkg.BuildQAReport(db)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to build QA report")
			return
		}
		jsonResponse(ctx, map[string]any{"report": report})
	}
}

// Coverage serves the metadata row (schema version, date bounds, sources).
func Coverage(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var meta dbpkg.Metadata
		if err := db.First(&meta, 1).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load metadata")
			return
		}
		var agg dbpkg.Aggregates
		resp := map[string]any{"metadata": meta}
		if err := db.First(&agg, 1).Error; err == nil {
			resp["aggregates"] = agg
		}
		jsonResponse(ctx, resp)
	}
}
