package main

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"mailmetrics/internal/config"
	"mailmetrics/internal/db"
	"mailmetrics/internal/http/handlers"
	appmw "mailmetrics/internal/http/middleware"
	"mailmetrics/internal/ingest"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Fatalf("failed to ensure bootstrap admin: %v", err)
	}

	if cfg.IngestAPIKey != "" {
		if err := db.EnsureBootstrapAPIKey(sqlDB, cfg); err != nil {
			log.Printf("warning: failed to ensure ingest API key: %v", err)
		} else {
			log.Printf("ingest API key configured and associated with admin user")
		}
	}

	// One-time import of a pre-migration external dedup-key file. The
	// import is idempotent, so leaving the variable set across restarts
	// is harmless; retire the file once the parity check passes.
	if cfg.LegacyKeysPath != "" {
		report, err := db.MigrateLegacyKeys(sqlDB, cfg.LegacyKeysPath)
		if err != nil {
			log.Fatalf("legacy dedup key migration failed: %v", err)
		}
		log.Printf("legacy dedup keys imported: %d rows read, %d unique, %d new, verified=%v",
			report.RowsRead, report.UniqueKeys, report.Imported, report.Verified)
	}

	ingest.InitPrometheusMetrics()

	r := router.New()

	// Global middleware chain: request logger, then router.
	handler := handlers.RequestLogger(r.Handler)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.GET("/metrics", handlers.MetricsHandler())

	r.POST("/v1/ingest", appmw.BearerAuth(sqlDB)(handlers.IngestHandler(sqlDB, cfg)))

	r.GET("/v1/days", handlers.Days(sqlDB))
	r.GET("/v1/days/{date}/hours", handlers.DayHours(sqlDB))
	r.GET("/v1/daily-data", handlers.DailyData(sqlDB))
	r.GET("/v1/qa", handlers.QAReport(sqlDB))
	r.GET("/v1/coverage", handlers.Coverage(sqlDB))

	r.GET("/v1/champion", handlers.Champion(sqlDB))
	r.POST("/v1/champion/promote", appmw.BearerAuth(sqlDB)(handlers.PromoteChampion(sqlDB)))

	log.Printf("mailmetrics listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
