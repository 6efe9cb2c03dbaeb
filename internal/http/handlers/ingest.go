package handlers

import (
	"bytes"
	"errors"
	"log"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"mailmetrics/internal/config"
	dbpkg "mailmetrics/internal/db"
	httpctx "mailmetrics/internal/http/ctx"
	"mailmetrics/internal/ingest"
)

// IngestHandler accepts a raw CSV export in the request body and runs
// one ingestion batch against the store. The response is the run
// summary: rows read, skipped as malformed, skipped as duplicate,
// written, plus any reconciliation warnings.
func IngestHandler(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		body := ctx.PostBody()
		if len(bytes.TrimSpace(body)) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "empty CSV body")
			return
		}

		source := "csv-upload"
		if ak, ok := httpctx.APIKeyFromCtx(ctx); ok && ak != nil {
			source = ak.Name
		}

		runner := &ingest.Runner{
			DB:               db,
			SLATargetMinutes: cfg.SLATargetMinutes,
			Source:           source,
		}

		summary, err := runner.Run(bytes.NewReader(body))
		if err != nil {
			var verr *dbpkg.SchemaVersionError
			if errors.As(err, &verr) {
				errResponse(ctx, fasthttp.StatusConflict, verr.Error())
				return
			}
			// Dates committed before the failure stay committed; report
			// the partial summary alongside the error.
			log.Printf("ingest run failed: %v", err)
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			jsonResponse(ctx, map[string]any{"error": err.Error(), "summary": summary})
			return
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		jsonResponse(ctx, map[string]any{"summary": summary})
	}
}
