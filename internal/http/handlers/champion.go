package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "mailmetrics/internal/db"
)

// Champion returns the active champion record and recent promotion history.
func Champion(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		limit := 0
		if s := string(ctx.QueryArgs().Peek("limit")); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				limit = n
			}
		}

		active, err := dbpkg.ActiveChampion(db)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load champion")
			return
		}
		history, err := dbpkg.ChampionHistory(db, limit)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load champion history")
			return
		}
		jsonResponse(ctx, map[string]any{"active": active, "history": history})
	}
}

type promoteRequest struct {
	ModelID string         `json:"model_id"`
	Metrics map[string]any `json:"metrics"`
}

// PromoteChampion records a new champion promotion.
func PromoteChampion(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req promoteRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ModelID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "model_id is required")
			return
		}

		row, err := dbpkg.PromoteChampion(db, req.ModelID, req.Metrics)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to promote champion")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, map[string]any{"champion": row})
	}
}
