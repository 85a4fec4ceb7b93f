package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/jobs"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackOnly())
	r.Use(CORS())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/inspect", inspectHandler(cfg))
		r.Post("/conversions", createConversionHandler(cfg))
		r.Get("/conversions", listConversionsHandler(cfg))
		r.Get("/conversions/{id}", getConversionHandler(cfg))
		r.Delete("/conversions/{id}", cancelConversionHandler(cfg))
		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg, true))
		r.Post("/runner/resume", pauseHandler(cfg, false))
		if cfg.Events != nil {
			r.Get("/events", cfg.Events)
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := cfg.Jobs.Counts(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}
		recent, _ := cfg.Jobs.List(ctx, 10)

		state := "idle"
		lastError := ""
		for _, j := range recent {
			if j.Status == jobs.StatusFailed && lastError == "" {
				lastError = j.Error
			}
		}
		if counts[jobs.StatusRunning] > 0 {
			state = "converting"
		} else if lastError != "" && recent[0].Status == jobs.StatusFailed {
			state = "error"
		}
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			JobsRunning: counts[jobs.StatusRunning],
			Queue:       counts,
		}
		if cfg.Assets != nil {
			resp.AssetsCount, _ = cfg.Assets.CountAssets(ctx)
		}
		if cfg.Doctor != nil {
			resp.Toolchain = cfg.Doctor.Peek()
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func inspectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InspectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		in, err := cfg.Inspector.Inspect(r.Context(), req.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), convert.ErrorCode(err))
			return
		}
		WriteJSON(w, http.StatusOK, InspectionToResponse(in))
	}
}

func createConversionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ConversionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		target, err := convert.ParseTarget(body.Target)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		for _, p := range []string{body.SourcePath, body.ImagePath, body.VideoPath} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				WriteError(w, http.StatusBadRequest, "file not found: "+p, "BAD_REQUEST")
				return
			}
		}

		job, err := cfg.Jobs.Submit(r.Context(), convert.Request{
			SourcePath: body.SourcePath,
			Target:     target,
			GIFFrames:  body.GIFFrames,
			GIFWidth:   body.GIFWidth,
			ImagePath:  body.ImagePath,
			VideoPath:  body.VideoPath,
		})
		if err != nil {
			if errors.Is(err, convert.ErrInvalidRequest) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listConversionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.Jobs.List(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getConversionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelConversionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Assets == nil {
			WriteJSON(w, http.StatusOK, AssetsResponse{})
			return
		}
		ctx := r.Context()
		assets, err := cfg.Assets.ListAssets(ctx, queryInt(r, "limit", 100))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list assets", "INTERNAL_ERROR")
			return
		}
		total, _ := cfg.Assets.CountAssets(ctx)
		WriteJSON(w, http.StatusOK, AssetsResponse{Assets: assets, Total: total})
	}
}

func pauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	case errors.Is(err, jobs.ErrFinished):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
