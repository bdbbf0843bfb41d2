package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
	"github.com/MimeLyc/regional-stats-etl/pkg/icron"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

const (
	defaultBatchLimit = 50
	nextRunCount      = 5
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
	})
}

type sourceResponse struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	APIURL      string              `json:"api_url"`
	Jobs        map[jobs.Status]int `json:"jobs"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)

	ret := make([]sourceResponse, 0, len(names))
	for _, name := range names {
		entries, err := s.caches[name].List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		item := sourceResponse{
			Name: name,
			Jobs: make(map[jobs.Status]int),
		}
		if preset, ok := genesis.Presets[name]; ok {
			item.Description = preset.Description
			item.APIURL = preset.APIURL
		}
		for _, entry := range entries {
			item.Jobs[entry.Status]++
		}
		ret = append(ret, item)
	}
	writeJSON(w, http.StatusOK, ret)
}

type cacheEntryResponse struct {
	Key string `json:"key"`
	jobs.Entry
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cacheFor(w, r)
	if !ok {
		return
	}
	entries, err := cache.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := r.URL.Query().Get("status")
	ret := make([]cacheEntryResponse, 0, len(entries))
	for key, entry := range entries {
		if status != "" && string(entry.Status) != status {
			continue
		}
		ret = append(ret, cacheEntryResponse{Key: key, Entry: entry})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Key < ret[j].Key })
	writeJSON(w, http.StatusOK, ret)
}

type addCacheEntryRequest struct {
	TableID string `json:"table_id"`
	Period  string `json:"period"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
}

func (s *Server) handleAddCacheEntry(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cacheFor(w, r)
	if !ok {
		return
	}
	var req addCacheEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	var status jobs.Status
	if req.Status != "" {
		parsed, err := jobs.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	key := jobs.NewKey(req.TableID, req.Period)
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if err := cache.AddExisting(r.Context(), key, req.JobID, status); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("Registered job %s for %s via API", req.JobID, key)
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    key.String(),
		"job_id": req.JobID,
	})
}

func (s *Server) handleClearCacheEntry(w http.ResponseWriter, r *http.Request) {
	cache, ok := s.cacheFor(w, r)
	if !ok {
		return
	}
	key := jobs.NewKey(chi.URLParam(r, "table"), chi.URLParam(r, "period"))
	removed, err := cache.Clear(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no cache entry for "+key.String())
		return
	}
	log.Info("Cleared cache entry %s via API", key)
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": key.String(),
	})
}

func (s *Server) cacheFor(w http.ResponseWriter, r *http.Request) (jobs.Store, bool) {
	source := chi.URLParam(r, "source")
	cache, ok := s.caches[source]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source "+strconv.Quote(source))
		return nil, false
	}
	return cache, true
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusOK, []config.Pipeline{})
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Pipelines())
}

type triggerRunRequest struct {
	Pipelines []string `json:"pipelines"`
	Force     bool     `json:"force"`
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "pipeline runner is not configured")
		return
	}
	var req triggerRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	known := make(map[string]bool)
	for _, p := range s.runner.Pipelines() {
		known[p.Name] = true
	}
	for _, name := range req.Pipelines {
		if !known[name] {
			writeError(w, http.StatusBadRequest, "unknown pipeline "+strconv.Quote(name))
			return
		}
	}

	if !s.runner.Trigger(s.baseCtx, pipeline.RunOptions{Names: req.Pipelines, Force: req.Force}) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok": true,
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "pipeline runner is not configured")
		return
	}
	summary, ok := s.runner.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.runner.Running(),
		"summary": summary,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "warehouse is not configured")
		return
	}
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	batches, err := s.store.ListBatches(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleTableObservations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "warehouse is not configured")
		return
	}
	obs, err := s.store.ObservationsFor(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

type scheduleResponse struct {
	*icron.TriggerInfo
	Running  bool        `json:"running"`
	NextRuns []time.Time `json:"next_runs"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	expr := s.cronExpr
	if s.settings != nil {
		if settings, err := s.settings.GetRuntimeSettings(); err == nil && settings.CronExpr != "" {
			expr = settings.CronExpr
		}
	}
	if expr == "" {
		writeError(w, http.StatusNotImplemented, "no schedule configured")
		return
	}

	now := s.now()
	info, err := icron.GetTriggerInfo(expr, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	next, err := icron.NextRuns(expr, now, nextRunCount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		TriggerInfo: info,
		Running:     s.runner != nil && s.runner.Running(),
		NextRuns:    next,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	settings, err := s.settings.GetRuntimeSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	var req config.RuntimeSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.settings.UpdateRuntimeSettings(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
