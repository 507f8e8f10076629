package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cexll/ci-agent/internal/auth"
	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/history"
	"github.com/cexll/ci-agent/internal/session"
)

var healthFeatures = []string{
	"multi_agent",
	"analysis_modes",
	"optimized_rag",
	"streaming",
	"competitor_discovery",
	"background_jobs",
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.opts.Version,
		"features":  healthFeatures,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	llmStatus := "not configured"
	if s.opts.Analyzer != nil {
		llmStatus = "configured"
	}
	body := map[string]any{
		"api_status":      "running",
		"llm_provider":    s.opts.LLMProvider,
		"llm_model":       s.opts.LLMModel,
		"llm_status":      llmStatus,
		"active_sessions": s.opts.Sessions.Len(),
		"running":         s.opts.Sessions.Active(),
		"live_streams":    s.streams.Active(),
		"cache_enabled":   s.opts.Cache != nil && s.opts.Cache.Enabled(),
		"rag_enabled":     s.opts.Knowledge != nil,
		"history_enabled": s.opts.History != nil,
		"timestamp":       s.timestamp(),
	}
	if s.opts.Queue != nil {
		body["queue"] = s.opts.Queue.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) analysisModes(w http.ResponseWriter, r *http.Request) {
	if s.opts.Catalog == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Analysis modes are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modes":   s.opts.Catalog.ModesByID(),
		"default": s.opts.Catalog.DefaultMode,
	})
}

func (s *Server) demoScenarios(w http.ResponseWriter, r *http.Request) {
	if s.opts.Catalog == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Demo scenarios are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": s.opts.Catalog.Scenarios,
		"features":  s.opts.Catalog.ScenarioFeatures,
		"timestamp": s.timestamp(),
	})
}

type sessionSummary struct {
	StartTime    string         `json:"start_time"`
	Competitor   string         `json:"competitor"`
	Status       session.Status `json:"status"`
	AnalysisMode string         `json:"analysis_mode"`
	Kind         session.Kind   `json:"kind"`
	Source       string         `json:"source,omitempty"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	all := s.opts.Sessions.List()
	summaries := make(map[string]sessionSummary, len(all))
	for _, sess := range all {
		summaries[sess.ID] = sessionSummary{
			StartTime:    sess.StartTime.Format("2006-01-02T15:04:05.000000"),
			Competitor:   sess.Competitor,
			Status:       sess.Status,
			AnalysisMode: sess.AnalysisMode,
			Kind:         sess.Kind,
			Source:       sess.Source,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": len(all),
		"sessions":        summaries,
		"timestamp":       s.timestamp(),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.opts.Sessions.Get(mux.Vars(r)["id"])
	if errors.Is(err, session.ErrSessionNotFound) {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeDetail(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.opts.History.List(r.Context(), limit, q.Get("competitor"))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":   records,
		"count":     len(records),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeDetail(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	rec, err := s.opts.History.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, history.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "History record not found")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeDetail(w, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	id := mux.Vars(r)["id"]
	err := s.opts.History.Delete(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "History record not found")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "timestamp": s.timestamp()})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		writeJSON(w, http.StatusOK, cache.Stats{Connected: false, Error: cache.ErrCacheDisabled.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Cache.Stats(r.Context()))
}

func (s *Server) clearCompetitorCache(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cache == nil {
		writeDetail(w, http.StatusServiceUnavailable, cache.ErrCacheDisabled.Error())
		return
	}
	name := mux.Vars(r)["name"]
	n, err := s.opts.Cache.ClearCompetitor(r.Context(), name)
	if errors.Is(err, cache.ErrCacheDisabled) {
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"competitor":   name,
		"cleared_keys": n,
		"timestamp":    s.timestamp(),
	})
}

func (s *Server) creditStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Credits == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Credits are not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credits": s.opts.Credits.Stats(auth.Identity(r.Context())),
		"costs": map[string]int{
			"simple":    s.opts.Costs.Simple,
			"deep":      s.opts.Costs.Deep,
			"discovery": s.opts.Costs.Discovery,
		},
	})
}
