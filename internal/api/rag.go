package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const ragUnavailable = "RAG system not available. Please ensure the knowledge base is properly configured."

type ragQueryRequest struct {
	Query            string  `json:"query"`
	CompetitorFilter *string `json:"competitor_filter"`
}

type ragQueryResponse struct {
	Query            string  `json:"query"`
	CompetitorFilter *string `json:"competitor_filter"`
	Response         string  `json:"response"`
	Timestamp        string  `json:"timestamp"`
	Status           string  `json:"status"`
	Cached           bool    `json:"cached"`
}

func (s *Server) ragQuery(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeDetail(w, http.StatusServiceUnavailable, ragUnavailable)
		return
	}
	var body ragQueryRequest
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "query is required")
		return
	}

	filter := ""
	if body.CompetitorFilter != nil {
		filter = strings.TrimSpace(*body.CompetitorFilter)
	}
	answer, cached, err := s.opts.Knowledge.Query(r.Context(), body.Query, filter)
	if err != nil {
		zap.L().Error("RAG query failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.opts.Metrics.RAGQuery(r.Context(), cached)

	writeJSON(w, http.StatusOK, ragQueryResponse{
		Query:            body.Query,
		CompetitorFilter: body.CompetitorFilter,
		Response:         answer,
		Timestamp:        s.timestamp(),
		Status:           "success",
		Cached:           cached,
	})
}

func (s *Server) ragClearCache(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeDetail(w, http.StatusServiceUnavailable, "RAG system not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "RAG query cache cleared",
		"cleared_entries": s.opts.Knowledge.ClearQueryCache(),
		"timestamp":       s.timestamp(),
	})
}

func (s *Server) marketAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeDetail(w, http.StatusServiceUnavailable, ragUnavailable)
		return
	}
	var body struct {
		IndustryKeywords []string `json:"industry_keywords"`
	}
	if !decode(w, r, &body) {
		return
	}
	keywords := make([]string, 0, len(body.IndustryKeywords))
	for _, k := range body.IndustryKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		writeDetail(w, http.StatusBadRequest, "industry_keywords must not be empty")
		return
	}

	analysis, err := s.opts.Knowledge.MarketLandscape(r.Context(), keywords)
	if err != nil {
		zap.L().Error("market analysis failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.opts.Knowledge.Stats()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"industry_keywords":    keywords,
		"market_analysis":      analysis,
		"knowledge_base_stats": stats,
		"timestamp":            s.timestamp(),
		"status":               "success",
	})
}

func (s *Server) ragCompetitors(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeDetail(w, http.StatusServiceUnavailable, ragUnavailable)
		return
	}
	stats, err := s.opts.Knowledge.Stats()
	if err != nil {
		zap.L().Error("failed to get competitors list", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	names := make([]string, 0, len(stats.Competitors))
	for name := range stats.Competitors {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{
		"competitors":       names,
		"competitor_counts": stats.Competitors,
		"total_documents":   stats.TotalDocuments,
		"timestamp":         s.timestamp(),
	})
}

func (s *Server) competitorSummary(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeDetail(w, http.StatusServiceUnavailable, ragUnavailable)
		return
	}
	name := strings.TrimSpace(mux.Vars(r)["name"])
	summary, err := s.opts.Knowledge.CompetitorSummary(r.Context(), name)
	if err != nil {
		zap.L().Error("competitor summary failed", zap.String("competitor", name), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"competitor": summary.Competitor,
		"summary":    summary.Insights,
		"timestamp":  s.timestamp(),
		"status":     "success",
	})
}

func (s *Server) ragStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Knowledge == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"rag_enabled": false,
			"status":      "disabled",
			"error":       "RAG system not initialized",
			"timestamp":   s.timestamp(),
		})
		return
	}
	stats, err := s.opts.Knowledge.Stats()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"rag_enabled": false,
			"status":      "error",
			"error":       err.Error(),
			"timestamp":   s.timestamp(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rag_enabled":      true,
		"status":           "active",
		"total_documents":  stats.TotalDocuments,
		"competitors":      stats.Competitors,
		"storage_path":     stats.StoragePath,
		"embedding_model":  stats.EmbeddingModel,
		"llm_model":        stats.LLMModel,
		"query_cache_size": stats.QueryCacheSize,
		"cache_max_size":   stats.CacheMaxSize,
		"timestamp":        s.timestamp(),
	})
}
