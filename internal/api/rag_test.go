package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAGDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Knowledge = nil })

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/rag/query", map[string]any{"query": "pricing"}},
		{http.MethodDelete, "/rag/cache", nil},
		{http.MethodPost, "/rag/market-analysis", map[string]any{"industry_keywords": []string{"saas"}}},
		{http.MethodGet, "/rag/competitors", nil},
		{http.MethodGet, "/rag/competitors/Slack/summary", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusServiceUnavailable, f.do(t, tt.method, tt.path, tt.body).Code)
		})
	}

	out := decodeBody(t, f.do(t, http.MethodGet, "/rag-status", nil))
	assert.Equal(t, false, out["rag_enabled"])
	assert.Equal(t, "disabled", out["status"])
}

func TestRAGQuery(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"query": "What is their pricing?", "competitor_filter": "Slack"}

	first := decodeBody(t, f.do(t, http.MethodPost, "/rag/query", body))
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, "Slack", first["competitor_filter"])
	assert.Equal(t, "answer to What is their pricing? for Slack", first["response"])
	assert.Equal(t, false, first["cached"])

	second := decodeBody(t, f.do(t, http.MethodPost, "/rag/query", body))
	assert.Equal(t, true, second["cached"])
	assert.Equal(t, []bool{false, true}, f.metrics.rag)

	unfiltered := decodeBody(t, f.do(t, http.MethodPost, "/rag/query", map[string]any{"query": "market"}))
	assert.Nil(t, unfiltered["competitor_filter"])

	rec := f.do(t, http.MethodPost, "/rag/query", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query is required", decodeBody(t, rec)["detail"])

	cleared := decodeBody(t, f.do(t, http.MethodDelete, "/rag/cache", nil))
	assert.Equal(t, "RAG query cache cleared", cleared["message"])
	assert.EqualValues(t, 2, cleared["cleared_entries"])
}

func TestRAGCompetitors(t *testing.T) {
	f := newFixture(t)

	out := decodeBody(t, f.do(t, http.MethodGet, "/rag/competitors", nil))
	assert.Equal(t, []any{"Notion", "Slack"}, out["competitors"])
	assert.EqualValues(t, 8, out["total_documents"])

	rec := f.do(t, http.MethodGet, "/rag/competitors/Notion/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody(t, rec)
	assert.Equal(t, "Notion", summary["competitor"])
	assert.Equal(t, map[string]any{"overview": "Notion overview"}, summary["summary"])
}

func TestMarketAnalysis(t *testing.T) {
	f := newFixture(t)

	out := decodeBody(t, f.do(t, http.MethodPost, "/rag/market-analysis", map[string]any{
		"industry_keywords": []string{" collaboration ", ""},
	}))
	assert.Equal(t, []any{"collaboration"}, out["industry_keywords"])
	assert.Equal(t, "market of collaboration", out["market_analysis"])
	assert.NotNil(t, out["knowledge_base_stats"])

	rec := f.do(t, http.MethodPost, "/rag/market-analysis", map[string]any{"industry_keywords": []string{" "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRAGStatus(t *testing.T) {
	f := newFixture(t)
	out := decodeBody(t, f.do(t, http.MethodGet, "/rag-status", nil))
	assert.Equal(t, true, out["rag_enabled"])
	assert.Equal(t, "active", out["status"])
	assert.EqualValues(t, 8, out["total_documents"])

	f.knowledge.err = errors.New("store offline")
	out = decodeBody(t, f.do(t, http.MethodGet, "/rag-status", nil))
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "store offline", out["error"])

	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/rag/query", map[string]any{"query": "x"}).Code)
}
