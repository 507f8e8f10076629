package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/catalog"
	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/jobs"
	"github.com/cexll/ci-agent/internal/knowledge"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
)

type fakeAnalyzer struct {
	fn func(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error)
}

func (f *fakeAnalyzer) Run(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
	return f.fn(ctx, req, emit)
}

func succeed(_ context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error) {
	emit(stream.Status("start", "Starting"))
	emit(stream.ToolCall("website", map[string]any{"url": req.Website}))
	emit(stream.Status("research_complete", "research done"))
	emit(stream.Status("complete", "done"))
	return &intel.Result{
		Competitor:   req.Competitor,
		Website:      req.Website,
		FinalReport:  "report for " + req.Competitor,
		Status:       intel.StatusSuccess,
		AnalysisMode: req.Mode,
		Workflow:     req.Mode.Workflow(),
	}, nil
}

type fakeDiscoverer struct {
	fn func(ctx context.Context, idea string, emit stream.Emitter) (*intel.DiscoveryResult, error)
}

func (f *fakeDiscoverer) Run(ctx context.Context, idea string, emit stream.Emitter) (*intel.DiscoveryResult, error) {
	if f.fn != nil {
		return f.fn(ctx, idea, emit)
	}
	emit(stream.Status("start", "Starting competitor discovery for business idea"))
	emit(stream.Status("complete", "Competitor discovery complete!"))
	return &intel.DiscoveryResult{
		BusinessIdea:    idea,
		DiscoveryReport: "competitors of " + idea,
		Status:          intel.StatusSuccess,
		Workflow:        "competitor_discovery",
	}, nil
}

type fakeKnowledge struct {
	mu      sync.Mutex
	answers map[string]string
	seen    map[string]bool
	err     error
	cleared int
	stats   knowledge.Stats
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{
		answers: map[string]string{},
		seen:    map[string]bool{},
		stats: knowledge.Stats{
			TotalDocuments: 8,
			Competitors:    map[string]int{"Slack": 4, "Notion": 4},
			StoragePath:    "memory",
			CacheMaxSize:   100,
		},
	}
}

func (f *fakeKnowledge) Query(_ context.Context, query, competitor string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	key := query + "|" + competitor
	cached := f.seen[key]
	f.seen[key] = true
	return "answer to " + query + " for " + competitor, cached, nil
}

func (f *fakeKnowledge) CompetitorSummary(_ context.Context, competitor string) (*knowledge.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &knowledge.Summary{Competitor: competitor, Insights: map[string]string{"overview": competitor + " overview"}}, nil
}

func (f *fakeKnowledge) MarketLandscape(_ context.Context, keywords []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "market of " + keywords[0], nil
}

func (f *fakeKnowledge) ClearQueryCache() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.seen)
	f.seen = map[string]bool{}
	f.cleared += n
	return n
}

func (f *fakeKnowledge) Stats() (*knowledge.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.stats
	return &s, nil
}

type fakeJobs struct {
	mu        sync.Mutex
	finalized []string
	submitted []intel.Request
	err       error
}

func (f *fakeJobs) Submit(_ context.Context, req intel.Request, identity, source string) (*dispatcher.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.submitted = append(f.submitted, req)
	return &dispatcher.Job{ID: "job-1", SessionID: "sess-1", Request: req, Source: source, Identity: identity}, nil
}

func (f *fakeJobs) Finalize(_ context.Context, sessionID string, res *intel.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, sessionID)
	res.RAGStored = true
}

type fakeCache struct {
	cleared map[string]int
}

func (f *fakeCache) Enabled() bool { return true }

func (f *fakeCache) Stats(context.Context) cache.Stats {
	return cache.Stats{Connected: true, TotalKeys: 3}
}

func (f *fakeCache) ClearCompetitor(_ context.Context, competitor string) (int, error) {
	return f.cleared[competitor], nil
}

type fakeQueue struct{}

func (fakeQueue) Stats() dispatcher.Stats { return dispatcher.Stats{Workers: 4, Capacity: 16} }

type fakeMetrics struct {
	mu         sync.Mutex
	analyses   []string
	rag        []bool
	events     map[stream.Type]int
	rejections []string
}

func (f *fakeMetrics) AnalysisFinished(_ context.Context, mode, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, mode+":"+status)
}

func (f *fakeMetrics) RAGQuery(_ context.Context, cached bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rag = append(f.rag, cached)
}

func (f *fakeMetrics) SSEEvent(t stream.Type) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = map[stream.Type]int{}
	}
	f.events[t]++
}

func (f *fakeMetrics) QueueRejected(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, reason)
}

type fixture struct {
	srv        *Server
	handler    http.Handler
	sessions   *session.Store
	credits    *credits.Tracker
	analyzer   *fakeAnalyzer
	discoverer *fakeDiscoverer
	knowledge  *fakeKnowledge
	jobs       *fakeJobs
	metrics    *fakeMetrics
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	f := &fixture{
		sessions:   session.NewStore(),
		credits:    credits.NewTracker(5),
		analyzer:   &fakeAnalyzer{fn: succeed},
		discoverer: &fakeDiscoverer{},
		knowledge:  newFakeKnowledge(),
		jobs:       &fakeJobs{},
		metrics:    &fakeMetrics{},
	}
	t.Cleanup(f.sessions.Close)

	opts := Options{
		Version:     "3.0.0",
		LLMProvider: "gemini",
		LLMModel:    "gemini-2.0-flash",
		Analyzer:    f.analyzer,
		Discoverer:  f.discoverer,
		Knowledge:   f.knowledge,
		Jobs:        f.jobs,
		Queue:       fakeQueue{},
		Credits:     f.credits,
		Costs:       jobs.Costs{Simple: 1, Deep: 3, Discovery: 2},
		Metrics:     f.metrics,
		Sessions:    f.sessions,
		Catalog:     cat,
		Heartbeat:   time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.srv = New(opts)
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
