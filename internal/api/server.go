// Package api serves the competitive intelligence HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/auth"
	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/catalog"
	"github.com/cexll/ci-agent/internal/concurrency"
	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/history"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/jobs"
	"github.com/cexll/ci-agent/internal/knowledge"
	"github.com/cexll/ci-agent/internal/session"
	"github.com/cexll/ci-agent/internal/stream"
	"github.com/cexll/ci-agent/internal/web"
	"github.com/cexll/ci-agent/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Analyzer runs one competitor analysis. *intel.Analyzer implements it.
type Analyzer interface {
	Run(ctx context.Context, req intel.Request, emit stream.Emitter) (*intel.Result, error)
}

// Discoverer finds competitors for a business idea. *intel.Discoverer implements it.
type Discoverer interface {
	Run(ctx context.Context, idea string, emit stream.Emitter) (*intel.DiscoveryResult, error)
}

// Knowledge answers questions over stored analyses. *knowledge.Base implements it.
type Knowledge interface {
	Query(ctx context.Context, query, competitor string) (string, bool, error)
	CompetitorSummary(ctx context.Context, competitor string) (*knowledge.Summary, error)
	MarketLandscape(ctx context.Context, keywords []string) (string, error)
	ClearQueryCache() int
	Stats() (*knowledge.Stats, error)
}

// Cache is the result cache. *cache.Cache implements it.
type Cache interface {
	Enabled() bool
	Stats(ctx context.Context) cache.Stats
	ClearCompetitor(ctx context.Context, competitor string) (int, error)
}

// History reads recorded analyses. *history.Store implements it.
type History interface {
	List(ctx context.Context, limit int, competitor string) ([]history.Record, error)
	Get(ctx context.Context, id string) (*history.Record, error)
	Delete(ctx context.Context, id string) error
}

// Jobs submits background analyses and stores finished results. *jobs.Runner implements it.
type Jobs interface {
	webhook.Submitter
	Finalize(ctx context.Context, sessionID string, res *intel.Result)
}

// Credits charges callers. *credits.Tracker implements it.
type Credits interface {
	Consume(identity string, cost int) error
	Refund(identity string, cost int)
	Stats(identity string) credits.Stats
}

// Queue reports background queue depth. *dispatcher.Dispatcher implements it.
type Queue interface {
	Stats() dispatcher.Stats
}

// Metrics records API measurements. *observability.Metrics implements it.
type Metrics interface {
	AnalysisFinished(ctx context.Context, mode, status string, elapsed time.Duration)
	RAGQuery(ctx context.Context, cached bool)
	SSEEvent(t stream.Type)
	QueueRejected(ctx context.Context, reason string)
}

// Options wires the server. Knowledge, Cache, History, Jobs, Queue and
// Metrics are optional; a nil value disables the matching endpoints.
type Options struct {
	Version     string
	LLMProvider string
	LLMModel    string

	Analyzer   Analyzer
	Discoverer Discoverer
	Knowledge  Knowledge
	Cache      Cache
	History    History
	Jobs       Jobs
	Queue      Queue
	Credits    Credits
	Costs      jobs.Costs
	Metrics    Metrics
	Sessions   *session.Store
	Catalog    *catalog.Catalog

	MetricsHandler http.Handler
	Web            *web.Handler

	JWTSecret        string
	WebhookSecret    string
	CORSOrigins      []string
	Heartbeat        time.Duration
	SessionRetention time.Duration
	// MaxStreams caps concurrent streaming runs; zero means no cap.
	MaxStreams int
}

// Server holds the handlers
type Server struct {
	opts    Options
	streams *concurrency.Manager
	webhook *webhook.Handler
	now     func() time.Time
}

// New creates a server
func New(opts Options) *Server {
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Second
	}
	if opts.SessionRetention <= 0 {
		opts.SessionRetention = session.DefaultRetention
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	s := &Server{
		opts:    opts,
		streams: concurrency.NewManager(opts.MaxStreams),
		now:     time.Now,
	}
	if opts.WebhookSecret != "" && opts.Jobs != nil {
		s.webhook = webhook.NewHandler(opts.WebhookSecret, countingSubmitter{s}, 24*time.Hour)
	}
	return s
}

// Handler returns the routed handler with CORS and caller identity applied
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/status", s.status).Methods("GET")
	r.HandleFunc("/analysis-modes", s.analysisModes).Methods("GET")
	r.HandleFunc("/demo-scenarios", s.demoScenarios).Methods("GET")
	r.HandleFunc("/rag-status", s.ragStatus).Methods("GET")

	r.HandleFunc("/analyze/enhanced", s.analyze).Methods("POST")
	r.HandleFunc("/analyze/enhanced/stream", s.analyzeStream).Methods("POST")
	r.HandleFunc("/analyze", s.analyze).Methods("POST")
	r.HandleFunc("/analyze/stream", s.analyzeStream).Methods("POST")
	r.HandleFunc("/analyze/async", s.analyzeAsync).Methods("POST")

	r.HandleFunc("/discover", s.discover).Methods("POST")
	r.HandleFunc("/discover/stream", s.discoverStream).Methods("POST")

	r.HandleFunc("/rag/query", s.ragQuery).Methods("POST")
	r.HandleFunc("/rag/cache", s.ragClearCache).Methods("DELETE")
	r.HandleFunc("/rag/market-analysis", s.marketAnalysis).Methods("POST")
	r.HandleFunc("/rag/competitors", s.ragCompetitors).Methods("GET")
	r.HandleFunc("/rag/competitors/{name}/summary", s.competitorSummary).Methods("GET")

	r.HandleFunc("/sessions", s.listSessions).Methods("GET")
	r.HandleFunc("/sessions/{id}", s.getSession).Methods("GET")

	r.HandleFunc("/history", s.listHistory).Methods("GET")
	r.HandleFunc("/history/{id}", s.getHistory).Methods("GET")
	r.HandleFunc("/history/{id}", s.deleteHistory).Methods("DELETE")

	r.HandleFunc("/cache/stats", s.cacheStats).Methods("GET")
	r.HandleFunc("/cache/competitors/{name}", s.clearCompetitorCache).Methods("DELETE")

	r.HandleFunc("/credits", s.creditStats).Methods("GET")

	if s.webhook != nil {
		r.HandleFunc("/webhook/analyze", s.webhook.Handle).Methods("POST")
	}
	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler).Methods("GET")
	}
	if s.opts.Web != nil {
		s.opts.Web.RegisterRoutes(r)
	}

	return cors(s.opts.CORSOrigins)(auth.Middleware(s.opts.JWTSecret)(r))
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339)
}

// decode reads a JSON body into v. It writes the 400 response itself and
// reports whether decoding succeeded.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to write response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps err to a status. Credit limits carry the limit itself.
func writeError(w http.ResponseWriter, err error) {
	var limit *credits.LimitError
	if errors.As(err, &limit) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"detail": err.Error(),
			"limit":  limit,
		})
		return
	}
	status, detail := webhook.StatusFor(err)
	writeJSON(w, status, map[string]string{"detail": detail})
}

// countingSubmitter records queue rejections for webhook and API submissions
type countingSubmitter struct {
	s *Server
}

func (c countingSubmitter) Submit(ctx context.Context, req intel.Request, identity, source string) (*dispatcher.Job, error) {
	job, err := c.s.opts.Jobs.Submit(ctx, req, identity, source)
	switch {
	case errors.Is(err, dispatcher.ErrQueueFull):
		c.s.opts.Metrics.QueueRejected(ctx, "full")
	case errors.Is(err, dispatcher.ErrQueueClosed):
		c.s.opts.Metrics.QueueRejected(ctx, "closed")
	}
	return job, err
}

type noopMetrics struct{}

func (noopMetrics) AnalysisFinished(context.Context, string, string, time.Duration) {}
func (noopMetrics) RAGQuery(context.Context, bool)                                  {}
func (noopMetrics) SSEEvent(stream.Type)                                            {}
func (noopMetrics) QueueRejected(context.Context, string)                           {}
