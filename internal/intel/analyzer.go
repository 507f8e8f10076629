package intel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/prompt"
	"github.com/cexll/ci-agent/internal/provider"
	"github.com/cexll/ci-agent/internal/research"
	"github.com/cexll/ci-agent/internal/stream"
)

const maxCompetitorName = 200

// Store caches results between runs. *cache.Cache implements it.
type Store interface {
	GetAnalysis(ctx context.Context, e cache.Entry, out any) bool
	SetAnalysis(ctx context.Context, e cache.Entry, result any) bool
	GetResearch(ctx context.Context, e cache.Entry, out any) bool
	SetResearch(ctx context.Context, e cache.Entry, data any) bool
}

// Collector gathers source material. *research.Researcher implements it.
type Collector interface {
	Collect(ctx context.Context, t research.Target, emit stream.Emitter) []research.Finding
}

// Enricher adds what the knowledge base already knows to fresh output
type Enricher interface {
	EnrichResearch(ctx context.Context, competitor, findings string) (string, bool)
	EnrichAnalysis(ctx context.Context, competitor, analysis string, keywords []string) (string, bool)
}

// Observer records workflow measurements
type Observer interface {
	CacheLookup(ctx context.Context, kind string, hit bool)
}

// Options configures an Analyzer or Discoverer
type Options struct {
	LLM         provider.Provider
	Researcher  Collector
	Store       Store
	Knowledge   Enricher
	Observer    Observer
	Temperature *float64
	MaxTokens   int
}

// Request asks for one competitor analysis
type Request struct {
	Competitor       string   `json:"competitor_name"`
	Website          string   `json:"competitor_website,omitempty"`
	Mode             Mode     `json:"analysis_mode"`
	IndustryKeywords []string `json:"industry_keywords,omitempty"`
}

// Validate trims the request and checks required fields
func (r *Request) Validate() error {
	r.Competitor = strings.TrimSpace(r.Competitor)
	r.Website = strings.TrimSpace(r.Website)
	if r.Competitor == "" {
		return &ValidationError{Field: "competitor_name", Message: "competitor_name is required"}
	}
	if len([]rune(r.Competitor)) > maxCompetitorName {
		return &ValidationError{Field: "competitor_name", Message: fmt.Sprintf("competitor_name must be at most %d characters", maxCompetitorName)}
	}
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	r.Mode = mode
	return nil
}

// Analyzer runs the researcher, analyst and writer stages
type Analyzer struct {
	agent
	researcher Collector
	store      Store
	knowledge  Enricher
	observer   Observer
	now        func() time.Time
}

// NewAnalyzer creates an Analyzer. Researcher, Store, Knowledge and Observer are optional.
func NewAnalyzer(opts Options) *Analyzer {
	return &Analyzer{
		agent:      agent{llm: opts.LLM, temperature: opts.Temperature, maxTokens: opts.MaxTokens},
		researcher: opts.Researcher,
		store:      opts.Store,
		knowledge:  opts.Knowledge,
		observer:   opts.Observer,
		now:        time.Now,
	}
}

// cacheEntry keys analyses by competitor, mode and website
func cacheEntry(req Request) cache.Entry {
	return cache.Entry{Competitor: req.Competitor, Variant: string(req.Mode), Website: req.Website}
}

// Run executes the workflow. The returned result is never nil; on failure it
// carries status "error" and the error is also returned.
func (a *Analyzer) Run(ctx context.Context, req Request, emit stream.Emitter) (*Result, error) {
	if emit == nil {
		emit = stream.Discard
	}
	if err := req.Validate(); err != nil {
		return a.failed(req, err), err
	}

	mode := req.Mode
	title := mode.Title()
	key := cacheEntry(req)
	log := zap.L().With(zap.String("competitor", req.Competitor), zap.String("mode", string(mode)))

	if a.store != nil {
		var cached Result
		hit := a.store.GetAnalysis(ctx, key, &cached)
		a.observe(ctx, "analysis", hit)
		if hit {
			emit(stream.Status("cache_hit", fmt.Sprintf("Found cached %s analysis for: %s", mode, req.Competitor)))
			log.Info("analysis served from cache")
			return &cached, nil
		}
	}

	emit(stream.Status("start", fmt.Sprintf("Starting %s multi-agent analysis for: %s", title, req.Competitor)))
	usage := &Usage{}

	emit(stream.Status("research_start", fmt.Sprintf("Step 1: %s researcher agent gathering intelligence...", title)))
	findings, err := a.research(ctx, req, usage, emit)
	if err != nil {
		return a.abort(req, err, emit, log), err
	}
	emit(stream.Status("research_complete", fmt.Sprintf("%s research complete", title)))

	emit(stream.Status("analysis_start", fmt.Sprintf("Step 2: %s analyst agent performing strategic analysis...", title)))
	analysis, err := a.ask(ctx, prompt.System(prompt.StageAnalyst, string(mode)), prompt.AnalysisTask(prompt.Task{
		Competitor: req.Competitor,
		Deep:       mode == ModeDeep,
		Findings:   findings,
	}), usage)
	if err != nil {
		err = fmt.Errorf("analysis failed: %w", err)
		return a.abort(req, err, emit, log), err
	}
	metrics := ExtractMetrics(analysis)
	if a.knowledge != nil && len(req.IndustryKeywords) > 0 {
		if enriched, ok := a.knowledge.EnrichAnalysis(ctx, req.Competitor, analysis, req.IndustryKeywords); ok {
			analysis = enriched
			emit(stream.Status("market_context", "Added market landscape context from the knowledge base"))
		}
	}
	emit(stream.Status("analysis_complete", fmt.Sprintf("%s strategic analysis complete", title)))

	emit(stream.Status("report_start", fmt.Sprintf("Step 3: %s writer agent generating report...", title)))
	report, err := a.ask(ctx, prompt.System(prompt.StageWriter, string(mode)), prompt.ReportTask(prompt.Task{
		Competitor: req.Competitor,
		Deep:       mode == ModeDeep,
		Findings:   findings,
		Analysis:   analysis,
	}), usage)
	if err != nil {
		err = fmt.Errorf("report failed: %w", err)
		return a.abort(req, err, emit, log), err
	}
	emit(stream.Status("complete", fmt.Sprintf("%s multi-agent analysis complete!", title)))

	result := &Result{
		Competitor:        req.Competitor,
		Website:           req.Website,
		ResearchFindings:  findings,
		StrategicAnalysis: analysis,
		FinalReport:       report,
		Metrics:           metrics,
		Timestamp:         a.now(),
		Status:            StatusSuccess,
		Workflow:          mode.Workflow(),
		AnalysisMode:      mode,
		IndustryKeywords:  req.IndustryKeywords,
		Usage:             usage,
	}

	if a.store != nil && a.store.SetAnalysis(ctx, key, result) {
		emit(stream.Status("cache_stored", fmt.Sprintf("%s analysis cached for future use", title)))
	}

	log.Info("analysis complete",
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens))
	return result, nil
}

func (a *Analyzer) research(ctx context.Context, req Request, usage *Usage, emit stream.Emitter) (string, error) {
	key := cacheEntry(req)
	if a.store != nil {
		var cached string
		hit := a.store.GetResearch(ctx, key, &cached)
		a.observe(ctx, "research", hit)
		if hit && cached != "" {
			emit(stream.Status("research_cache_hit", "Using cached research findings"))
			return a.enrichResearch(ctx, req.Competitor, cached, emit), nil
		}
	}

	var sources string
	if a.researcher != nil {
		sources = research.Format(a.researcher.Collect(ctx, research.Target{
			Competitor: req.Competitor,
			Website:    req.Website,
		}, emit))
	}

	findings, err := a.ask(ctx, prompt.System(prompt.StageResearcher, string(req.Mode)), prompt.ResearchTask(prompt.Task{
		Competitor: req.Competitor,
		Website:    req.Website,
		Deep:       req.Mode == ModeDeep,
		Sources:    sources,
	}), usage)
	if err != nil {
		return "", fmt.Errorf("research failed: %w", err)
	}

	if a.store != nil {
		a.store.SetResearch(ctx, key, findings)
	}
	return a.enrichResearch(ctx, req.Competitor, findings, emit), nil
}

func (a *Analyzer) enrichResearch(ctx context.Context, competitor, findings string, emit stream.Emitter) string {
	if a.knowledge == nil {
		return findings
	}
	enriched, ok := a.knowledge.EnrichResearch(ctx, competitor, findings)
	if !ok {
		return findings
	}
	emit(stream.Status("historical_context", fmt.Sprintf("Added historical context for %s from previous analyses", competitor)))
	return enriched
}

func (a *Analyzer) observe(ctx context.Context, kind string, hit bool) {
	if a.observer != nil {
		a.observer.CacheLookup(ctx, kind, hit)
	}
}

func (a *Analyzer) abort(req Request, err error, emit stream.Emitter, log *zap.Logger) *Result {
	emit(stream.Status("error", fmt.Sprintf("%s multi-agent workflow failed: %v", req.Mode.Title(), err)))
	log.Error("analysis failed", zap.Error(err))
	return a.failed(req, err)
}

func (a *Analyzer) failed(req Request, err error) *Result {
	mode := req.Mode
	if mode != ModeDeep {
		mode = ModeSimple
	}
	return &Result{
		Competitor:   req.Competitor,
		Website:      req.Website,
		Timestamp:    a.now(),
		Status:       StatusError,
		Workflow:     mode.Workflow(),
		AnalysisMode: mode,
		Error:        err.Error(),
	}
}

// agent issues one LLM call per stage
type agent struct {
	llm         provider.Provider
	temperature *float64
	maxTokens   int
}

func (g agent) ask(ctx context.Context, system, task string, usage *Usage) (string, error) {
	if g.llm == nil {
		return "", fmt.Errorf("no LLM provider configured")
	}
	resp, err := g.llm.Generate(ctx, provider.Request{
		System:      system,
		Prompt:      task,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if usage != nil {
		usage.PromptTokens += resp.PromptTokens
		usage.CompletionTokens += resp.CompletionTokens
		if resp.Cached {
			usage.CachedCalls++
		}
	}
	return strings.TrimSpace(resp.Text), nil
}
