package intel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/cache"
	"github.com/cexll/ci-agent/internal/prompt"
	"github.com/cexll/ci-agent/internal/research"
	"github.com/cexll/ci-agent/internal/stream"
)

const (
	minIdeaLength     = 10
	maxIdeaLength     = 1000
	minResearchLength = 50
	minAnalysisLength = 50
	minReportLength   = 100
)

// Discoverer finds likely competitors for a business idea
type Discoverer struct {
	agent
	researcher Collector
	store      Store
	observer   Observer
	now        func() time.Time
}

// NewDiscoverer creates a Discoverer. Knowledge in opts is ignored.
func NewDiscoverer(opts Options) *Discoverer {
	return &Discoverer{
		agent:      agent{llm: opts.LLM, temperature: opts.Temperature, maxTokens: opts.MaxTokens},
		researcher: opts.Researcher,
		store:      opts.Store,
		observer:   opts.Observer,
		now:        time.Now,
	}
}

// ValidateIdea trims idea and checks its length
func ValidateIdea(idea string) (string, error) {
	idea = strings.TrimSpace(idea)
	n := len([]rune(idea))
	switch {
	case n == 0:
		return idea, &ValidationError{Field: "business_idea", Message: "Business idea cannot be empty"}
	case n < minIdeaLength:
		return idea, &ValidationError{Field: "business_idea", Message: "Business idea too short. Please provide more details (minimum 10 characters)"}
	case n > maxIdeaLength:
		return idea, &ValidationError{Field: "business_idea", Message: "Business idea too long. Please keep it under 1000 characters"}
	}
	return idea, nil
}

func discoveryEntry(idea string) cache.Entry {
	sum := md5.Sum([]byte(idea))
	return cache.Entry{Competitor: "discovery:" + hex.EncodeToString(sum[:])}
}

// Run executes the discovery workflow. The returned result is never nil.
// Weak analyst or writer output falls back to text built from the research;
// weak research fails the run.
func (d *Discoverer) Run(ctx context.Context, idea string, emit stream.Emitter) (*DiscoveryResult, error) {
	if emit == nil {
		emit = stream.Discard
	}

	idea, err := ValidateIdea(idea)
	if err != nil {
		return d.failed(idea, err, ""), err
	}

	key := discoveryEntry(idea)
	if d.store != nil {
		var cached DiscoveryResult
		hit := d.store.GetAnalysis(ctx, key, &cached)
		if d.observer != nil {
			d.observer.CacheLookup(ctx, "discovery", hit)
		}
		if hit {
			emit(stream.Status("cache_hit", "Found cached competitor discovery for similar business idea"))
			return &cached, nil
		}
	}

	emit(stream.Status("start", "Starting competitor discovery for business idea"))
	usage := &Usage{}

	emit(stream.Status("research_start", "Discovery researcher searching across multiple platforms..."))
	var sources string
	if d.researcher != nil {
		sources = research.Format(d.researcher.Collect(ctx, research.Target{Idea: idea}, emit))
	}
	findings, err := d.ask(ctx, prompt.DiscoverySystem(prompt.StageResearcher),
		prompt.DiscoveryResearchTask(prompt.Task{Idea: idea, Sources: sources}), usage)
	if err == nil && len(findings) < minResearchLength {
		err = errors.New("research findings too limited - insufficient competitor data found")
	}
	if err != nil {
		msg := fmt.Sprintf("Research phase failed: %v", err)
		emit(stream.Status("research_error", msg))
		zap.L().Error("discovery research failed", zap.Error(err))
		return d.failed(idea, errors.New(msg), "Research phase failed - unable to gather competitor data"), err
	}
	emit(stream.Status("research_complete", "Discovery research complete - found potential competitors"))

	emit(stream.Status("analysis_start", "Discovery analyst analyzing competitive landscape..."))
	analysis, err := d.ask(ctx, prompt.DiscoverySystem(prompt.StageAnalyst),
		prompt.DiscoveryAnalysisTask(prompt.Task{Idea: idea, Findings: findings}), usage)
	if err == nil && len(analysis) < minAnalysisLength {
		err = errors.New("analysis results too limited - insufficient strategic insights")
	}
	if err != nil {
		msg := fmt.Sprintf("Analysis phase failed: %v", err)
		emit(stream.Status("analysis_error", msg))
		analysis = prompt.AnalysisFallback(msg, findings)
		emit(stream.Status("analysis_fallback", "Continuing with basic analysis"))
		zap.L().Warn("discovery analysis fell back", zap.Error(err))
	} else {
		emit(stream.Status("analysis_complete", "Competitive landscape analysis complete"))
	}

	emit(stream.Status("report_start", "Discovery writer generating strategic insights report..."))
	report, err := d.ask(ctx, prompt.DiscoverySystem(prompt.StageWriter),
		prompt.DiscoveryReportTask(prompt.Task{Idea: idea, Findings: findings, Analysis: analysis}), usage)
	if err == nil && len(report) < minReportLength {
		err = errors.New("final report too brief - insufficient content generated")
	}
	if err != nil {
		msg := fmt.Sprintf("Report generation failed: %v", err)
		emit(stream.Status("writer_error", msg))
		report = prompt.ReportFallback(idea, findings, analysis, msg)
		emit(stream.Status("report_fallback", "Generated fallback report"))
		zap.L().Warn("discovery report fell back", zap.Error(err))
	} else {
		emit(stream.Status("complete", "Competitor discovery complete!"))
	}

	result := &DiscoveryResult{
		BusinessIdea:        idea,
		CompetitorsFound:    findings,
		CompetitiveAnalysis: analysis,
		DiscoveryReport:     report,
		Timestamp:           d.now(),
		Status:              StatusSuccess,
		Workflow:            discoveryWorkflow,
		Usage:               usage,
	}

	if d.store != nil && d.store.SetAnalysis(ctx, key, result) {
		emit(stream.Status("cache_stored", "Discovery results cached for future use"))
	}
	return result, nil
}

func (d *Discoverer) failed(idea string, err error, found string) *DiscoveryResult {
	return &DiscoveryResult{
		BusinessIdea:     idea,
		CompetitorsFound: found,
		Timestamp:        d.now(),
		Status:           StatusError,
		Workflow:         discoveryWorkflow,
		Error:            err.Error(),
	}
}
