// Package prompt renders the system and task prompts for the research,
// analysis and report stages.
package prompt

import (
	"fmt"
	"strings"
)

// Stage identifies one agent in the pipeline
type Stage string

const (
	StageResearcher Stage = "researcher"
	StageAnalyst    Stage = "analyst"
	StageWriter     Stage = "writer"
)

// fallbackExcerpt is how much research text the analysis fallback quotes
const fallbackExcerpt = 500

// System returns the system prompt for stage in mode ("simple" or "deep")
func System(stage Stage, mode string) string {
	if mode != "deep" {
		mode = "simple"
	}
	return render(string(stage)+"_"+mode, nil)
}

// DiscoverySystem returns the system prompt for a discovery stage
func DiscoverySystem(stage Stage) string {
	return render("discovery_"+string(stage), nil)
}

// Task carries the inputs of one task prompt
type Task struct {
	Competitor string
	Website    string
	Idea       string
	Deep       bool
	Sources    string
	Findings   string
	Analysis   string
}

// ResearchTask builds the researcher request
func ResearchTask(t Task) string { return render("research_task", t) }

// AnalysisTask builds the analyst request
func AnalysisTask(t Task) string { return render("analysis_task", t) }

// ReportTask builds the writer request
func ReportTask(t Task) string { return render("report_task", t) }

// DiscoveryResearchTask builds the discovery researcher request
func DiscoveryResearchTask(t Task) string { return render("discovery_research_task", t) }

// DiscoveryAnalysisTask builds the discovery analyst request
func DiscoveryAnalysisTask(t Task) string { return render("discovery_analysis_task", t) }

// DiscoveryReportTask builds the discovery writer request
func DiscoveryReportTask(t Task) string { return render("discovery_report_task", t) }

// AnalysisFallback is used when the discovery analyst produced nothing usable
func AnalysisFallback(errMsg, findings string) string {
	excerpt := findings
	if r := []rune(findings); len(r) > fallbackExcerpt {
		excerpt = string(r[:fallbackExcerpt])
	}
	return render("analysis_fallback", map[string]string{"Error": errMsg, "Excerpt": excerpt})
}

// ReportFallback is used when the discovery writer produced nothing usable
func ReportFallback(idea, findings, analysis, errMsg string) string {
	return render("report_fallback", map[string]string{
		"Idea":     idea,
		"Findings": findings,
		"Analysis": analysis,
		"Error":    errMsg,
	})
}

// Context is one retrieved knowledge excerpt
type Context struct {
	Competitor string
	Type       string
	Timestamp  string
	Content    string
}

// RAGSystem returns the system prompt for knowledge base answers
func RAGSystem() string { return render("rag_system", nil) }

// RAGAnswer builds the answer synthesis request from retrieved excerpts
func RAGAnswer(query string, contexts []Context) string {
	return render("rag_answer", map[string]any{"Query": query, "Contexts": contexts})
}

// HistoricalQuery asks the knowledge base what is already known about a competitor
func HistoricalQuery(competitor string) string {
	return fmt.Sprintf("What do we know about %s from previous analyses? Provide historical context and trends.", competitor)
}

// BenchmarkQuery compares a competitor with the rest of the knowledge base
func BenchmarkQuery(competitor string) string {
	return fmt.Sprintf("How does %s compare to other companies in our competitive intelligence database?", competitor)
}

// MarketLandscapeQuery asks for a landscape across industry keywords
func MarketLandscapeQuery(keywords []string) string {
	return fmt.Sprintf("Based on competitive intelligence data, provide a market landscape analysis for companies related to: %s. Include key players, trends, and competitive dynamics.",
		strings.Join(keywords, ", "))
}

// SummaryAspects lists the questions behind a competitor summary, in display order
func SummaryAspects(competitor string) [][2]string {
	return [][2]string{
		{"overview", fmt.Sprintf("What is the business model and market position of %s?", competitor)},
		{"strengths", fmt.Sprintf("What are the main strengths and competitive advantages of %s?", competitor)},
		{"threats", fmt.Sprintf("What competitive threats does %s pose?", competitor)},
		{"recent_developments", fmt.Sprintf("What are the recent developments and news about %s?", competitor)},
	}
}

// EnrichResearch appends historical knowledge to fresh research
func EnrichResearch(findings, history string) string {
	return render("enriched_research", map[string]string{"Findings": findings, "History": history})
}

// EnrichAnalysis appends market landscape and benchmarking to an analysis
func EnrichAnalysis(analysis, market, benchmark string) string {
	return render("enriched_analysis", map[string]string{
		"Analysis":  analysis,
		"Market":    market,
		"Benchmark": benchmark,
	})
}
