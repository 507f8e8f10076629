package intel

import "time"

const (
	StatusSuccess = "success"
	StatusError   = "error"

	discoveryWorkflow = "competitor_discovery"
)

// Usage totals LLM tokens across the stages of one run
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedCalls      int `json:"cached_calls,omitempty"`
}

// Result is the outcome of one competitor analysis
type Result struct {
	Competitor        string    `json:"competitor"`
	Website           string    `json:"website,omitempty"`
	ResearchFindings  string    `json:"research_findings,omitempty"`
	StrategicAnalysis string    `json:"strategic_analysis,omitempty"`
	FinalReport       string    `json:"final_report,omitempty"`
	Metrics           *Metrics  `json:"metrics,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Status            string    `json:"status"`
	Workflow          string    `json:"workflow"`
	AnalysisMode      Mode      `json:"analysis_mode"`
	RAGStored         bool      `json:"rag_stored,omitempty"`
	IndustryKeywords  []string  `json:"industry_keywords,omitempty"`
	Usage             *Usage    `json:"usage,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Succeeded reports whether the workflow finished
func (r *Result) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

// DiscoveryResult is the outcome of one competitor discovery run
type DiscoveryResult struct {
	BusinessIdea        string    `json:"business_idea"`
	CompetitorsFound    string    `json:"competitors_found,omitempty"`
	CompetitiveAnalysis string    `json:"competitive_analysis,omitempty"`
	DiscoveryReport     string    `json:"discovery_report,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	Status              string    `json:"status"`
	Workflow            string    `json:"workflow"`
	Usage               *Usage    `json:"usage,omitempty"`
	Error               string    `json:"error,omitempty"`
}

// Succeeded reports whether the workflow finished
func (r *DiscoveryResult) Succeeded() bool { return r != nil && r.Status == StatusSuccess }
