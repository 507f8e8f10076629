// Package knowledge stores finished analyses in an embedded vector database
// and answers questions over them.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/prompt"
	"github.com/cexll/ci-agent/internal/provider"
)

const (
	collectionName   = "competitive_intelligence"
	manifestFile     = "competitors.json"
	defaultCacheSize = 100
	defaultTopK      = 3

	answerTemperature = 0.1
	answerMaxTokens   = 2000

	emptyAnswer = "No competitive intelligence has been stored yet. Run an analysis first to build the knowledge base."
)

// ErrKnowledgeUnavailable is returned by every method of a nil *Base
var ErrKnowledgeUnavailable = errors.New("RAG system not available")

// Config configures the knowledge base
type Config struct {
	// Dir persists documents when set; empty keeps everything in memory.
	Dir            string
	QueryCacheSize int
	TopK           int
	// EmbeddingModel is reported by Stats only.
	EmbeddingModel string
}

// Base is the competitive intelligence knowledge base
type Base struct {
	cfg     Config
	llm     provider.Provider
	db      *chromem.DB
	col     *chromem.Collection
	queries *lru.Cache

	mu          sync.Mutex
	competitors map[string]*competitorEntry
}

type competitorEntry struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// New opens the knowledge base. llm embeds documents and writes answers.
func New(cfg Config, llm provider.Provider) (*Base, error) {
	if llm == nil {
		return nil, errors.New("knowledge base requires an LLM provider")
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = defaultCacheSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}

	db := chromem.NewDB()
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.Dir, "chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, chromem.EmbeddingFunc(llm.Embed))
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	queries, err := lru.New(cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	b := &Base{
		cfg:         cfg,
		llm:         llm,
		db:          db,
		col:         col,
		queries:     queries,
		competitors: make(map[string]*competitorEntry),
	}
	if err := b.loadManifest(); err != nil {
		return nil, err
	}

	zap.L().Info("knowledge base ready",
		zap.String("dir", cfg.Dir),
		zap.Int("documents", col.Count()))
	return b, nil
}

func competitorKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Ingest stores the research, analysis, report and metrics of a successful
// result as separate documents. It returns the number of documents added.
func (b *Base) Ingest(ctx context.Context, r *intel.Result) (int, error) {
	if b == nil {
		return 0, ErrKnowledgeUnavailable
	}
	if !r.Succeeded() {
		return 0, errors.New("only successful analyses can be stored")
	}

	docs := documents(r)
	if len(docs) == 0 {
		return 0, nil
	}
	if err := b.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("store %s: %w", r.Competitor, err)
	}

	if err := b.record(r.Competitor, len(docs)); err != nil {
		zap.L().Warn("failed to write knowledge manifest", zap.Error(err))
	}
	// stored answers no longer reflect everything that is known
	b.queries.Purge()

	zap.L().Info("analysis stored in knowledge base",
		zap.String("competitor", r.Competitor),
		zap.Int("documents", len(docs)))
	return len(docs), nil
}

func documents(r *intel.Result) []chromem.Document {
	base := map[string]string{
		"competitor":     r.Competitor,
		"competitor_key": competitorKey(r.Competitor),
		"timestamp":      r.Timestamp.Format(time.RFC3339),
		"website":        r.Website,
	}
	doc := func(kind, source, content string) chromem.Document {
		meta := make(map[string]string, len(base)+2)
		for k, v := range base {
			meta[k] = v
		}
		meta["type"] = kind
		meta["source"] = source
		return chromem.Document{ID: ulid.Make().String(), Metadata: meta, Content: content}
	}

	var docs []chromem.Document
	if r.ResearchFindings != "" {
		docs = append(docs, doc("research_findings", "research_agent", r.ResearchFindings))
	}
	if r.StrategicAnalysis != "" {
		docs = append(docs, doc("strategic_analysis", "analyst_agent", r.StrategicAnalysis))
	}
	if r.FinalReport != "" {
		docs = append(docs, doc("final_report", "writer_agent", r.FinalReport))
	}
	if r.Metrics != nil && !r.Metrics.Empty() {
		if raw, err := json.MarshalIndent(r.Metrics, "", "  "); err == nil {
			docs = append(docs, doc("metrics", "metrics_extraction",
				fmt.Sprintf("Competitive Metrics for %s:\n%s", r.Competitor, raw)))
		}
	}
	return docs
}

// Query answers a natural language question. A non-empty competitor limits
// retrieval to that competitor's documents. cached reports whether the answer
// came from the query cache.
func (b *Base) Query(ctx context.Context, query, competitor string) (answer string, cached bool, err error) {
	if b == nil {
		return "", false, ErrKnowledgeUnavailable
	}
	query = strings.TrimSpace(query)
	competitor = strings.TrimSpace(competitor)
	if query == "" {
		return "", false, errors.New("query cannot be empty")
	}

	key := queryCacheKey(query, competitor)
	// Peek leaves recency untouched so eviction stays first in, first out
	if v, ok := b.queries.Peek(key); ok {
		zap.L().Debug("knowledge query cache hit", zap.String("query", query))
		return v.(string), true, nil
	}

	answer, stored, err := b.answer(ctx, query, competitor)
	if err != nil {
		return "", false, err
	}
	if stored {
		b.queries.Add(key, answer)
	}
	return answer, false, nil
}

func queryCacheKey(query, competitor string) string {
	if competitor == "" {
		competitor = "all"
	}
	return query + "|" + competitor
}

// answer retrieves context and asks the LLM. stored is false when nothing
// was retrieved and the fixed empty answer is returned.
func (b *Base) answer(ctx context.Context, query, competitor string) (string, bool, error) {
	available := b.col.Count()
	text := query
	var where map[string]string
	if competitor != "" {
		available = b.documentCount(competitor)
		text = fmt.Sprintf("For competitor %s: %s", competitor, query)
		where = map[string]string{"competitor_key": competitorKey(competitor)}
	}
	if available == 0 {
		if competitor != "" {
			return fmt.Sprintf("No competitive intelligence has been stored for %s yet.", competitor), false, nil
		}
		return emptyAnswer, false, nil
	}

	vec, err := b.llm.Embed(ctx, text)
	if err != nil {
		return "", false, fmt.Errorf("embed query: %w", err)
	}
	results, err := b.col.QueryEmbedding(ctx, vec, min(b.cfg.TopK, available), where, nil)
	if err != nil {
		return "", false, fmt.Errorf("search knowledge base: %w", err)
	}

	contexts := make([]prompt.Context, 0, len(results))
	for _, r := range results {
		contexts = append(contexts, prompt.Context{
			Competitor: r.Metadata["competitor"],
			Type:       r.Metadata["type"],
			Timestamp:  r.Metadata["timestamp"],
			Content:    r.Content,
		})
	}

	resp, err := b.llm.Generate(ctx, provider.Request{
		System:      prompt.RAGSystem(),
		Prompt:      prompt.RAGAnswer(text, contexts),
		Temperature: provider.Temperature(answerTemperature),
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return "", false, fmt.Errorf("synthesise answer: %w", err)
	}
	return strings.TrimSpace(resp.Text), true, nil
}

// Summary holds the answers behind a competitor summary
type Summary struct {
	Competitor string            `json:"competitor"`
	Insights   map[string]string `json:"insights"`
}

// CompetitorSummary asks the overview, strengths, threats and recent
// developments questions for one competitor.
func (b *Base) CompetitorSummary(ctx context.Context, competitor string) (*Summary, error) {
	if b == nil {
		return nil, ErrKnowledgeUnavailable
	}
	s := &Summary{Competitor: competitor, Insights: make(map[string]string)}
	for _, aspect := range prompt.SummaryAspects(competitor) {
		answer, _, err := b.Query(ctx, aspect[1], competitor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", aspect[0], err)
		}
		s.Insights[aspect[0]] = answer
	}
	return s, nil
}

// MarketLandscape analyses everything stored that relates to keywords
func (b *Base) MarketLandscape(ctx context.Context, keywords []string) (string, error) {
	answer, _, err := b.Query(ctx, prompt.MarketLandscapeQuery(keywords), "")
	return answer, err
}

// HistoricalContext summarises earlier analyses of competitor
func (b *Base) HistoricalContext(ctx context.Context, competitor string) (string, error) {
	answer, _, err := b.Query(ctx, prompt.HistoricalQuery(competitor), competitor)
	return answer, err
}

// Benchmark compares competitor with the other stored companies
func (b *Base) Benchmark(ctx context.Context, competitor string) (string, error) {
	answer, _, err := b.Query(ctx, prompt.BenchmarkQuery(competitor), "")
	return answer, err
}

// EnrichResearch appends historical context when the competitor has been
// analysed before. ok is false when findings are returned unchanged.
func (b *Base) EnrichResearch(ctx context.Context, competitor, findings string) (string, bool) {
	if b == nil || b.documentCount(competitor) == 0 {
		return findings, false
	}
	history, err := b.HistoricalContext(ctx, competitor)
	if err != nil {
		zap.L().Warn("historical context failed", zap.String("competitor", competitor), zap.Error(err))
		return findings, false
	}
	return prompt.EnrichResearch(findings, history), true
}

// EnrichAnalysis appends the market landscape for keywords and a benchmark
// against stored competitors.
func (b *Base) EnrichAnalysis(ctx context.Context, competitor, analysis string, keywords []string) (string, bool) {
	if b == nil || len(keywords) == 0 || b.col.Count() == 0 {
		return analysis, false
	}
	market, err := b.MarketLandscape(ctx, keywords)
	if err != nil {
		zap.L().Warn("market landscape failed", zap.Error(err))
		return analysis, false
	}
	benchmark, err := b.Benchmark(ctx, competitor)
	if err != nil {
		zap.L().Warn("benchmark failed", zap.String("competitor", competitor), zap.Error(err))
		return analysis, false
	}
	return prompt.EnrichAnalysis(analysis, market, benchmark), true
}

// ClearQueryCache empties the query cache and returns how many answers it held
func (b *Base) ClearQueryCache() int {
	if b == nil {
		return 0
	}
	n := b.queries.Len()
	b.queries.Purge()
	return n
}

// Stats describes the knowledge base
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	Competitors    map[string]int `json:"competitors"`
	StoragePath    string         `json:"storage_path"`
	EmbeddingModel string         `json:"embedding_model"`
	LLMModel       string         `json:"llm_model"`
	QueryCacheSize int            `json:"query_cache_size"`
	CacheMaxSize   int            `json:"cache_max_size"`
}

// Stats returns document counts per competitor and cache usage
func (b *Base) Stats() (*Stats, error) {
	if b == nil {
		return nil, ErrKnowledgeUnavailable
	}
	s := &Stats{
		TotalDocuments: b.col.Count(),
		Competitors:    make(map[string]int),
		StoragePath:    b.cfg.Dir,
		EmbeddingModel: b.cfg.EmbeddingModel,
		LLMModel:       b.llm.Model(),
		QueryCacheSize: b.queries.Len(),
		CacheMaxSize:   b.cfg.QueryCacheSize,
	}
	if s.StoragePath == "" {
		s.StoragePath = "memory"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.competitors {
		s.Competitors[c.Name] = c.Documents
	}
	return s, nil
}

func (b *Base) documentCount(competitor string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.competitors[competitorKey(competitor)]; ok {
		return c.Documents
	}
	return 0
}

// record counts documents per competitor. chromem cannot list documents,
// so the counts are kept alongside the collection.
func (b *Base) record(competitor string, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := competitorKey(competitor)
	c, ok := b.competitors[key]
	if !ok {
		c = &competitorEntry{Name: strings.TrimSpace(competitor)}
		b.competitors[key] = c
	}
	c.Documents += n

	if b.cfg.Dir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(b.competitors, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(b.cfg.Dir, manifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *Base) loadManifest() error {
	if b.cfg.Dir == "" {
		return nil
	}
	raw, err := os.ReadFile(filepath.Join(b.cfg.Dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read knowledge manifest: %w", err)
	}
	if err := json.Unmarshal(raw, &b.competitors); err != nil {
		return fmt.Errorf("parse knowledge manifest: %w", err)
	}
	return nil
}
