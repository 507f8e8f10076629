// Package cache stores analysis, research and LLM results in Redis.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheDisabled is returned by operations that need a live connection
var ErrCacheDisabled = errors.New("redis cache is disabled")

const (
	keyPrefix = "ci"

	prefixAnalysis = "analysis"
	prefixResearch = "research"
	prefixLLM      = "gemini"
	prefixIndex    = "index"
)

// Config holds connection and TTL settings
type Config struct {
	URL      string
	Addr     string
	Password string
	DB       int

	DefaultTTL  time.Duration
	AnalysisTTL time.Duration
	ResearchTTL time.Duration
	LLMTTL      time.Duration
}

// Cache wraps a Redis client. A nil client means the cache is disabled and
// every lookup misses.
type Cache struct {
	client *redis.Client
	cfg    Config
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	CachedAt string          `json:"cached_at"`
	TTL      int             `json:"ttl"`
}

// Stats describes the cache for /cache/stats
type Stats struct {
	Connected  bool           `json:"connected"`
	KeyCounts  map[string]int `json:"key_counts,omitempty"`
	TotalKeys  int            `json:"total_keys"`
	UsedMemory string         `json:"used_memory,omitempty"`
	TTLConfig  map[string]int `json:"ttl_config"`
	Error      string         `json:"error,omitempty"`
}

// New connects to Redis. Connection failures are logged and yield a disabled cache.
func New(ctx context.Context, cfg Config) *Cache {
	c := &Cache{cfg: cfg}

	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			zap.L().Warn("invalid REDIS_URL, cache disabled", zap.Error(err))
			return c
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zap.L().Warn("redis unavailable, cache disabled", zap.String("addr", opts.Addr), zap.Error(err))
		_ = client.Close()
		return c
	}

	zap.L().Info("redis cache connected", zap.String("addr", opts.Addr))
	c.client = client
	return c
}

// Disabled returns a cache that never stores anything
func Disabled() *Cache {
	return &Cache{}
}

// Enabled reports whether the cache has a live connection
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Close releases the connection
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// makeKey hashes payload into ci:{prefix}:{md5}. Maps are encoded as JSON,
// which sorts keys, so equal parameter sets produce equal keys.
func makeKey(prefix string, payload any) string {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			raw = []byte(fmt.Sprint(v))
		} else {
			raw = b
		}
	}
	sum := md5.Sum(raw)
	return fmt.Sprintf("%s:%s:%s", keyPrefix, prefix, hex.EncodeToString(sum[:]))
}

func indexKey(competitor string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, prefixIndex, normalize(competitor))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c *Cache) get(ctx context.Context, key string, out any) bool {
	if !c.Enabled() {
		return false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		zap.L().Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		zap.L().Warn("cache entry has unexpected shape", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration, competitor string) bool {
	if !c.Enabled() {
		return false
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		zap.L().Warn("cache value not serialisable", zap.String("key", key), zap.Error(err))
		return false
	}
	raw, err := json.Marshal(envelope{
		Data:     data,
		CachedAt: time.Now().UTC().Format(time.RFC3339),
		TTL:      int(ttl.Seconds()),
	})
	if err != nil {
		return false
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, raw, ttl)
	if competitor != "" {
		idx := indexKey(competitor)
		pipe.SAdd(ctx, idx, key)
		// the index outlives the longest entry it points at
		pipe.Expire(ctx, idx, c.longestTTL())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) longestTTL() time.Duration {
	longest := c.cfg.DefaultTTL
	for _, d := range []time.Duration{c.cfg.AnalysisTTL, c.cfg.ResearchTTL} {
		if d > longest {
			longest = d
		}
	}
	return longest
}

// Entry identifies a cached analysis or research result. Variant separates
// results for the same competitor, such as analysis modes.
type Entry struct {
	Competitor string
	Variant    string
	Website    string
}

func (e Entry) payload() map[string]string {
	return map[string]string{
		"competitor": normalize(e.Competitor),
		"variant":    e.Variant,
		"website":    strings.TrimSpace(e.Website),
	}
}

// GetAnalysis loads a cached analysis result into out
func (c *Cache) GetAnalysis(ctx context.Context, e Entry, out any) bool {
	return c.get(ctx, makeKey(prefixAnalysis, e.payload()), out)
}

// SetAnalysis stores an analysis result
func (c *Cache) SetAnalysis(ctx context.Context, e Entry, result any) bool {
	return c.set(ctx, makeKey(prefixAnalysis, e.payload()), result, c.cfg.AnalysisTTL, e.Competitor)
}

// GetResearch loads cached research into out
func (c *Cache) GetResearch(ctx context.Context, e Entry, out any) bool {
	return c.get(ctx, makeKey(prefixResearch, e.payload()), out)
}

// SetResearch stores research output
func (c *Cache) SetResearch(ctx context.Context, e Entry, data any) bool {
	return c.set(ctx, makeKey(prefixResearch, e.payload()), data, c.cfg.ResearchTTL, e.Competitor)
}

func llmKey(prompt string, params map[string]any) string {
	payload := map[string]any{"prompt": prompt}
	for k, v := range params {
		payload[k] = v
	}
	return makeKey(prefixLLM, payload)
}

// GetLLMResponse returns a cached generation for prompt and params
func (c *Cache) GetLLMResponse(ctx context.Context, prompt string, params map[string]any) (string, bool) {
	var text string
	ok := c.get(ctx, llmKey(prompt, params), &text)
	return text, ok
}

// SetLLMResponse stores a generation
func (c *Cache) SetLLMResponse(ctx context.Context, prompt string, params map[string]any, text string) bool {
	return c.set(ctx, llmKey(prompt, params), text, c.cfg.LLMTTL, "")
}

// ClearCompetitor deletes every analysis and research entry written for competitor
func (c *Cache) ClearCompetitor(ctx context.Context, competitor string) (int, error) {
	if !c.Enabled() {
		return 0, ErrCacheDisabled
	}

	idx := indexKey(competitor)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("read competitor index: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete competitor keys: %w", err)
	}
	if err := c.client.Del(ctx, idx).Err(); err != nil {
		zap.L().Warn("failed to drop competitor index", zap.String("competitor", competitor), zap.Error(err))
	}

	zap.L().Info("cleared competitor cache", zap.String("competitor", competitor), zap.Int64("deleted", deleted))
	return int(deleted), nil
}

// Stats reports key counts per prefix and server memory
func (c *Cache) Stats(ctx context.Context) Stats {
	stats := Stats{
		Connected: c.Enabled(),
		TTLConfig: map[string]int{
			"default":  int(c.cfg.DefaultTTL.Seconds()),
			"analysis": int(c.cfg.AnalysisTTL.Seconds()),
			"research": int(c.cfg.ResearchTTL.Seconds()),
			"gemini":   int(c.cfg.LLMTTL.Seconds()),
		},
	}
	if !c.Enabled() {
		stats.Error = ErrCacheDisabled.Error()
		return stats
	}

	stats.KeyCounts = map[string]int{}
	iter := c.client.Scan(ctx, 0, keyPrefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		parts := strings.SplitN(iter.Val(), ":", 3)
		if len(parts) < 2 {
			continue
		}
		stats.KeyCounts[parts[1]]++
		stats.TotalKeys++
	}
	if err := iter.Err(); err != nil {
		stats.Error = err.Error()
		return stats
	}

	// INFO is optional; some Redis-compatible servers reject it
	if info, err := c.client.Info(ctx, "memory").Result(); err == nil {
		stats.UsedMemory = parseInfoField(info, "used_memory_human")
	}
	return stats
}

func parseInfoField(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, field+":"); ok {
			return v
		}
	}
	return ""
}
