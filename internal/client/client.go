// Package client calls the competitive intelligence API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cexll/ci-agent/internal/catalog"
	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/intel"
	"github.com/cexll/ci-agent/internal/stream"
)

// APIError is a non-2xx response
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Detail)
}

// Client talks to one server
type Client struct {
	base     string
	token    string
	clientID string
	http     *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sends a bearer token on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithClientID sends an X-Client-ID header for credit accounting
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = strings.TrimSpace(id) }
}

// WithHTTPClient replaces the default client. Streaming calls need a client
// without an overall timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail string `json:"detail"`
	}
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &APIError{Status: resp.StatusCode, Detail: detail}
}

// Analyze runs an analysis and waits for the result
func (c *Client) Analyze(ctx context.Context, req intel.Request) (*intel.Result, error) {
	var res intel.Result
	if err := c.do(ctx, http.MethodPost, "/analyze/enhanced", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AnalyzeStream runs an analysis over SSE, calling onEvent for every event.
// It returns the final stream state; a failed run yields the state and an error.
func (c *Client) AnalyzeStream(ctx context.Context, req intel.Request, onEvent func(stream.Event, stream.State)) (stream.State, error) {
	return c.stream(ctx, "/analyze/enhanced/stream", req, onEvent)
}

// DiscoverStream runs competitor discovery over SSE
func (c *Client) DiscoverStream(ctx context.Context, idea string, onEvent func(stream.Event, stream.State)) (stream.State, error) {
	return c.stream(ctx, "/discover/stream", map[string]string{"business_idea": idea}, onEvent)
}

func (c *Client) stream(ctx context.Context, path string, body any, onEvent func(stream.Event, stream.State)) (stream.State, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return stream.State{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return stream.State{}, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return stream.State{}, err
	}

	if onEvent == nil {
		onEvent = func(stream.Event, stream.State) {}
	}
	state, err := stream.Consume(resp.Body, onEvent)
	if err != nil {
		return state, err
	}
	if state.Err != "" {
		return state, fmt.Errorf("run failed: %s", state.Err)
	}
	return state, nil
}

// Discover finds competitors for a business idea
func (c *Client) Discover(ctx context.Context, idea string) (*intel.DiscoveryResult, error) {
	var res intel.DiscoveryResult
	if err := c.do(ctx, http.MethodPost, "/discover", map[string]string{"business_idea": idea}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// QueryResult is the answer to a knowledge base question
type QueryResult struct {
	Query            string  `json:"query"`
	CompetitorFilter *string `json:"competitor_filter"`
	Response         string  `json:"response"`
	Status           string  `json:"status"`
	Cached           bool    `json:"cached"`
}

// Query asks the knowledge base. An empty competitor searches everything.
func (c *Client) Query(ctx context.Context, query, competitor string) (*QueryResult, error) {
	body := map[string]any{"query": query}
	if competitor != "" {
		body["competitor_filter"] = competitor
	}
	var res QueryResult
	if err := c.do(ctx, http.MethodPost, "/rag/query", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Modes lists the analysis modes and the default one
func (c *Client) Modes(ctx context.Context) (map[string]catalog.Mode, string, error) {
	var body struct {
		Modes   map[string]catalog.Mode `json:"modes"`
		Default string                  `json:"default"`
	}
	if err := c.do(ctx, http.MethodGet, "/analysis-modes", nil, &body); err != nil {
		return nil, "", err
	}
	return body.Modes, body.Default, nil
}

// Scenarios lists the demo scenarios
func (c *Client) Scenarios(ctx context.Context) ([]catalog.Scenario, error) {
	var body struct {
		Scenarios []catalog.Scenario `json:"scenarios"`
	}
	if err := c.do(ctx, http.MethodGet, "/demo-scenarios", nil, &body); err != nil {
		return nil, err
	}
	return body.Scenarios, nil
}

// Credits returns the caller's daily credit usage
func (c *Client) Credits(ctx context.Context) (credits.Stats, error) {
	var body struct {
		Credits credits.Stats `json:"credits"`
	}
	err := c.do(ctx, http.MethodGet, "/credits", nil, &body)
	return body.Credits, err
}

// SessionSummary is one entry of the session list
type SessionSummary struct {
	StartTime    string `json:"start_time"`
	Competitor   string `json:"competitor"`
	Status       string `json:"status"`
	AnalysisMode string `json:"analysis_mode"`
	Kind         string `json:"kind"`
	Source       string `json:"source,omitempty"`
}

// Sessions lists retained sessions by id
func (c *Client) Sessions(ctx context.Context) (map[string]SessionSummary, error) {
	var body struct {
		Sessions map[string]SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &body); err != nil {
		return nil, err
	}
	return body.Sessions, nil
}

// CompetitorSummary returns the stored insights for one competitor
func (c *Client) CompetitorSummary(ctx context.Context, competitor string) (map[string]string, error) {
	var body struct {
		Summary map[string]string `json:"summary"`
	}
	path := "/rag/competitors/" + url.PathEscape(competitor) + "/summary"
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Summary, nil
}
