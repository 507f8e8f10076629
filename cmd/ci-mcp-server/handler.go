package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/client"
	"github.com/cexll/ci-agent/internal/intel"
)

// intelAPI is the part of the API client the tools use
type intelAPI interface {
	Analyze(ctx context.Context, req intel.Request) (*intel.Result, error)
	Discover(ctx context.Context, idea string) (*intel.DiscoveryResult, error)
	Query(ctx context.Context, query, competitor string) (*client.QueryResult, error)
}

// AnalyzeParams defines the input of analyze_competitor
type AnalyzeParams struct {
	Competitor string `json:"competitor_name" jsonschema:"Name of the competitor to analyze"`
	Website    string `json:"competitor_website,omitempty" jsonschema:"Optional competitor website URL"`
	Mode       string `json:"analysis_mode,omitempty" jsonschema:"simple or deep, defaults to simple"`
}

// DiscoverParams defines the input of discover_competitors
type DiscoverParams struct {
	BusinessIdea string `json:"business_idea" jsonschema:"Description of the business idea, at least 10 characters"`
}

// QueryParams defines the input of query_knowledge_base
type QueryParams struct {
	Query      string `json:"query" jsonschema:"Question about stored competitive intelligence"`
	Competitor string `json:"competitor,omitempty" jsonschema:"Optional competitor name to restrict the search"`
}

type tools struct {
	api intelAPI
}

func (t *tools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_competitor",
		Description: "Run a competitor analysis and return the final report",
	}, t.analyze)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "discover_competitors",
		Description: "Find likely competitors for a business idea",
	}, t.discover)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_knowledge_base",
		Description: "Answer a question from previously stored analyses",
	}, t.query)
}

func (t *tools) analyze(ctx context.Context, _ *mcp.CallToolRequest, params AnalyzeParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Competitor) == "" {
		return nil, nil, errors.New("competitor_name parameter is required")
	}
	mode, err := intel.ParseMode(params.Mode)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("analyze_competitor called", zap.String("competitor", params.Competitor), zap.String("mode", string(mode)))
	res, err := t.api.Analyze(ctx, intel.Request{Competitor: params.Competitor, Website: params.Website, Mode: mode})
	if err != nil {
		return toolError(err), nil, nil
	}
	return text(res.FinalReport), nil, nil
}

func (t *tools) discover(ctx context.Context, _ *mcp.CallToolRequest, params DiscoverParams) (*mcp.CallToolResult, any, error) {
	idea, err := intel.ValidateIdea(params.BusinessIdea)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("discover_competitors called", zap.Int("idea_length", len(idea)))
	res, err := t.api.Discover(ctx, idea)
	if err != nil {
		return toolError(err), nil, nil
	}
	return text(res.DiscoveryReport), nil, nil
}

func (t *tools) query(ctx context.Context, _ *mcp.CallToolRequest, params QueryParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, nil, errors.New("query parameter is required")
	}

	res, err := t.api.Query(ctx, params.Query, strings.TrimSpace(params.Competitor))
	if err != nil {
		return toolError(err), nil, nil
	}
	payload, err := json.MarshalIndent(map[string]any{
		"response": res.Response,
		"cached":   res.Cached,
	}, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return text(string(payload)), nil, nil
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

// toolError reports API failures as tool output so the model can react
func toolError(err error) *mcp.CallToolResult {
	zap.L().Warn("tool call failed", zap.Error(err))
	res := text(fmt.Sprintf("Error: %v", err))
	res.IsError = true
	return res
}
