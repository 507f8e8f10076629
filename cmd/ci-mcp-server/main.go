package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/client"
)

const version = "v1.0.0"

func main() {
	// stdout carries the protocol, so logs go to stderr
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	baseURL := os.Getenv("CI_SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	api := client.New(baseURL,
		client.WithToken(os.Getenv("CI_TOKEN")),
		client.WithClientID(os.Getenv("CI_CLIENT_ID")))

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "competitive-intelligence",
		Version: version,
	}, nil)
	(&tools{api: api}).register(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().Info("MCP server starting on stdio", zap.String("api", baseURL))
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		zap.L().Fatal("MCP server error", zap.Error(err))
	}
	zap.L().Info("MCP server stopped")
}
