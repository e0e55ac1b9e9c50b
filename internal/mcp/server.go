// Package mcp exposes the orchestrator's search operation as a single
// JSON-RPC-over-stdio tool, built on the official MCP SDK
// (github.com/modelcontextprotocol/go-sdk).
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aman-cerp/codesearch/internal/config"
	"github.com/aman-cerp/codesearch/internal/orchestrator"
	"github.com/aman-cerp/codesearch/internal/resultfmt"
	"github.com/aman-cerp/codesearch/pkg/version"
)

// SearchInput is the tool's input schema: { query: string (required),
// repository_path: string (optional, default = process cwd) }.
type SearchInput struct {
	Query          string `json:"query" jsonschema:"the natural-language or code search query"`
	RepositoryPath string `json:"repository_path,omitempty" jsonschema:"repository root to search, default is the server's current working directory"`
}

// SearchOutput carries the same textual listing rendered into the tool's
// content, so structured-output-aware clients can read it directly too.
type SearchOutput struct {
	Results string `json:"results" jsonschema:"textual listing of ranked results"`
}

// Server bridges one Orchestrator to the MCP tool surface. One Server
// serves many requests; the Orchestrator keeps Store handles open across
// them for the server lifetime.
type Server struct {
	orch *orchestrator.Orchestrator
	cfg  *config.Config
	mcp  *mcp.Server
}

// NewServer builds the server and registers its one tool.
func NewServer(orch *orchestrator.Orchestrator, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		orch: orch,
		cfg:  cfg,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "codesearch",
		Version: version.Version,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the indexed codebase for code and documentation relevant to a natural-language or code query, ranked by dense-vector similarity with lexical boosting.",
	}, s.handleSearch)

	return s
}

// Run serves the tool over stdio until ctx is cancelled or the transport
// closes.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp_server_start")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		slog.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	slog.Info("mcp_server_stopped")
	return nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	root := input.RepositoryPath
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return errorResult(fmt.Errorf("resolving working directory: %w", err)), SearchOutput{}, nil
		}
	}

	results, err := s.orch.Search(ctx, root, input.Query, s.cfg.MaxLines, s.cfg.Excludes, s.cfg.Limit)
	if err != nil {
		return errorResult(err), SearchOutput{}, nil
	}

	text := resultfmt.Format(input.Query, results)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, SearchOutput{Results: text}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
