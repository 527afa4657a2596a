package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"scicache-backend/internal/models"
	"scicache-backend/internal/projector"
	"scicache-backend/internal/resolver"
	"scicache-backend/internal/search"
)

// SimpleMCPServer exposes the caching proxy's read surface as MCP tools,
// so agent clients resolve papers through the same tiered path as HTTP
// callers.
type SimpleMCPServer struct {
	server            *server.MCPServer
	paperResolver     resolver.Resolver
	searchCoordinator search.Coordinator
	logger            *slog.Logger
}

// NewSimpleMCPServer creates a simple MCP server
func NewSimpleMCPServer(
	paperResolver resolver.Resolver,
	searchCoordinator search.Coordinator,
	logger *slog.Logger,
) *SimpleMCPServer {
	mcpServer := server.NewMCPServer(
		"SciCache Backend",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &SimpleMCPServer{
		server:            mcpServer,
		paperResolver:     paperResolver,
		searchCoordinator: searchCoordinator,
		logger:            logger,
	}

	s.registerSimpleTools()
	return s
}

// registerSimpleTools adds basic MCP tools
func (s *SimpleMCPServer) registerSimpleTools() {
	getPaperTool := mcp.NewTool("get_paper",
		mcp.WithDescription("Resolve a paper by canonical id or prefixed alias (DOI:, ARXIV:, ...)"),
		mcp.WithString("ref", mcp.Required()),
		mcp.WithString("fields"),
	)
	s.server.AddTool(getPaperTool, s.handleGetPaper)

	searchTool := mcp.NewTool("search",
		mcp.WithDescription("Search scholarly papers"),
		mcp.WithString("query", mcp.Required()),
	)
	s.server.AddTool(searchTool, s.handleSearch)

	citationsTool := mcp.NewTool("get_citations",
		mcp.WithDescription("List papers citing the given paper"),
		mcp.WithString("ref", mcp.Required()),
	)
	s.server.AddTool(citationsTool, s.handleGetCitations)

	s.logger.Info("Registered 3 MCP tools: get_paper, search, get_citations")
}

func (s *SimpleMCPServer) handleGetPaper(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	argsMap, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	ref, ok := argsMap["ref"].(string)
	if !ok || ref == "" {
		return mcp.NewToolResultError("ref parameter required"), nil
	}
	fieldExpr, _ := argsMap["fields"].(string)

	record, err := s.paperResolver.GetPaper(ctx, ref, projector.Parse(fieldExpr))
	if err != nil {
		s.logger.Error("MCP get paper failed",
			slog.String("ref", ref),
			slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("get paper failed: %v", err)), nil
	}

	resultJSON, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *SimpleMCPServer) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	argsMap, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	query, ok := argsMap["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query parameter required"), nil
	}

	searchResult, err := s.searchCoordinator.Search(ctx, search.Query{
		Text:  query,
		Limit: 10,
	})
	if err != nil {
		s.logger.Error("MCP search failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	s.logger.Info("MCP search completed",
		slog.String("query", query),
		slog.Int("results", len(searchResult.Papers)))

	resultJSON, _ := json.Marshal(searchResult)
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *SimpleMCPServer) handleGetCitations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	argsMap, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	ref, ok := argsMap["ref"].(string)
	if !ok || ref == "" {
		return mcp.NewToolResultError("ref parameter required"), nil
	}

	items, total, err := s.paperResolver.GetRelationPage(ctx, ref, models.RelationKindCitations, 0, 20, projector.DefaultFields)
	if err != nil {
		s.logger.Error("MCP get citations failed",
			slog.String("ref", ref),
			slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("get citations failed: %v", err)), nil
	}

	resultJSON, _ := json.Marshal(map[string]interface{}{"total": total, "data": items})
	return mcp.NewToolResultText(string(resultJSON)), nil
}

// ServeStdio starts the MCP server via stdio
func (s *SimpleMCPServer) ServeStdio() error {
	s.logger.Info("Starting simple MCP server via stdio")
	return server.ServeStdio(s.server)
}

// GetServer returns the underlying server
func (s *SimpleMCPServer) GetServer() *server.MCPServer {
	return s.server
}
