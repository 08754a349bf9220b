// Package mcp exposes the coordination engine to MCP-compatible agents.
//
// Coordination assistants use these tools to inspect federated models, run
// clash tests, triage clashes, and pull statistics over stdio.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/fedra-bim/fedra/internal/clashes"
	"github.com/fedra-bim/fedra/internal/coord"
	"github.com/fedra-bim/fedra/internal/registry"
)

// Server wraps the MCP server around the engine's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	models    *registry.Models
	tests     *registry.Tests
	coord     *coord.Coordinator
	service   *clashes.Service
	logger    *slog.Logger
}

// New creates and configures the MCP server with all tools registered.
func New(models *registry.Models, tests *registry.Tests, c *coord.Coordinator,
	service *clashes.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		models:  models,
		tests:   tests,
		coord:   c,
		service: service,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"fedra",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the stdio transport until ctx is cancelled or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
