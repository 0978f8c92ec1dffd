package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// newServeEchoCmd serves a minimal MCP server over stdio, handy as a target
// for mcp adapter configs.
func newServeEchoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-echo",
		Short: "Serve a demo MCP server with echo and upper tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.ServeStdio(newEchoServer())
		},
	}
}

func newEchoServer() *server.MCPServer {
	s := server.NewMCPServer("toolctl-echo", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Returns its arguments as JSON"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(raw)), nil
	})

	s.AddTool(mcp.NewTool("upper",
		mcp.WithDescription("Upper-cases text"),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		if text == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		return mcp.NewToolResultText(strings.ToUpper(text)), nil
	})

	return s
}
