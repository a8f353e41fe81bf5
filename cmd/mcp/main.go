// Stringstore MCP server.
// Exposes stringstore tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/stringstore/internal/mcp"
)

func main() {
	baseURL := os.Getenv("STRINGSTORE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:13001"
	}

	s := server.NewMCPServer(
		"stringstore",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(baseURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
