package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blackbee/ai-forensics/internal/mcpserver"
	"github.com/blackbee/ai-forensics/internal/metrics"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve analyze_image over MCP stdio",
	Long: `MCP starts a Model Context Protocol server on stdin/stdout exposing one
tool, analyze_image, which takes a local image path and returns the verdict.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	metrics.Configure(io.Discard, false, "")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer := newAnalyzer(ctx)
	server := mcpserver.New(analyzer, commitHash)

	log.Info().Str("tool", mcpserver.ToolName).Str("model", analyzer.Model()).Msg("MCP server listening on stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}
