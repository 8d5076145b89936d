// Package mcpserver exposes the forensic analysis as an MCP tool so agents
// can check local images.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/report"
	"github.com/blackbee/ai-forensics/internal/session"
)

// ToolName is the name agents call.
const ToolName = "analyze_image"

// AnalyzeInput is the tool's argument object.
type AnalyzeInput struct {
	Path string `json:"path" jsonschema:"path to a local JPG, PNG or WEBP image"`
}

// AnalyzeOutput is the tool's structured result.
type AnalyzeOutput struct {
	File   report.FileInfo `json:"file"`
	Result *chat.Result    `json:"result"`
	Report string          `json:"report"`
}

// New returns an MCP server with the analyze_image tool registered.
func New(analyzer session.Analyzer, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "ai-forensics", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: ToolName,
		Description: "Judge whether an image is AI-generated or a real photo. Returns a verdict, " +
			"a 0-100 confidence score, reasoning, and for AI images the visible flaws and a " +
			"remediation prompt. Text is in Simplified Chinese.",
	}, analyzeHandler(analyzer))

	return server
}

func analyzeHandler(analyzer session.Analyzer) mcp.ToolHandlerFor[AnalyzeInput, AnalyzeOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, AnalyzeOutput, error) {
		if in.Path == "" {
			return nil, AnalyzeOutput{}, fmt.Errorf("path is required")
		}

		p, err := filehandler.LoadFile(in.Path)
		if err != nil {
			return nil, AnalyzeOutput{}, err
		}
		defer p.Release()

		log.Info().Str("path", in.Path).Msg("MCP analyze_image called")

		result, err := analyzer.Analyze(ctx, p.EncodedData, p.MIMEType)
		if err != nil {
			return nil, AnalyzeOutput{}, err
		}

		result = result.Sanitized()
		file := report.DescribeFile(p.Filename, p.MIMEType, p.Size)
		return nil, AnalyzeOutput{
			File:   file,
			Result: result,
			Report: report.Text(report.Build(result), &file),
		}, nil
	}
}
