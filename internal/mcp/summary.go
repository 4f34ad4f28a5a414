package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/janniklinde/OOCExperiments/internal/report"
)

type summaryParams struct {
	Path string `json:"path,omitempty" jsonschema:"results CSV to summarise. Default: the configured results log."`
}

func (h *handler) summaryHandler(ctx context.Context, req *mcp.CallToolRequest, params summaryParams) (*mcp.CallToolResult, any, error) {
	path := params.Path
	if path == "" {
		if l := h.current().Log; l != nil {
			path = l.Path()
		}
	}
	if path == "" {
		return errorResult("path is required: no results log configured")
	}

	rows, err := report.ReadRows(path)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to read results: %v", err))
	}
	if len(rows) == 0 {
		return textResult(fmt.Sprintf("No runs recorded in %s.", path))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results: %s (%d runs)\n\n", path, len(rows))
	if err := report.WriteSummary(&b, report.Summarize(rows)); err != nil {
		return errorResult(fmt.Sprintf("Failed to format summary: %v", err))
	}
	return textResult(b.String())
}
