package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/janniklinde/OOCExperiments/internal/report"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a bench_run result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	store := h.current().Store
	if store == nil {
		return errorResult("no run store configured")
	}

	rec, err := store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatInspect(rec))
}

func formatInspect(rec *report.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", rec.ID, rec.Outcome)
	if rec.Experiment != "" {
		fmt.Fprintf(&b, "Experiment: %s, repetition %d (mode %s, conf %s)\n", rec.Experiment, rec.Repetition, rec.Mode, rec.Conf)
	}
	if rec.Allocation != nil {
		fmt.Fprintf(&b, "Allocation: %s\n", rec.Allocation)
	}
	fmt.Fprintf(&b, "Started: %s\n", rec.Started.Format("2006-01-02 15:04:05"))
	writeRun(&b, rec)
	fmt.Fprintln(&b)

	if rec.Output == "" {
		fmt.Fprintln(&b, "Output: (empty)")
		return b.String()
	}
	if rec.Truncated {
		fmt.Fprintln(&b, "Output (tail, earlier output truncated):")
	} else {
		fmt.Fprintln(&b, "Output:")
	}
	b.WriteString(rec.Output)
	if !strings.HasSuffix(rec.Output, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}
