package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/janniklinde/OOCExperiments/internal/budget"
)

type allocateParams struct {
	TotalMB       int      `json:"total_mb,omitempty" jsonschema:"memory ceiling in MB; takes precedence over heap_args"`
	HeapArgs      []string `json:"heap_args,omitempty" jsonschema:"command tokens to search for an -Xmx flag (e.g. [\"-Xmx4g\"])"`
	LocalTargetMB int      `json:"local_target_mb,omitempty" jsonschema:"explicit target for the local share in MB. Default: the configured local_target_mb or local fraction."`
}

func (h *handler) allocateHandler(ctx context.Context, req *mcp.CallToolRequest, params allocateParams) (*mcp.CallToolResult, any, error) {
	if params.TotalMB < 0 || params.LocalTargetMB < 0 {
		return errorResult("total_mb and local_target_mb must not be negative")
	}
	b := &h.current().Config.Budget

	total := params.TotalMB
	if total == 0 {
		total = budget.ParseHeapSize(params.HeapArgs)
	}
	localTarget := params.LocalTargetMB
	if localTarget == 0 {
		localTarget = b.LocalTargetMB
	}

	shares := b.Shares()
	alloc, err := budget.Allocate(total, shares, localTarget)
	if err != nil {
		return errorResult(fmt.Sprintf("Allocation failed: %v", err))
	}
	return textResult(formatAllocation(total, shares, alloc))
}

func formatAllocation(total int, shares []budget.Share, alloc budget.Allocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ceiling: %dMB\n", total)
	fmt.Fprintf(&b, "Allocated: %dMB\n", alloc.Total())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Shares:")
	for _, s := range shares {
		mb := alloc.Get(s.Name)
		note := ""
		switch {
		case mb < s.SoftMinMB:
			note = " (below soft minimum)"
		case mb == s.SoftMinMB:
			note = " (at soft minimum)"
		}
		fmt.Fprintf(&b, "  %-10s %6dMB  soft %dMB, hard %dMB%s\n", s.Name, mb, s.SoftMinMB, s.HardMinMB, note)
	}
	return b.String()
}
