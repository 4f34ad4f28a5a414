// Package mcp provides the oocbench MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	oocexperiments "github.com/janniklinde/OOCExperiments"
	"github.com/janniklinde/OOCExperiments/internal/config"
	"github.com/janniklinde/OOCExperiments/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex
	engine *workflow.Engine

	// runs serializes bench_run across engines replaced by updateFromRoots.
	runs sync.Mutex
}

// NewServer creates an MCP server with all oocbench tools registered.
// The engine's runner must not read stdin: in stdio mode it carries the
// protocol.
func NewServer(eng *workflow.Engine) *mcp.Server {
	h := &handler{engine: eng}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "oocbench", Version: oocexperiments.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "bench_allocate",
		Description: `Split a memory ceiling among the executor, driver and local shares.

Pass total_mb, or heap_args containing an -Xmx flag (default 1024 MB when none matches).
Shares are shrunk proportionally, then greedily down to their soft and hard minimums.
Fails when the hard minimums alone exceed the ceiling.`,
	}, h.allocateHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "bench_run",
		Description: `Run a configured experiment, or one ad-hoc command.

Give experiment to run every repetition of a named experiment, or argv for a single command.
Each run is supervised with the configured timeout and appended to the results log.
Records are stored for drill-down via bench_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "bench_inspect",
		Description: "Show the stored record of one run, including the tail of its combined output.",
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "bench_summary",
		Description: "Average runtime per (mode, conf) over the ok rows of the results log, with a mode x conf grid.",
	}, h.summaryHandler)

	return s
}

func (h *handler) current() *workflow.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// updateFromRoots queries the client for MCP roots and rebuilds the engine
// from the configuration file found from the first file root. Without a
// usable root or file the engine passed to NewServer stays in place.
func (h *handler) updateFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		log.Printf("client root %s: %v; keeping current configuration", u.Path, err)
		return
	}
	if loaded.File == "" {
		return
	}

	h.mu.Lock()
	h.engine = workflow.New(loaded, nil)
	log.Printf("client root %s: using configuration from %s", u.Path, loaded.File)
	h.mu.Unlock()
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
