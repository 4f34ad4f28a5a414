package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/janniklinde/OOCExperiments/internal/report"
	"github.com/janniklinde/OOCExperiments/internal/runner"
	"github.com/janniklinde/OOCExperiments/internal/workflow"
)

type runParams struct {
	Experiment string   `json:"experiment,omitempty" jsonschema:"name of a configured experiment; runs all of its repetitions"`
	Argv       []string `json:"argv,omitempty" jsonschema:"ad-hoc command to run once instead of an experiment (e.g. [\"java\", \"-Xmx4g\", \"-jar\", \"engine.jar\"])"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if (params.Experiment == "") == (len(params.Argv) == 0) {
		return errorResult("exactly one of experiment or argv is required")
	}
	h.runs.Lock()
	defer h.runs.Unlock()
	eng := h.current()

	if len(params.Argv) > 0 {
		rec, err := eng.Exec(ctx, params.Argv)
		if err != nil {
			return errorResult(fmt.Sprintf("run failed: %v", err))
		}
		return textResult(formatExec(rec))
	}

	res, err := eng.RunExperiment(ctx, params.Experiment)
	if err != nil && res == nil {
		return errorResult(fmt.Sprintf("run failed: %v", err))
	}
	text := formatExperiment(res)
	if err != nil {
		text += fmt.Sprintf("\nStopped early: %v\n", err)
	}
	return textResult(text)
}

func formatExec(rec *report.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outcome: %s\n", rec.Outcome)
	fmt.Fprintf(&b, "Run: %s\n", rec.ID)
	fmt.Fprintln(&b)
	writeRun(&b, rec)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Inspect with bench_inspect(run_id=%q).\n", rec.ID)
	return b.String()
}

func formatExperiment(res *workflow.ExperimentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Experiment: %s\n", res.Experiment)
	if res.Allocation != nil {
		fmt.Fprintf(&b, "Allocation: %s\n", res.Allocation)
	}
	fmt.Fprintf(&b, "Command: %s\n", strings.Join(res.Argv, " "))
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Runs:")
	for _, rec := range res.Records {
		fmt.Fprintf(&b, "  %d. %s  %s  execution_time=%s result=%s elapsed=%.1fs\n",
			rec.Repetition, rec.ID, rec.Outcome, rec.ExecutionTime, rec.Result, rec.Elapsed)
	}
	fmt.Fprintln(&b)

	counts := res.Counts()
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = fmt.Sprintf("%s=%d", o, counts[runner.Outcome(o)])
	}
	fmt.Fprintf(&b, "Outcomes: %s\n", strings.Join(parts, " "))
	if len(res.Records) > 0 {
		fmt.Fprintf(&b, "Inspect with bench_inspect(run_id=%q).\n", res.Records[0].ID)
	}
	return b.String()
}

// writeRun prints the fields shared by bench_run and bench_inspect.
func writeRun(b *strings.Builder, rec *report.Record) {
	fmt.Fprintf(b, "Command: %s\n", strings.Join(rec.Argv, " "))
	if rec.Outcome != runner.OutcomeTimeout && rec.Outcome != runner.OutcomeSkipped {
		fmt.Fprintf(b, "Exit code: %d\n", rec.ExitCode)
	}
	fmt.Fprintf(b, "Elapsed: %.1fs\n", rec.Elapsed)
	fmt.Fprintf(b, "Execution time: %s\n", rec.ExecutionTime)
	fmt.Fprintf(b, "Result: %s\n", rec.Result)
	if rec.Marker != "" {
		fmt.Fprintf(b, "Error marker: %s\n", rec.Marker)
	}
	if rec.Error != "" {
		fmt.Fprintf(b, "Error: %s\n", rec.Error)
	}
}
