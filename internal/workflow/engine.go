// Package workflow provides the experiment engine shared by the CLI and
// the MCP server: it sizes each run's memory shares, supervises every
// repetition in sequence, and records what happened.
package workflow

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/janniklinde/OOCExperiments/internal/budget"
	"github.com/janniklinde/OOCExperiments/internal/classify"
	"github.com/janniklinde/OOCExperiments/internal/config"
	"github.com/janniklinde/OOCExperiments/internal/report"
	"github.com/janniklinde/OOCExperiments/internal/runner"
	"github.com/janniklinde/OOCExperiments/internal/tracing"
)

// CommandRunner executes one supervised command.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) *runner.Result
}

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config     *config.Config
	Runner     CommandRunner
	Classifier *classify.Classifier
	Store      report.Store // optional per-run records
	Log        *report.Log  // optional results log
	Tracer     trace.Tracer // nil uses the global oocbench tracer

	// mu serializes experiments and ad-hoc runs so supervised commands
	// never overlap, whichever caller starts them.
	mu sync.Mutex
}

// recentRuns is how many records the in-memory store keeps in front of disk.
const recentRuns = 16

// New builds an Engine from a loaded configuration: a supervisor using the
// configured limits, a run store and the results log, both resolved against
// the configuration root. skip may be nil.
func New(loaded *config.LoadResult, skip runner.SkipSource) *Engine {
	cfg := loaded.Config
	r := &runner.Runner{
		Timeout:      cfg.Timeout(),
		PollInterval: cfg.PollInterval(),
		GracePeriod:  cfg.GracePeriod(),
		SkipToken:    cfg.SkipToken(),
		Skip:         skip,
		ScratchDir:   loaded.Resolve(cfg.ScratchDir),
		MaxOutput:    cfg.MaxOutputBytes(),
	}
	return &Engine{
		Config:     cfg,
		Runner:     r,
		Classifier: &classify.Classifier{Markers: cfg.Markers},
		Store:      report.NewLRUStore(recentRuns, report.NewDiskStore(loaded.Resolve(cfg.StoreDir))),
		Log:        report.NewLog(loaded.Resolve(cfg.ResultsPath())),
	}
}

// ExperimentResult holds every repetition of one experiment.
type ExperimentResult struct {
	Experiment string
	Allocation budget.Allocation // nil when the experiment is not budgeted
	Argv       []string          // command after placeholder expansion
	Records    []*report.Record
}

// Counts tallies the outcomes of all repetitions.
func (r *ExperimentResult) Counts() map[runner.Outcome]int {
	counts := make(map[runner.Outcome]int)
	for _, rec := range r.Records {
		counts[rec.Outcome]++
	}
	return counts
}

// Plan sizes the experiment's memory shares and expands its command.
// A budget that cannot be satisfied is returned as an error wrapping a
// *budget.ConfigurationError; nothing has been run at that point.
func (e *Engine) Plan(exp *config.Experiment) (budget.Allocation, []string, error) {
	b := &e.Config.Budget
	vars := map[string]string{
		"memory_fraction":  strconv.FormatFloat(b.Memory(), 'f', -1, 64),
		"storage_fraction": strconv.FormatFloat(b.Storage(), 'f', -1, 64),
	}
	if !exp.Budget {
		return nil, Expand(exp.Command, vars), nil
	}

	total := exp.TotalMB
	if total == 0 {
		total = budget.ParseHeapSize(exp.Command)
	}
	alloc, err := budget.Allocate(total, b.Shares(), b.LocalTargetMB)
	if err != nil {
		return nil, nil, fmt.Errorf("experiment %s: %w", exp.Name, err)
	}
	vars["total"] = strconv.Itoa(total)
	for _, g := range alloc {
		vars[g.Name] = strconv.Itoa(g.MB)
	}
	return alloc, Expand(exp.Command, vars), nil
}

// Expand replaces {name} placeholders in argv. Unknown placeholders are
// left as they are.
func Expand(argv []string, vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// RunExperiment runs every repetition of the named experiment in order.
// Concurrent calls to RunExperiment and Exec wait for each other.
// Run failures are recorded and do not stop the sequence; a cancelled
// context does.
func (e *Engine) RunExperiment(ctx context.Context, name string) (res *ExperimentResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer().Start(ctx, "experiment "+name, trace.WithAttributes(attribute.String("experiment", name)))
	defer func() { tracing.End(span, err) }()

	exp, ok := e.Config.Experiment(name)
	if !ok {
		return nil, fmt.Errorf("unknown experiment %q", name)
	}

	alloc, argv, err := e.Plan(exp)
	if err != nil {
		return nil, err
	}
	if alloc != nil {
		log.Printf("%s: allocated %s", exp.Name, alloc)
		for _, g := range alloc {
			span.SetAttributes(attribute.Int("budget."+g.Name+"_mb", g.MB))
		}
	}

	result := &ExperimentResult{Experiment: exp.Name, Allocation: alloc, Argv: argv}
	runs := exp.Runs()
	for rep := 1; rep <= runs; rep++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rec := e.execute(ctx, argv)
		rec.Experiment = exp.Name
		rec.Mode = exp.Mode
		rec.Conf = exp.Conf
		rec.Repetition = rep
		rec.Allocation = alloc

		log.Printf("%s rep %d/%d: %s in %.1fs", exp.Name, rep, runs, rec.Outcome, rec.Elapsed)
		if err := e.record(rec); err != nil {
			return result, err
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// RunAll runs the named experiments, or every configured experiment when
// names is empty, stopping at the first configuration error.
func (e *Engine) RunAll(ctx context.Context, names []string) ([]*ExperimentResult, error) {
	if len(names) == 0 {
		for _, exp := range e.Config.Experiments {
			names = append(names, exp.Name)
		}
	}
	var results []*ExperimentResult
	for _, name := range names {
		res, err := e.RunExperiment(ctx, name)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Exec runs a single ad-hoc command and records it. It waits for any
// experiment or command already running on e.
func (e *Engine) Exec(ctx context.Context, argv []string) (*report.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.execute(ctx, argv)
	log.Printf("run %s: %s in %.1fs", rec.ID, rec.Outcome, rec.Elapsed)
	return rec, e.record(rec)
}

func (e *Engine) execute(ctx context.Context, argv []string) *report.Record {
	ctx, span := e.tracer().Start(ctx, "run")
	started := time.Now()
	res := e.Runner.Run(ctx, argv)
	c := e.Classifier
	if c == nil {
		c = &classify.Classifier{Markers: e.Config.Markers}
	}
	rep := c.Classify(res)

	span.SetAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("run.outcome", string(rep.Outcome)),
		attribute.Int("run.exit_code", res.ExitCode),
	)
	tracing.End(span, rep.Err)
	return report.NewRecord(argv, started, res, rep)
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return tracing.Tracer()
}

// record persists rec. The JSON record is best-effort; the results log is
// the experiment's output and its failures are returned.
func (e *Engine) record(rec *report.Record) error {
	if e.Store != nil {
		if err := e.Store.Save(rec); err != nil {
			log.Printf("saving run %s: %v", rec.ID, err)
		}
	}
	if e.Log != nil {
		if err := e.Log.Append(rec); err != nil {
			return fmt.Errorf("recording run %s: %w", rec.ID, err)
		}
	}
	return nil
}
