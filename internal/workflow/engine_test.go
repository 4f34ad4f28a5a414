package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/janniklinde/OOCExperiments/internal/budget"
	"github.com/janniklinde/OOCExperiments/internal/config"
	"github.com/janniklinde/OOCExperiments/internal/report"
	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// fakeRunner is a test double for CommandRunner. It returns the queued
// results in order and records every argv it was given.
type fakeRunner struct {
	Results []*runner.Result
	Calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, argv []string) *runner.Result {
	f.Calls = append(f.Calls, argv)
	if len(f.Results) == 0 {
		// Default: success with no output.
		return &runner.Result{RunID: "default", Outcome: runner.OutcomeOK}
	}
	r := f.Results[0]
	f.Results = f.Results[1:]
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		Budget: config.BudgetConfig{
			ExecutorFraction: 0.8,
			DriverFraction:   0.8,
			LocalTargetMB:    512,
		},
		Experiments: []config.Experiment{
			{
				Name:        "ooc-4g",
				Mode:        "ooc",
				Conf:        "4g",
				Repetitions: 3,
				Budget:      true,
				Command: []string{
					"java", "-Xmx4g", "-jar", "engine.jar",
					"--driver-memory", "{driver}m", "--executor-memory", "{executor}m",
					"-buffer", "{local}", "-frac", "{memory_fraction}/{storage_fraction}", "{unknown}",
				},
			},
			{
				Name:    "tiny",
				Mode:    "ooc",
				Conf:    "512m",
				Budget:  true,
				Command: []string{"java", "-Xmx512m", "-jar", "engine.jar"},
			},
			{
				Name:    "plain",
				Mode:    "inmem",
				Conf:    "4g",
				Command: []string{"java", "-Xmx4g", "-buffer", "{local}"},
			},
		},
	}
}

func TestPlan_Budgeted(t *testing.T) {
	e := &Engine{Config: testConfig()}
	exp, _ := e.Config.Experiment("ooc-4g")

	alloc, argv, err := e.Plan(exp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := budget.Allocation{{Name: "executor", MB: 1899}, {Name: "driver", MB: 1899}, {Name: "local", MB: 296}}
	if len(alloc) != len(want) {
		t.Fatalf("alloc = %v, want %v", alloc, want)
	}
	for i := range want {
		if alloc[i] != want[i] {
			t.Errorf("alloc[%d] = %v, want %v", i, alloc[i], want[i])
		}
	}
	got := strings.Join(argv, " ")
	wantArgv := "java -Xmx4g -jar engine.jar --driver-memory 1899m --executor-memory 1899m -buffer 296 -frac 0.6/0.7 {unknown}"
	if got != wantArgv {
		t.Errorf("argv = %q, want %q", got, wantArgv)
	}
}

func TestPlan_Unbudgeted(t *testing.T) {
	e := &Engine{Config: testConfig()}
	exp, _ := e.Config.Experiment("plain")

	alloc, argv, err := e.Plan(exp)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if alloc != nil {
		t.Errorf("alloc = %v, want nil", alloc)
	}
	if argv[3] != "{local}" {
		t.Errorf("argv[3] = %q, want placeholder untouched", argv[3])
	}
}

func TestRunExperiment_UnsatisfiableBudgetRunsNothing(t *testing.T) {
	fr := &fakeRunner{}
	e := &Engine{Config: testConfig(), Runner: fr}

	_, err := e.RunExperiment(context.Background(), "tiny")
	if !errors.Is(err, budget.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(fr.Calls) != 0 {
		t.Errorf("runner called %d times, want 0", len(fr.Calls))
	}
}

func TestRunExperiment_RecordsEveryRepetition(t *testing.T) {
	dir := t.TempDir()
	fr := &fakeRunner{Results: []*runner.Result{
		{RunID: "r1", Outcome: runner.OutcomeOK, Output: []byte("Total execution time: 2.5 sec.\n")},
		{RunID: "r2", Outcome: runner.OutcomeOK, Output: []byte("Exception in thread \"main\" java.lang.OutOfMemoryError\n")},
		{RunID: "r3", Outcome: runner.OutcomeTimeout, Err: runner.ErrTimeoutExceeded},
	}}
	store := report.NewDiskStore(filepath.Join(dir, "runs"))
	log := report.NewLog(filepath.Join(dir, "results.csv"))
	e := &Engine{Config: testConfig(), Runner: fr, Store: store, Log: log}

	res, err := e.RunExperiment(context.Background(), "ooc-4g")
	if err != nil {
		t.Fatalf("RunExperiment: %v", err)
	}
	if len(fr.Calls) != 3 {
		t.Fatalf("runner called %d times, want 3", len(fr.Calls))
	}
	if len(res.Records) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(res.Records))
	}

	wantOutcomes := []runner.Outcome{runner.OutcomeOK, runner.OutcomeFailed, runner.OutcomeTimeout}
	for i, rec := range res.Records {
		if rec.Outcome != wantOutcomes[i] {
			t.Errorf("Records[%d].Outcome = %s, want %s", i, rec.Outcome, wantOutcomes[i])
		}
		if rec.Repetition != i+1 {
			t.Errorf("Records[%d].Repetition = %d, want %d", i, rec.Repetition, i+1)
		}
		if rec.Allocation.Get("local") != 296 {
			t.Errorf("Records[%d].Allocation = %v", i, rec.Allocation)
		}
	}
	if res.Records[0].ExecutionTime != 2.5 {
		t.Errorf("ExecutionTime = %v, want 2.5", res.Records[0].ExecutionTime)
	}
	if counts := res.Counts(); counts[runner.OutcomeOK] != 1 || counts[runner.OutcomeFailed] != 1 {
		t.Errorf("Counts() = %v", counts)
	}

	rows, err := report.ReadRows(log.Path())
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if !rows[1].ExecutionTime.Missing() {
		t.Errorf("failed row ExecutionTime = %v, want nan", rows[1].ExecutionTime)
	}

	rec, err := store.Load("r2")
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if rec.Marker == "" {
		t.Error("stored record has no marker")
	}
}

func TestRunExperiment_Unknown(t *testing.T) {
	e := &Engine{Config: testConfig(), Runner: &fakeRunner{}}
	if _, err := e.RunExperiment(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown experiment")
	}
}

func TestRunExperiment_StopsOnCancel(t *testing.T) {
	fr := &fakeRunner{}
	e := &Engine{Config: testConfig(), Runner: fr}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.RunExperiment(ctx, "ooc-4g")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(fr.Calls) != 0 {
		t.Errorf("runner called %d times, want 0", len(fr.Calls))
	}
}

func TestRunAll_StopsAtConfigurationError(t *testing.T) {
	fr := &fakeRunner{}
	e := &Engine{Config: testConfig(), Runner: fr}

	results, err := e.RunAll(context.Background(), nil)
	if !errors.Is(err, budget.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(results) != 1 || results[0].Experiment != "ooc-4g" {
		t.Errorf("results = %v, want only ooc-4g", results)
	}
	if len(fr.Calls) != 3 {
		t.Errorf("runner called %d times, want 3", len(fr.Calls))
	}
}

func TestExec_RealRunner(t *testing.T) {
	dir := t.TempDir()
	r := &runner.Runner{ScratchDir: dir}
	e := &Engine{Config: &config.Config{}, Runner: r, Log: report.NewLog(filepath.Join(dir, "results.csv"))}

	rec, err := e.Exec(context.Background(), []string{"sh", "-c", "echo 'result: 42'"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if rec.Outcome != runner.OutcomeOK {
		t.Fatalf("Outcome = %s, want ok", rec.Outcome)
	}
	if rec.Result != 42 {
		t.Errorf("Result = %v, want 42", rec.Result)
	}
	if _, err := os.Stat(filepath.Join(dir, "results.csv")); err != nil {
		t.Errorf("results log not written: %v", err)
	}
}

func TestNew_ResolvesPathsAgainstRoot(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{RawTimeout: "5s", RawSkipToken: "next", StoreDir: "runs"}
	e := New(&config.LoadResult{Config: cfg, Root: root}, nil)

	r, ok := e.Runner.(*runner.Runner)
	if !ok {
		t.Fatalf("Runner is %T, want *runner.Runner", e.Runner)
	}
	if r.Timeout.String() != "5s" {
		t.Errorf("Timeout = %s, want 5s", r.Timeout)
	}
	if r.SkipToken != "next" {
		t.Errorf("SkipToken = %q, want next", r.SkipToken)
	}
	if r.Skip != nil {
		t.Errorf("Skip = %v, want nil", r.Skip)
	}
	if got, want := e.Log.Path(), filepath.Join(root, config.DefaultResults); got != want {
		t.Errorf("Log.Path() = %q, want %q", got, want)
	}
	if e.Store == nil {
		t.Error("Store is nil")
	}
}

func TestRunExperiment_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	fr := &fakeRunner{Results: []*runner.Result{
		{RunID: "r1", Outcome: runner.OutcomeOK},
		{RunID: "r2", Outcome: runner.OutcomeFailed, ExitCode: 1, Err: &runner.NonZeroExitError{Code: 1}},
		{RunID: "r3", Outcome: runner.OutcomeOK},
	}}
	e := &Engine{Config: testConfig(), Runner: fr, Tracer: tp.Tracer("test")}

	if _, err := e.RunExperiment(context.Background(), "ooc-4g"); err != nil {
		t.Fatalf("RunExperiment: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("got %d spans, want 4", len(spans))
	}
	// Runs end before the experiment that contains them.
	parent := spans[3]
	if parent.Name != "experiment ooc-4g" {
		t.Errorf("last span = %q, want experiment ooc-4g", parent.Name)
	}
	for i, s := range spans[:3] {
		if s.Name != "run" {
			t.Errorf("spans[%d].Name = %q, want run", i, s.Name)
		}
		if s.Parent.SpanID() != parent.SpanContext.SpanID() {
			t.Errorf("spans[%d] is not a child of the experiment span", i)
		}
	}
	if spans[1].Status.Code.String() != "Error" {
		t.Errorf("failed run status = %s, want Error", spans[1].Status.Code)
	}
}

// overlapRunner records the highest number of runs in flight at once.
type overlapRunner struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (o *overlapRunner) Run(_ context.Context, _ []string) *runner.Result {
	o.mu.Lock()
	o.inFlight++
	o.peak = max(o.peak, o.inFlight)
	o.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	o.mu.Lock()
	o.inFlight--
	o.mu.Unlock()
	return &runner.Result{RunID: "r", Outcome: runner.OutcomeOK}
}

func TestEngine_RunsDoNotOverlap(t *testing.T) {
	or := &overlapRunner{}
	e := &Engine{Config: testConfig(), Runner: or}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Exec(context.Background(), []string{"engine"}); err != nil {
				t.Errorf("Exec: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.RunExperiment(context.Background(), "plain"); err != nil {
				t.Errorf("RunExperiment: %v", err)
			}
		}()
	}
	wg.Wait()

	if or.peak != 1 {
		t.Errorf("peak concurrent runs = %d, want 1", or.peak)
	}
}
