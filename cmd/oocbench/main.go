// Command oocbench runs supervised benchmark experiments against an
// out-of-core engine and sizes their memory budgets.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	flag "github.com/spf13/pflag"

	oocexperiments "github.com/janniklinde/OOCExperiments"
	"github.com/janniklinde/OOCExperiments/internal/budget"
	"github.com/janniklinde/OOCExperiments/internal/config"
	benchmcp "github.com/janniklinde/OOCExperiments/internal/mcp"
	"github.com/janniklinde/OOCExperiments/internal/report"
	"github.com/janniklinde/OOCExperiments/internal/runner"
	"github.com/janniklinde/OOCExperiments/internal/tracing"
	"github.com/janniklinde/OOCExperiments/internal/workflow"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("oocbench: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "exec":
		err = execMain(args)
	case "allocate":
		err = allocateMain(args)
	case "summary":
		err = summaryMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(oocexperiments.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "oocbench: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: oocbench <command> [flags] [args]

Commands:
  run         Run configured experiments (all, or those named)
  exec        Run one command under supervision: oocbench exec -- argv...
  allocate    Split a memory ceiling among executor, driver and local shares
  summary     Average runtime per (mode, conf) from the results log
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

While a run is in progress, type "skip" and Enter to abandon it.
Use "oocbench <command> -h" for command-specific flags.`)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default: .oocbench found upward from the working directory)")
	timeout := fs.Duration("timeout", 0, "override the configured per-run timeout (e.g. 5m)")
	tracePath := fs.String("trace", "", "write run spans as JSON to this file")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, done, err := newEngine(*cfgPath, *timeout, *tracePath, true)
	if err != nil {
		return err
	}
	defer done()
	if len(eng.Config.Experiments) == 0 {
		return errors.New("no experiments configured")
	}

	results, err := eng.RunAll(ctx, fs.Args())
	for _, res := range results {
		fmt.Print(formatExperimentCLI(res))
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func formatExperimentCLI(res *workflow.ExperimentResult) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	w("%s", res.Experiment)
	if res.Allocation != nil {
		w(" [%s]", res.Allocation)
	}
	w("\n")
	for _, rec := range res.Records {
		w("  %d  %-8s %8.1fs  execution_time=%s result=%s  %s\n",
			rec.Repetition, rec.Outcome, rec.Elapsed, rec.ExecutionTime, rec.Result, rec.ID)
	}
	return string(b)
}

// --- exec ---

func execMain(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default: .oocbench found upward from the working directory)")
	timeout := fs.Duration("timeout", 0, "override the configured timeout (e.g. 5m)")
	jsonFlag := fs.Bool("json", false, "output the run record as JSON")
	tracePath := fs.String("trace", "", "write run spans as JSON to this file")
	fs.SetInterspersed(false)
	_ = fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		return errors.New("exec: no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, done, err := newEngine(*cfgPath, *timeout, *tracePath, true)
	if err != nil {
		return err
	}

	rec, err := eng.Exec(ctx, argv)
	done()
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return err
		}
	} else {
		os.Stdout.WriteString(rec.Output)
		fmt.Printf("\n%s in %.1fs (run %s)\n", rec.Outcome, rec.Elapsed, rec.ID)
		if rec.Error != "" {
			fmt.Printf("error: %s\n", rec.Error)
		}
	}

	if rec.Outcome != runner.OutcomeOK {
		os.Exit(1)
	}
	return nil
}

// --- allocate ---

func allocateMain(args []string) error {
	fs := flag.NewFlagSet("allocate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default: .oocbench found upward from the working directory)")
	total := fs.IntP("total", "t", 0, "memory ceiling in MB (default: parsed from an -Xmx argument, else 1024)")
	localTarget := fs.Int("local-target", 0, "explicit local share target in MB")
	_ = fs.Parse(args)

	loaded, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	b := &loaded.Config.Budget

	totalMB := *total
	if totalMB == 0 {
		totalMB = budget.ParseHeapSize(fs.Args())
	}
	target := *localTarget
	if target == 0 {
		target = b.LocalTargetMB
	}

	alloc, err := budget.Allocate(totalMB, b.Shares(), target)
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	fmt.Printf("%s (%dMB of %dMB)\n", alloc, alloc.Total(), totalMB)
	return nil
}

// --- summary ---

func summaryMain(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default: .oocbench found upward from the working directory)")
	_ = fs.Parse(args)

	var path string
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	} else {
		loaded, err := loadConfig(*cfgPath)
		if err != nil {
			return err
		}
		path = loaded.Resolve(loaded.Config.ResultsPath())
	}

	rows, err := report.ReadRows(path)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return report.WriteSummary(os.Stdout, report.Summarize(rows))
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file (default: .oocbench found upward from the working directory)")
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(benchmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// stdin carries the protocol in stdio mode; runs cannot be skipped by typing.
	eng, done, err := newEngine(*cfgPath, 0, "", false)
	if err != nil {
		return err
	}
	defer done()
	server := benchmcp.NewServer(eng)

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

func loadConfig(path string) (*config.LoadResult, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return &config.LoadResult{Config: cfg, Root: filepath.Dir(path), File: path}, nil
	}

	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

// newEngine builds the engine from the configuration. The returned function
// flushes traces and must be called once the engine is no longer used.
func newEngine(cfgPath string, timeoutOverride time.Duration, tracePath string, interactive bool) (*workflow.Engine, func(), error) {
	loaded, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if timeoutOverride > 0 {
		loaded.Config.RawTimeout = timeoutOverride.String()
	}
	if tracePath == "" {
		tracePath = loaded.Resolve(loaded.Config.Trace)
	}

	done := func() {}
	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			return nil, nil, fmt.Errorf("creating trace file: %w", err)
		}
		shutdown, err := tracing.Init(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("initialising tracing: %w", err)
		}
		done = func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("flushing traces: %v", err)
			}
			_ = f.Close()
		}
	}

	var skip runner.SkipSource
	if interactive {
		skip = runner.NewTerminalSkip(os.Stdin)
		if skip != nil {
			log.Printf("type %q and Enter to skip the current run", loaded.Config.SkipToken())
		}
	}
	return workflow.New(loaded, skip), done, nil
}
