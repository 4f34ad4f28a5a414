package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// Columns is the fixed header of the results log.
var Columns = []string{
	"run_id", "experiment", "mode", "conf", "repetition",
	"outcome", "execution_time", "result", "elapsed_seconds",
}

// Row is one line of the results log.
type Row struct {
	RunID         string
	Experiment    string
	Mode          string
	Conf          string
	Repetition    int
	Outcome       runner.Outcome
	ExecutionTime Metric
	Result        Metric
	Elapsed       float64
}

// RowOf flattens a record into a results row.
func RowOf(rec *Record) Row {
	return Row{
		RunID:         rec.ID,
		Experiment:    rec.Experiment,
		Mode:          rec.Mode,
		Conf:          rec.Conf,
		Repetition:    rec.Repetition,
		Outcome:       rec.Outcome,
		ExecutionTime: rec.ExecutionTime,
		Result:        rec.Result,
		Elapsed:       rec.Elapsed,
	}
}

func (r Row) fields() []string {
	exec, result := r.ExecutionTime, r.Result
	if r.Outcome != runner.OutcomeOK {
		exec, result = NaN(), NaN()
	}
	return []string{
		r.RunID, r.Experiment, r.Mode, r.Conf, strconv.Itoa(r.Repetition),
		string(r.Outcome), exec.String(), result.String(),
		strconv.FormatFloat(r.Elapsed, 'f', 3, 64),
	}
}

// Log appends rows to a CSV file, writing the header when the file is new.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog returns a Log writing to path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the file the log writes to.
func (l *Log) Path() string { return l.path }

// Append writes one row per record. Metrics of runs that did not end ok
// are written as "nan" so every row has the same shape.
func (l *Log) Append(recs ...*Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating results directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening results log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("opening results log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return fmt.Errorf("writing results header: %w", err)
		}
	}
	for _, rec := range recs {
		if err := w.Write(RowOf(rec).fields()); err != nil {
			return fmt.Errorf("writing results row %s: %w", rec.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing results log: %w", err)
	}
	return f.Close()
}

// ReadRows parses a results log.
func ReadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening results log: %w", err)
	}
	defer f.Close()
	return parseRows(f, path)
}

func parseRows(r io.Reader, name string) ([]Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	var missing []string
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%s missing column(s): %s", name, strings.Join(missing, ", "))
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		row, err := rowFrom(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		rows = append(rows, row)
	}
}

func rowFrom(rec []string, idx map[string]int) (Row, error) {
	get := func(c string) string { return rec[idx[c]] }

	rep, err := strconv.Atoi(get("repetition"))
	if err != nil {
		return Row{}, fmt.Errorf("repetition: %w", err)
	}
	exec, err := strconv.ParseFloat(get("execution_time"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("execution_time: %w", err)
	}
	result, err := strconv.ParseFloat(get("result"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("result: %w", err)
	}
	elapsed, err := strconv.ParseFloat(get("elapsed_seconds"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("elapsed_seconds: %w", err)
	}
	return Row{
		RunID:         get("run_id"),
		Experiment:    get("experiment"),
		Mode:          get("mode"),
		Conf:          get("conf"),
		Repetition:    rep,
		Outcome:       runner.Outcome(get("outcome")),
		ExecutionTime: Metric(exec),
		Result:        Metric(result),
		Elapsed:       elapsed,
	}, nil
}
