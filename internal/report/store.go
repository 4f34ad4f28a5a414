// Package report persists the outcome of every supervised run: a JSON
// record per run for later inspection, and a flat CSV log with one row per
// run that the plotting scripts consume.
package report

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/janniklinde/OOCExperiments/internal/budget"
	"github.com/janniklinde/OOCExperiments/internal/classify"
	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}

// Metric is a float that may be missing. Missing values are NaN in memory
// and null in JSON.
type Metric float64

// NaN is the missing Metric.
func NaN() Metric { return Metric(math.NaN()) }

// Missing reports whether m holds no value.
func (m Metric) Missing() bool { return math.IsNaN(float64(m)) }

// String formats m for the CSV log; missing values print as "nan".
func (m Metric) String() string {
	if m.Missing() {
		return "nan"
	}
	return strconv.FormatFloat(float64(m), 'f', -1, 64)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if m.Missing() || math.IsInf(float64(m), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = NaN()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

// Record is everything known about one run.
type Record struct {
	ID            string            `json:"id"`
	Experiment    string            `json:"experiment,omitempty"`
	Mode          string            `json:"mode,omitempty"`
	Conf          string            `json:"conf,omitempty"`
	Repetition    int               `json:"repetition,omitempty"`
	Argv          []string          `json:"argv"`
	Allocation    budget.Allocation `json:"allocation,omitempty"`
	Outcome       runner.Outcome    `json:"outcome"`
	ExitCode      int               `json:"exit_code"`
	ExecutionTime Metric            `json:"execution_time"`
	Result        Metric            `json:"result"`
	Elapsed       float64           `json:"elapsed_seconds"`
	Marker        string            `json:"marker,omitempty"`
	Error         string            `json:"error,omitempty"`
	Output        string            `json:"output,omitempty"` // tail of the combined output
	Truncated     bool              `json:"truncated,omitempty"`
	Started       time.Time         `json:"started"`
}

// NewRecord builds a record from a finished run and its classification.
// Metrics of runs that did not end ok are recorded as missing.
func NewRecord(argv []string, started time.Time, res *runner.Result, rep classify.Report) *Record {
	rec := &Record{
		ID:            res.RunID,
		Argv:          argv,
		Outcome:       rep.Outcome,
		ExitCode:      res.ExitCode,
		ExecutionTime: NaN(),
		Result:        NaN(),
		Elapsed:       res.Duration.Seconds(),
		Marker:        rep.Marker,
		Output:        string(res.Output),
		Truncated:     res.Truncated,
		Started:       started,
	}
	if rep.Err != nil {
		rec.Error = rep.Err.Error()
	}
	if rep.Outcome == runner.OutcomeOK {
		rec.ExecutionTime = Metric(rep.ExecutionTime)
		rec.Result = Metric(rep.Result)
	}
	return rec
}
