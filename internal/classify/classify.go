// Package classify turns captured run output into a final outcome and the
// metrics the engine prints on success.
package classify

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// Metric labels printed by the engine.
const (
	LabelExecutionTime = "execution time"
	LabelResult        = "result"
)

// DefaultMarkers are the banners the engine prints for an uncaught
// top-level exception and for a generic fatal error report.
var DefaultMarkers = []string{
	`Exception in thread "main"`,
	"An Error Occurred",
}

// ErrReportedApplication matches every ApplicationError via errors.Is.
var ErrReportedApplication = errors.New("application reported an error")

// ApplicationError is set when a run exited cleanly but printed an error
// marker.
type ApplicationError struct {
	Marker string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("output contains error marker %q", e.Marker)
}

func (e *ApplicationError) Is(target error) bool {
	return target == ErrReportedApplication
}

// Report is the classified view of one run.
type Report struct {
	Outcome       runner.Outcome
	ExecutionTime float64 // NaN when absent
	Result        float64 // NaN when absent
	Marker        string  // matched error marker, if any
	Err           error   // run error or *ApplicationError
}

// Classifier inspects run output. The zero value uses DefaultMarkers.
type Classifier struct {
	Markers []string
}

// Classify re-classifies an ok run as failed when its output contains an
// error marker, and extracts both metrics. Extraction never fails.
func (c *Classifier) Classify(res *runner.Result) Report {
	text := string(res.Output)
	rep := Report{
		Outcome:       res.Outcome,
		Err:           res.Err,
		ExecutionTime: ExtractMetric(text, LabelExecutionTime),
		Result:        ExtractMetric(text, LabelResult),
	}
	if marker := c.findMarker(text); marker != "" {
		rep.Marker = marker
		if rep.Outcome == runner.OutcomeOK {
			rep.Outcome = runner.OutcomeFailed
			rep.Err = &ApplicationError{Marker: marker}
		}
	}
	return rep
}

func (c *Classifier) findMarker(text string) string {
	markers := c.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return m
		}
	}
	return ""
}

const number = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

var metricPatterns = map[string]*regexp.Regexp{
	LabelExecutionTime: metricPattern(LabelExecutionTime),
	LabelResult:        metricPattern(LabelResult),
}

func metricPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(label) + `\s*[:=]\s*` + number)
}

// ExtractMetric returns the number following the last "label:" or
// "label =" in text, matched case-insensitively, or NaN.
func ExtractMetric(text, label string) float64 {
	re, ok := metricPatterns[label]
	if !ok {
		re = metricPattern(label)
	}
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
