package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// Summary is the average runtime of one (mode, conf) cell.
type Summary struct {
	Mode    string
	Conf    string
	Mean    float64 // seconds
	Runs    int     // ok runs averaged
	Skipped int     // runs that did not end ok
}

// Runtime is the runtime a row contributes to a summary: the engine's own
// execution time when it printed one, the wall-clock time otherwise.
func (r Row) Runtime() float64 {
	if !r.ExecutionTime.Missing() {
		return float64(r.ExecutionTime)
	}
	return r.Elapsed
}

// Summarize averages ok runs per (mode, conf), sorted by mode then conf.
func Summarize(rows []Row) []Summary {
	type key struct{ mode, conf string }
	cells := make(map[key]*Summary)
	sums := make(map[key]float64)

	for _, r := range rows {
		k := key{r.Mode, r.Conf}
		s, ok := cells[k]
		if !ok {
			s = &Summary{Mode: r.Mode, Conf: r.Conf}
			cells[k] = s
		}
		if r.Outcome != runner.OutcomeOK {
			s.Skipped++
			continue
		}
		s.Runs++
		sums[k] += r.Runtime()
	}

	out := make([]Summary, 0, len(cells))
	for k, s := range cells {
		s.Mean = math.NaN()
		if s.Runs > 0 {
			s.Mean = sums[k] / float64(s.Runs)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mode != out[j].Mode {
			return out[i].Mode < out[j].Mode
		}
		return out[i].Conf < out[j].Conf
	})
	return out
}

// Grid lays summaries out as one series per mode over the sorted confs.
// Cells without data are NaN.
func Grid(sums []Summary) (modes, confs []string, series map[string][]float64) {
	modeSet := make(map[string]bool)
	confSet := make(map[string]bool)
	lookup := make(map[[2]string]float64)
	for _, s := range sums {
		modeSet[s.Mode] = true
		confSet[s.Conf] = true
		lookup[[2]string{s.Mode, s.Conf}] = s.Mean
	}
	modes = sortedKeys(modeSet)
	confs = sortedKeys(confSet)

	series = make(map[string][]float64, len(modes))
	for _, m := range modes {
		row := make([]float64, len(confs))
		for i, c := range confs {
			v, ok := lookup[[2]string{m, c}]
			if !ok {
				v = math.NaN()
			}
			row[i] = v
		}
		series[m] = row
	}
	return modes, confs, series
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteSummary prints the per-cell table followed by the mode x conf grid.
func WriteSummary(w io.Writer, sums []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "mode\tconf\tmean_s\truns\tnot_ok")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.Mode, s.Conf, seconds(s.Mean), s.Runs, s.Skipped)
	}
	fmt.Fprintln(tw)

	modes, confs, series := Grid(sums)
	fmt.Fprintf(tw, "mode\t%s\n", strings.Join(confs, "\t"))
	for _, m := range modes {
		cells := make([]string, len(confs))
		for i, v := range series[m] {
			cells[i] = seconds(v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", m, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func seconds(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.3f", v)
}
