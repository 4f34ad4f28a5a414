package runner

import "time"

// Outcome is the terminal classification of one run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// Result holds the output of a supervised command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	Outcome   Outcome       // terminal outcome
	ExitCode  int           // process exit code, -1 if the process was signalled or never ran
	Output    []byte        // stdout and stderr interleaved (may be truncated)
	Truncated bool          // true if output exceeded the size cap
	Duration  time.Duration // wall-clock time from spawn to reap
	Err       error         // why the run did not end ok, nil otherwise
}
