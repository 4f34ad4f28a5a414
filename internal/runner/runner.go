// Package runner supervises one external command at a time: it enforces a
// wall-clock timeout, honours an interactive skip token, and tears down the
// command's whole process group before returning.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to zero-valued Runner fields.
const (
	DefaultTimeout      = 200 * time.Second
	DefaultPollInterval = time.Second
	DefaultGracePeriod  = time.Second
	DefaultSkipToken    = "skip"
	DefaultMaxOutput    = 1 << 20 // 1 MB
)

// Runner executes commands under supervision. Runs are expected to be
// sequential; a Runner holds no per-run state.
type Runner struct {
	Timeout      time.Duration
	PollInterval time.Duration // liveness, timeout and skip checks
	GracePeriod  time.Duration // between SIGTERM and SIGKILL
	SkipToken    string        // compared case-insensitively
	Skip         SkipSource    // optional; nil disables interactive skip
	ScratchDir   string        // where output sinks are created; "" uses os.TempDir
	MaxOutput    int           // bytes of output tail kept in the Result
}

// reapTimeout bounds the wait for a leader that could not be killed.
var reapTimeout = 5 * time.Second

type state int

const (
	stateCompleted state = iota
	stateTimedOut
	stateCancelled
)

// Run executes argv and blocks until the command and its process group are
// gone. The first element is the binary name (resolved via PATH).
//
// Run never returns an error: spawn failures, non-zero exits, timeouts and
// skips are all reported through the Result's Outcome and Err, with
// supervisor errors appended to Output.
func (r *Runner) Run(ctx context.Context, argv []string) *Result {
	start := time.Now()
	res := &Result{RunID: uuid.New().String(), ExitCode: -1}
	r.run(ctx, argv, res, start)
	res.Duration = time.Since(start)
	return res
}

func (r *Runner) run(ctx context.Context, argv []string, res *Result, start time.Time) {
	if len(argv) == 0 {
		res.fail(ErrEmptyCommand)
		return
	}

	// Both streams share one file so output keeps production order.
	sink, err := os.CreateTemp(r.ScratchDir, "oocbench-run-*.log")
	if err != nil {
		res.fail(fmt.Errorf("creating output sink: %w", err))
		return
	}
	defer func() {
		_ = sink.Close()
		_ = os.Remove(sink.Name())
	}()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		res.fail(&SpawnError{Command: argv[0], Err: err})
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	st, waitErr, superviseErr := r.supervise(ctx, res.RunID, cmd.Process.Pid, done, start)

	switch st {
	case stateTimedOut:
		res.Outcome = OutcomeTimeout
		res.Err = fmt.Errorf("%w after %s", ErrTimeoutExceeded, r.timeout())
	case stateCancelled:
		res.Outcome = OutcomeSkipped
		res.Err = ErrUserCancelled
	default:
		res.Err = exitError(waitErr)
		if res.Err == nil {
			res.Outcome = OutcomeOK
		} else {
			res.Outcome = OutcomeFailed
		}
	}
	if superviseErr == nil && cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	out, truncated, err := readTail(sink, r.maxOutput())
	res.Output, res.Truncated = out, truncated
	if err != nil {
		res.fail(fmt.Errorf("reading output: %w", err))
	}
	if superviseErr != nil {
		res.fail(superviseErr)
	}
}

// supervise polls the running command until it exits, times out or is
// skipped. On timeout or skip the process group is stopped and reaped
// before returning.
func (r *Runner) supervise(ctx context.Context, runID string, pid int, done <-chan error, start time.Time) (state, error, error) {
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return stateCompleted, err, nil
		case <-ctx.Done():
			log.Printf("run %s: %v, stopping process group %d", runID, ctx.Err(), pid)
			waitErr, err := r.terminate(pid, done)
			return stateCancelled, waitErr, err
		case <-ticker.C:
			if time.Since(start) >= r.timeout() {
				log.Printf("run %s: timed out after %s, stopping process group %d", runID, r.timeout(), pid)
				waitErr, err := r.terminate(pid, done)
				return stateTimedOut, waitErr, err
			}
			if r.skipRequested() {
				log.Printf("run %s: skipped, stopping process group %d", runID, pid)
				waitErr, err := r.terminate(pid, done)
				return stateCancelled, waitErr, err
			}
		}
	}
}

// terminate sends SIGTERM to the group, waits out the grace period, then
// sends SIGKILL and reaps the leader. SIGKILL is sent even when the leader
// exits early, so descendants that ignored SIGTERM do not survive.
func (r *Runner) terminate(pid int, done <-chan error) (error, error) {
	if err := terminateGroup(pid); err != nil {
		log.Printf("terminating process group %d: %v", pid, err)
	}

	grace := time.NewTimer(r.gracePeriod())
	defer grace.Stop()

	var waitErr error
	exited := false
	select {
	case waitErr = <-done:
		exited = true
	case <-grace.C:
	}

	killErr := killGroup(pid)
	if exited {
		return waitErr, nil
	}
	if killErr == nil {
		return <-done, nil
	}

	// The leader may still exit on its own; wait a bounded time for it.
	killErr = fmt.Errorf("killing process group %d: %w", pid, killErr)
	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case waitErr = <-done:
		return waitErr, killErr
	case <-reap.C:
		return nil, fmt.Errorf("%w; process not reaped after %s", killErr, reapTimeout)
	}
}

// skipRequested drains the skip source and reports whether any pending
// token matches SkipToken.
func (r *Runner) skipRequested() bool {
	if r.Skip == nil {
		return false
	}
	want := r.skipToken()
	found := false
	for {
		tok, ok := r.Skip.Poll()
		if !ok {
			return found
		}
		if strings.EqualFold(strings.TrimSpace(tok), want) {
			found = true
		}
	}
}

func exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &NonZeroExitError{Code: ee.ExitCode()}
	}
	return fmt.Errorf("waiting for process: %w", err)
}

// readTail reads back the sink. Only the last limit bytes are kept, since
// metrics and error banners are printed at the end of a run.
func readTail(f *os.File, limit int) ([]byte, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	size := info.Size()
	var off int64
	truncated := false
	if limit > 0 && size > int64(limit) {
		off = size - int64(limit)
		truncated = true
	}
	buf := make([]byte, size-off)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	return buf[:n], truncated, nil
}

// fail marks the result failed and records err in its output.
func (res *Result) fail(err error) {
	res.Outcome = OutcomeFailed
	res.Err = err
	if len(res.Output) > 0 && res.Output[len(res.Output)-1] != '\n' {
		res.Output = append(res.Output, '\n')
	}
	res.Output = append(res.Output, "oocbench: "+err.Error()+"\n"...)
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

func (r *Runner) gracePeriod() time.Duration {
	if r.GracePeriod > 0 {
		return r.GracePeriod
	}
	return DefaultGracePeriod
}

func (r *Runner) skipToken() string {
	if r.SkipToken != "" {
		return r.SkipToken
	}
	return DefaultSkipToken
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}
