// Package runner executes external tools and captures their combined output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Result bundles all output from a finished command.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
	// Err is set when the command could not be started or was cancelled.
	Err error
}

// OK reports whether the command ran and exited zero.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner executes a command and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// Exec runs commands as host processes.
type Exec struct {
	// Env replaces the process environment when non-nil.
	Env []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Echo receives output as it is produced, in addition to the captured copy.
	Echo io.Writer
}

// Run executes name with args. Stdout and stderr are merged.
func (e *Exec) Run(ctx context.Context, name string, args ...string) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	e.applyEnv(cmd)

	var output bytes.Buffer
	var w io.Writer = &output
	if e.Echo != nil {
		w = io.MultiWriter(&output, e.Echo)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	res := Result{
		Output:   output.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}

func (e *Exec) applyEnv(cmd *exec.Cmd) {
	if e.Env != nil {
		cmd.Env = e.Env
	}
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}
}

// CommandError reports a command that failed to start or exited non-zero.
// It keeps the full Result so callers can surface the tool's diagnostics.
type CommandError struct {
	Name   string
	Args   []string
	Result Result
}

func (e *CommandError) Error() string {
	cmd := e.Name
	if len(e.Args) > 0 {
		cmd += " " + e.Args[0]
	}
	if e.Result.Err != nil {
		return fmt.Sprintf("%s: %v", cmd, e.Result.Err)
	}
	return fmt.Sprintf("%s: exit status %d", cmd, e.Result.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Result.Err
}

// Check returns a *CommandError when res is not OK.
func Check(res Result, name string, args ...string) error {
	if res.OK() {
		return nil
	}
	return &CommandError{Name: name, Args: args, Result: res}
}

// Output runs a command and returns its trimmed output, or a *CommandError
// carrying the output when the command fails.
func Output(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	res := r.Run(ctx, name, args...)
	return strings.TrimSpace(res.Output), Check(res, name, args...)
}
