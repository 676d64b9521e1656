// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/buckleypaul/zflow/internal/runner"
)

// Call records one invocation.
type Call struct {
	Name string
	Args []string
}

// String joins the command line with spaces.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake records every call and answers through Handler. A nil Handler
// answers every call with exit code 0 and no output.
type Fake struct {
	Handler func(name string, args []string) runner.Result

	mu    sync.Mutex
	calls []Call
}

// Run implements runner.Runner.
func (f *Fake) Run(ctx context.Context, name string, args ...string) runner.Result {
	copied := append([]string(nil), args...)
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: copied})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1, Err: err}
	}
	if f.Handler == nil {
		return runner.Result{}
	}
	return f.Handler(name, copied)
}

// Calls returns a copy of all recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls whose first argument is sub.
func (f *Fake) CallsTo(sub string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if len(c.Args) > 0 && c.Args[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

// Ok is a successful result with the given output.
func Ok(output string) runner.Result {
	return runner.Result{Output: output}
}

// Fail is a failed result with the given exit code and output.
func Fail(code int, output string) runner.Result {
	return runner.Result{Output: output, ExitCode: code}
}
